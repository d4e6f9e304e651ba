package session

// Emitter receives the events of a session in order. An error means the
// caller can no longer be reached; the session stops emitting after it.
type Emitter interface {
	Emit(event string, payload any) error
}

// Discard drops every event. Buffered requests run a session with it and
// read the outcome from Response or Failure.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(string, any) error { return nil }

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(event string, payload any) error

func (f EmitterFunc) Emit(event string, payload any) error { return f(event, payload) }
