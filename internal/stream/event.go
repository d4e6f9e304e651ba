package stream

import "github.com/tidwall/gjson"

// Event is one server-sent event frame. Name is the value of the `event:`
// field and is empty when the upstream omits it.
type Event struct {
	Name string
	Data []byte
}

// Type returns the event's name, falling back to the `type` field of the
// JSON payload, which both wires carry.
func (e *Event) Type() string {
	if e.Name != "" {
		return e.Name
	}
	return gjson.GetBytes(e.Data, "type").String()
}
