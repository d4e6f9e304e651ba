// Package session turns upstream chat chunks into the ordered response.*
// event stream of the Responses wire, and Responses events back into chat
// completion chunks.
//
// A Session is owned by one request and is not safe for concurrent use.
package session

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/heungtae/codex-chat-bridge/internal/stream"
	"github.com/heungtae/codex-chat-bridge/internal/types"
)

// MaxArgumentBytes caps the accumulated arguments of one tool call.
const MaxArgumentBytes = 1 << 20

// State is the lifecycle of a session.
type State int

const (
	StateCreated State = iota
	StateStreaming
	StateCompleted
	StateFailed
)

// ItemKind is the kind of an output item.
type ItemKind int

const (
	KindMessage ItemKind = iota
	KindFunctionCall
)

// ItemState is the lifecycle of an output item. Message items are opened
// and announced by their first text; function calls stay pending until
// they close and are announced then.
type ItemState int

const (
	ItemPending ItemState = iota
	ItemOpen
	ItemClosed
)

// OutputItem is one unit of output tracked through its lifecycle.
type OutputItem struct {
	Index  int
	ID     string
	Kind   ItemKind
	State  ItemState
	Choice int

	CallID    string
	Name      string
	Violation *ProtocolViolation

	text      strings.Builder
	arguments strings.Builder
	truncated bool
}

// Text returns the text accumulated so far.
func (it *OutputItem) Text() string { return it.text.String() }

// Arguments returns the tool call arguments accumulated so far.
func (it *OutputItem) Arguments() string { return it.arguments.String() }

type toolKey struct {
	choice int
	index  int
}

// Session is the translation state of one response.
type Session struct {
	id        string
	model     string
	createdAt int64
	emitter   Emitter

	state      State
	stopped    bool
	seq        int
	items      []*OutputItem
	texts      map[int]*OutputItem
	tools      map[toolKey]*OutputItem
	finished   map[int]bool
	usage      *stream.Usage
	failure    *types.ResponseError
	response   *types.Response
	violations int
}

// New creates a session reporting model and writing events to emitter.
func New(model string, emitter Emitter) *Session {
	if emitter == nil {
		emitter = Discard
	}
	return &Session{
		id:        types.NewID("resp_bridge_"),
		model:     model,
		createdAt: time.Now().Unix(),
		emitter:   emitter,
		texts:     make(map[int]*OutputItem),
		tools:     make(map[toolKey]*OutputItem),
		finished:  make(map[int]bool),
	}
}

// ID returns the response id.
func (s *Session) ID() string { return s.id }

// State returns the session state.
func (s *Session) State() State { return s.state }

// Done reports whether the session reached a terminal state or lost its
// caller. Nothing is emitted once Done is true.
func (s *Session) Done() bool {
	return s.stopped || s.state == StateCompleted || s.state == StateFailed
}

// Stopped reports whether an emitter write failed.
func (s *Session) Stopped() bool { return s.stopped }

// Items returns the output items in index order.
func (s *Session) Items() []*OutputItem { return s.items }

// Violations counts the protocol violations seen so far.
func (s *Session) Violations() int { return s.violations }

// Response returns the final response once the session completed.
func (s *Session) Response() *types.Response { return s.response }

// Failure returns the failure detail once the session failed.
func (s *Session) Failure() *types.ResponseError { return s.failure }

// Start emits response.created. It is a no-op unless the session is new.
func (s *Session) Start() {
	if s.state != StateCreated || s.stopped {
		return
	}
	s.state = StateStreaming
	s.emit(types.ResponseEvent{Type: types.EventCreated, Response: s.snapshot("in_progress", nil)})
}

// Apply feeds one upstream chunk. Chunks must arrive in upstream order.
func (s *Session) Apply(c stream.Chunk) {
	if s.Done() {
		return
	}
	if s.state == StateCreated {
		s.Start()
	}
	switch c.Kind {
	case stream.ChunkText:
		s.applyText(c)
	case stream.ChunkToolCall:
		s.applyToolCall(c)
	case stream.ChunkFinish:
		s.finishChoice(c.Index)
	case stream.ChunkUsage:
		s.usage = c.Usage
	}
}

func (s *Session) applyText(c stream.Chunk) {
	if c.Text == "" {
		return
	}
	if s.finished[c.Index] {
		s.Fail(s.violation(c.Index, "text after the choice finished"))
		return
	}
	it := s.texts[c.Index]
	if it == nil {
		it = s.newItem(KindMessage, c.Index, "msg_")
		s.texts[c.Index] = it
		it.State = ItemOpen
		s.emit(types.ResponseEvent{
			Type:        types.EventOutputItemAdded,
			OutputIndex: types.IntPtr(it.Index),
			Item:        s.itemPayload(it, "in_progress"),
		})
	}
	it.text.WriteString(c.Text)
	s.emit(types.ResponseEvent{
		Type:         types.EventOutputTextDelta,
		ItemID:       it.ID,
		OutputIndex:  types.IntPtr(it.Index),
		ContentIndex: types.IntPtr(0),
		Delta:        c.Text,
	})
}

func (s *Session) applyToolCall(c stream.Chunk) {
	if s.finished[c.Choice] {
		s.Fail(s.violation(c.Index, "tool call fragment after the choice finished"))
		return
	}
	key := toolKey{choice: c.Choice, index: c.Index}
	it := s.tools[key]
	if it == nil {
		it = s.newItem(KindFunctionCall, c.Choice, "fc_")
		s.tools[key] = it
	}
	if it.CallID == "" && c.CallID != "" {
		it.CallID = c.CallID
	}
	if it.Name == "" && c.Name != "" {
		it.Name = c.Name
	}
	if c.Arguments == "" || it.truncated {
		return
	}
	if it.arguments.Len()+len(c.Arguments) > MaxArgumentBytes {
		it.truncated = true
		slog.Warn("session.arguments_truncated",
			"response_id", s.id,
			"output_index", it.Index,
			"name", it.Name,
			"limit", MaxArgumentBytes,
		)
		return
	}
	it.arguments.WriteString(c.Arguments)
}

// finishChoice closes every open item of a choice in index order.
func (s *Session) finishChoice(choice int) {
	s.finished[choice] = true
	for _, it := range s.items {
		if it.Choice != choice || it.State == ItemClosed {
			continue
		}
		s.closeItem(it)
		if s.Done() {
			return
		}
	}
}

func (s *Session) closeItem(it *OutputItem) {
	if it.Kind == KindFunctionCall {
		if it.Name == "" || it.CallID == "" {
			missing := "name"
			if it.Name != "" {
				missing = "call id"
			}
			it.Violation = s.violation(it.Index, "tool call closed without "+missing)
		}
		it.State = ItemOpen
		s.emit(types.ResponseEvent{
			Type:        types.EventOutputItemAdded,
			OutputIndex: types.IntPtr(it.Index),
			Item:        s.itemPayload(it, "in_progress"),
		})
	}
	it.State = ItemClosed
	s.emit(types.ResponseEvent{
		Type:        types.EventOutputItemDone,
		OutputIndex: types.IntPtr(it.Index),
		Item:        s.itemPayload(it, ""),
	})
}

// Complete force-closes items still open and emits response.completed.
func (s *Session) Complete() {
	if s.Done() {
		return
	}
	if s.state == StateCreated {
		s.Start()
	}
	for _, it := range s.items {
		if it.State != ItemClosed {
			s.closeItem(it)
		}
		if s.stopped {
			return
		}
	}
	s.state = StateCompleted
	s.response = s.snapshot("completed", s.usage)
	s.emit(types.ResponseEvent{Type: types.EventCompleted, Response: s.response})
}

// Fail emits response.failed for err. Called before Start, the failure is
// the only event of the session.
func (s *Session) Fail(err error) {
	if s.Done() {
		return
	}
	code, kind := FailureCode(err)
	s.failure = &types.ResponseError{Code: code, Kind: kind, Message: err.Error()}
	s.state = StateFailed
	resp := s.snapshot("failed", s.usage)
	resp.Error = s.failure
	s.emit(types.ResponseEvent{Type: types.EventFailed, Response: resp})
}

// ChunkSource yields upstream chunks in arrival order. It returns io.EOF at
// the natural end of the stream.
type ChunkSource interface {
	Next() ([]stream.Chunk, error)
}

// Run drives the session from src until it is done: io.EOF completes the
// session and any other error fails it.
func (s *Session) Run(src ChunkSource) {
	s.Start()
	for !s.Done() {
		chunks, err := src.Next()
		for _, c := range chunks {
			s.Apply(c)
			if s.Done() {
				return
			}
		}
		switch {
		case err == io.EOF:
			s.Complete()
		case err != nil:
			s.Fail(err)
		}
	}
}

func (s *Session) newItem(kind ItemKind, choice int, prefix string) *OutputItem {
	it := &OutputItem{
		Index:  len(s.items),
		ID:     types.NewCompactID(prefix),
		Kind:   kind,
		Choice: choice,
	}
	s.items = append(s.items, it)
	return it
}

func (s *Session) violation(index int, reason string) *ProtocolViolation {
	s.violations++
	v := &ProtocolViolation{Index: index, Reason: reason}
	slog.Warn("session.protocol_violation", "response_id", s.id, "output_index", index, "reason", reason)
	return v
}

// itemPayload renders an item. An empty status means the item's final
// status.
func (s *Session) itemPayload(it *OutputItem, status string) *types.OutputItem {
	out := &types.OutputItem{ID: it.ID, Status: status}
	if status == "" {
		out.Status = "completed"
		if it.Violation != nil {
			out.Status = "incomplete"
			code, kind := it.Violation.FailureCode()
			out.Error = &types.ResponseError{Code: code, Kind: kind, Message: it.Violation.Error()}
		}
	}

	switch it.Kind {
	case KindMessage:
		out.Type = "message"
		out.Role = "assistant"
		if it.State == ItemClosed {
			out.Content = []types.OutputContent{{Type: "output_text", Text: it.Text(), Annotations: []any{}}}
		}
	case KindFunctionCall:
		out.Type = "function_call"
		out.CallID = it.CallID
		out.Name = it.Name
		args := it.Arguments()
		out.Arguments = &args
	}
	return out
}

// snapshot renders the response object with every closed item.
func (s *Session) snapshot(status string, usage *stream.Usage) *types.Response {
	resp := &types.Response{
		ID:        s.id,
		Object:    "response",
		CreatedAt: s.createdAt,
		Model:     s.model,
		Status:    status,
		Output:    []types.OutputItem{},
	}
	for _, it := range s.items {
		if it.State == ItemClosed {
			resp.Output = append(resp.Output, *s.itemPayload(it, ""))
		}
	}
	if usage != nil {
		resp.Usage = &types.ResponseUsage{
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
			TotalTokens:  usage.TotalTokens,
		}
	}
	return resp
}

func (s *Session) emit(evt types.ResponseEvent) {
	if s.stopped {
		return
	}
	evt.SequenceNumber = s.seq
	s.seq++
	if err := s.emitter.Emit(evt.Type, evt); err != nil {
		s.stopped = true
		slog.Debug("session.emitter_stopped", "response_id", s.id, "error", err)
	}
}
