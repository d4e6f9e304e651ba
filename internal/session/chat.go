package session

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/heungtae/codex-chat-bridge/internal/stream"
	"github.com/heungtae/codex-chat-bridge/internal/types"
)

// ChatSink receives chat completion stream frames.
type ChatSink interface {
	Data(payload any) error
	Done() error
}

// EventSource yields upstream Responses events in arrival order and io.EOF
// at the end of the stream.
type EventSource interface {
	Next() (*stream.Event, error)
}

// ChatTranslator turns a Responses event stream into chat completion
// chunks. With a nil sink it only collects, and Completion returns the
// buffered chat.completion.
type ChatTranslator struct {
	sink         ChatSink
	model        string
	includeUsage bool

	id       string
	created  int64
	roleSent bool
	done     bool
	stopped  bool

	text      strings.Builder
	calls     []types.ToolCall
	callIndex map[string]int
	streamed  map[string]bool
	usage     *types.Usage
	finish    string
	err       *types.ErrorDetail
}

// NewChatTranslator creates a translator. includeUsage mirrors the caller's
// stream_options.include_usage.
func NewChatTranslator(model string, includeUsage bool, sink ChatSink) *ChatTranslator {
	return &ChatTranslator{
		sink:         sink,
		model:        model,
		includeUsage: includeUsage,
		id:           types.NewID("chatcmpl-"),
		created:      time.Now().Unix(),
		callIndex:    make(map[string]int),
		streamed:     make(map[string]bool),
	}
}

// Run consumes src until a terminal event, the end of input or an error.
// A stream that ends without response.completed is finished as if it had
// completed.
func (t *ChatTranslator) Run(src EventSource) {
	for !t.done && !t.stopped {
		evt, err := src.Next()
		if errors.Is(err, io.EOF) {
			t.complete(gjson.Result{})
			return
		}
		if err != nil {
			code, kind := FailureCode(err)
			t.fail(types.ErrorDetail{Type: code, Kind: kind, Message: err.Error()})
			return
		}
		t.Handle(evt)
	}
}

// Handle applies one upstream event.
func (t *ChatTranslator) Handle(evt *stream.Event) {
	if t.done || t.stopped {
		return
	}
	data := gjson.ParseBytes(evt.Data)

	switch evt.Type() {
	case types.EventCreated:
		if id := data.Get("response.id").String(); id != "" {
			t.id = id
		}
		if ts := data.Get("response.created_at").Int(); ts > 0 {
			t.created = ts
		}
		t.sendRole()

	case types.EventOutputTextDelta:
		delta := data.Get("delta").String()
		if delta == "" {
			return
		}
		t.sendRole()
		t.text.WriteString(delta)
		t.send(types.ChatDelta{Content: delta})

	case types.EventOutputItemAdded:
		item := data.Get("item")
		if item.Get("type").String() == "function_call" {
			t.sendRole()
			t.startCall(item, "")
		}

	case types.EventArgumentsDelta:
		itemID := data.Get("item_id").String()
		idx, ok := t.callIndex[itemID]
		delta := data.Get("delta").String()
		if !ok || delta == "" {
			return
		}
		t.streamed[itemID] = true
		t.calls[idx].Function.Arguments += delta
		t.send(types.ChatDelta{ToolCalls: []types.ToolCall{{
			Index:    types.IntPtr(idx),
			Function: types.FunctionCall{Arguments: delta},
		}}})

	case types.EventOutputItemDone:
		item := data.Get("item")
		if item.Get("type").String() != "function_call" {
			return
		}
		itemID := item.Get("id").String()
		args := item.Get("arguments").String()
		idx, ok := t.callIndex[itemID]
		if !ok {
			t.sendRole()
			t.startCall(item, args)
			return
		}
		if !t.streamed[itemID] && args != "" {
			t.send(types.ChatDelta{ToolCalls: []types.ToolCall{{
				Index:    types.IntPtr(idx),
				Function: types.FunctionCall{Arguments: args},
			}}})
		}
		if args != "" {
			t.calls[idx].Function.Arguments = args
		}

	case types.EventCompleted, "response.incomplete":
		t.complete(data.Get("response"))

	case types.EventFailed:
		e := data.Get("response.error")
		t.fail(types.ErrorDetail{
			Type:    firstNonEmpty(e.Get("code").String(), "upstream_error"),
			Kind:    e.Get("kind").String(),
			Message: firstNonEmpty(e.Get("message").String(), "upstream response failed"),
		})

	case types.EventError:
		t.fail(types.ErrorDetail{
			Type:    firstNonEmpty(data.Get("code").String(), "upstream_error"),
			Message: firstNonEmpty(data.Get("message").String(), "upstream stream error"),
		})
	}
}

// startCall registers a function call and streams its opening fragment.
func (t *ChatTranslator) startCall(item gjson.Result, args string) {
	idx := len(t.calls)
	callID := firstNonEmpty(item.Get("call_id").String(), item.Get("id").String())
	call := types.ToolCall{
		ID:       callID,
		Type:     "function",
		Function: types.FunctionCall{Name: item.Get("name").String(), Arguments: args},
	}
	t.calls = append(t.calls, call)
	t.callIndex[item.Get("id").String()] = idx

	call.Index = types.IntPtr(idx)
	t.send(types.ChatDelta{ToolCalls: []types.ToolCall{call}})
}

func (t *ChatTranslator) complete(resp gjson.Result) {
	t.sendRole()
	t.finish = "stop"
	switch {
	case len(t.calls) > 0:
		t.finish = "tool_calls"
	case resp.Get("status").String() == "incomplete":
		t.finish = "length"
	}
	if u := resp.Get("usage"); u.IsObject() {
		t.usage = &types.Usage{
			PromptTokens:     u.Get("input_tokens").Int(),
			CompletionTokens: u.Get("output_tokens").Int(),
			TotalTokens:      u.Get("total_tokens").Int(),
		}
	}
	t.done = true
	if t.sink == nil {
		return
	}

	finish := t.finish
	t.write(t.chunk(types.ChatDelta{}, &finish))
	if t.includeUsage && t.usage != nil {
		c := t.chunk(types.ChatDelta{}, nil)
		c.Choices = []types.ChatChunkChoice{}
		c.Usage = t.usage
		t.write(c)
	}
	if !t.stopped {
		if err := t.sink.Done(); err != nil {
			t.stopped = true
		}
	}
}

func (t *ChatTranslator) fail(detail types.ErrorDetail) {
	t.err = &detail
	t.done = true
	slog.Warn("chat.upstream_failed", "code", detail.Type, "error", detail.Message)
	if t.sink != nil {
		t.write(types.ErrorResponse{Error: detail})
	}
}

func (t *ChatTranslator) sendRole() {
	if t.roleSent {
		return
	}
	t.roleSent = true
	t.send(types.ChatDelta{Role: "assistant"})
}

func (t *ChatTranslator) send(delta types.ChatDelta) {
	if t.sink == nil {
		return
	}
	t.write(t.chunk(delta, nil))
}

func (t *ChatTranslator) chunk(delta types.ChatDelta, finish *string) types.ChatCompletionChunk {
	return types.ChatCompletionChunk{
		ID:      t.id,
		Object:  "chat.completion.chunk",
		Created: t.created,
		Model:   t.model,
		Choices: []types.ChatChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
}

func (t *ChatTranslator) write(payload any) {
	if t.stopped {
		return
	}
	if err := t.sink.Data(payload); err != nil {
		t.stopped = true
	}
}

// Stopped reports whether a write to the caller failed.
func (t *ChatTranslator) Stopped() bool { return t.stopped }

// Err returns the upstream failure, if the stream failed.
func (t *ChatTranslator) Err() *types.ErrorDetail { return t.err }

// Completion returns the collected chat.completion.
func (t *ChatTranslator) Completion() *types.ChatCompletion {
	msg := types.ChatResponseMsg{Role: "assistant"}
	if t.text.Len() > 0 || len(t.calls) == 0 {
		msg.Content = types.StringPtr(t.text.String())
	}
	if len(t.calls) > 0 {
		msg.ToolCalls = t.calls
	}
	finish := t.finish
	if finish == "" {
		finish = "stop"
	}
	return &types.ChatCompletion{
		ID:      t.id,
		Object:  "chat.completion",
		Created: t.created,
		Model:   t.model,
		Choices: []types.ChatChoice{{Index: 0, Message: msg, FinishReason: &finish}},
		Usage:   t.usage,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
