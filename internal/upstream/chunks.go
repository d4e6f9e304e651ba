package upstream

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/heungtae/codex-chat-bridge/internal/stream"
)

// ChatChunks decodes a chat completions SSE body into chunk batches, one
// batch per upstream event.
type ChatChunks struct {
	reader *stream.Reader
	slots  *toolSlots
}

// NewChatChunks reads chat chunks from r.
func NewChatChunks(r io.Reader) *ChatChunks {
	return &ChatChunks{reader: stream.NewReader(r), slots: newToolSlots()}
}

// Next returns the chunks of the next event that carries any. It returns
// io.EOF at `[DONE]` or end of input, and a *TransportError otherwise.
func (c *ChatChunks) Next() ([]stream.Chunk, error) {
	for {
		evt, err := c.reader.Next()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			var terr *TransportError
			if errors.As(err, &terr) {
				return nil, terr
			}
			return nil, &TransportError{Kind: KindDecodeError, Err: err}
		}
		if len(strings.TrimSpace(string(evt.Data))) == 0 {
			continue
		}
		chunks, err := decodeChatChunk(evt.Data, c.slots)
		if err != nil {
			return nil, err
		}
		if len(chunks) > 0 {
			return chunks, nil
		}
	}
}

// DecodeChatChunk decodes one chat.completion.chunk payload. Within a
// choice the order is text, tool call fragments, finish; usage comes last.
// Tool calls without an index get one slot per distinct id.
func DecodeChatChunk(data []byte) ([]stream.Chunk, error) {
	return decodeChatChunk(data, newToolSlots())
}

func decodeChatChunk(data []byte, slots *toolSlots) ([]stream.Chunk, error) {
	if !gjson.ValidBytes(data) {
		return nil, &TransportError{Kind: KindDecodeError, Err: fmt.Errorf("invalid chat chunk: %.200s", data)}
	}
	root := gjson.ParseBytes(data)
	if e := root.Get("error"); e.Exists() && e.Type != gjson.Null {
		msg := e.Get("message").String()
		if msg == "" {
			msg = e.String()
		}
		return nil, &TransportError{Kind: KindBadStatus, Body: data, Err: fmt.Errorf("upstream stream error: %s", msg)}
	}

	var out []stream.Chunk
	for _, choice := range root.Get("choices").Array() {
		idx := int(choice.Get("index").Int())
		delta := choice.Get("delta")
		if !delta.Exists() {
			delta = choice.Get("message")
		}

		if text := delta.Get("content"); text.Type == gjson.String && text.String() != "" {
			out = append(out, stream.Chunk{Kind: stream.ChunkText, Index: idx, Text: text.String()})
		}
		for pos, tc := range delta.Get("tool_calls").Array() {
			callID := tc.Get("id").String()
			var toolIdx int
			if v := tc.Get("index"); v.Type == gjson.Number {
				toolIdx = slots.explicit(idx, int(v.Int()), callID)
			} else {
				toolIdx = slots.implicit(idx, pos, callID)
			}
			out = append(out, stream.Chunk{
				Kind:      stream.ChunkToolCall,
				Index:     toolIdx,
				Choice:    idx,
				CallID:    callID,
				Name:      tc.Get("function.name").String(),
				Arguments: rawArguments(tc.Get("function.arguments")),
			})
		}
		if fr := choice.Get("finish_reason"); fr.Type == gjson.String && fr.String() != "" {
			out = append(out, stream.Chunk{Kind: stream.ChunkFinish, Index: idx, FinishReason: fr.String()})
		}
	}
	if u := stream.UsageFromChat(root.Get("usage")); u != nil {
		out = append(out, stream.Chunk{Kind: stream.ChunkUsage, Usage: u})
	}
	return out, nil
}

// DecodeChatCompletion decodes a buffered chat.completion into the chunks an
// equivalent stream would have produced.
func DecodeChatCompletion(body []byte) ([]stream.Chunk, error) {
	return DecodeChatChunk(body)
}

// toolSlots numbers the tool calls of one stream per choice. Some
// upstreams omit the index and send each parallel call whole; those calls
// are told apart by id.
type toolSlots struct {
	byID map[string]int
	last map[int]int
	next map[int]int
}

func newToolSlots() *toolSlots {
	return &toolSlots{byID: map[string]int{}, last: map[int]int{}, next: map[int]int{}}
}

func (t *toolSlots) key(choice int, id string) string {
	return fmt.Sprintf("%d/%s", choice, id)
}

func (t *toolSlots) use(choice, slot int, id string) int {
	if id != "" {
		t.byID[t.key(choice, id)] = slot
	}
	t.last[choice] = slot
	if slot >= t.next[choice] {
		t.next[choice] = slot + 1
	}
	return slot
}

func (t *toolSlots) explicit(choice, index int, id string) int {
	return t.use(choice, index, id)
}

// implicit places an index-less fragment. A known id keeps its slot and a
// new id opens the next one. A fragment without id continues the previous
// call when it leads its chunk, and otherwise opens a new slot.
func (t *toolSlots) implicit(choice, pos int, id string) int {
	if id != "" {
		if slot, ok := t.byID[t.key(choice, id)]; ok {
			return t.use(choice, slot, id)
		}
		return t.use(choice, t.next[choice], id)
	}
	if last, ok := t.last[choice]; ok && pos == 0 {
		return t.use(choice, last, id)
	}
	return t.use(choice, t.next[choice], id)
}

func rawArguments(v gjson.Result) string {
	switch {
	case !v.Exists() || v.Type == gjson.Null:
		return ""
	case v.Type == gjson.String:
		return v.String()
	}
	return v.Raw
}

// BufferedChunks replays a decoded batch as a single-shot chunk source.
type BufferedChunks struct {
	chunks []stream.Chunk
	done   bool
}

// NewBufferedChunks wraps chunks decoded from a buffered reply.
func NewBufferedChunks(chunks []stream.Chunk) *BufferedChunks {
	return &BufferedChunks{chunks: chunks}
}

// Next returns every chunk once, then io.EOF.
func (b *BufferedChunks) Next() ([]stream.Chunk, error) {
	if b.done {
		return nil, io.EOF
	}
	b.done = true
	return b.chunks, nil
}
