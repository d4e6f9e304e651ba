package translate

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/heungtae/codex-chat-bridge/internal/types"
)

// ResponseToChatCompletion converts a buffered Responses object into a
// chat.completion body. model is used when the response does not name one.
func ResponseToChatCompletion(body []byte, model string) ([]byte, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("upstream response is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	// Accept either the bare response or a response.completed envelope.
	if r := root.Get("response"); r.IsObject() {
		root = r
	}

	var text []string
	var calls []types.ToolCall
	for _, item := range root.Get("output").Array() {
		switch item.Get("type").String() {
		case "message":
			for _, part := range item.Get("content").Array() {
				if t := part.Get("text").String(); t != "" {
					text = append(text, t)
				}
			}
		case "function_call":
			callID := firstString(item, "call_id", "id")
			if callID == "" {
				callID = types.NewID("call_")
			}
			calls = append(calls, types.ToolCall{
				ID:   callID,
				Type: "function",
				Function: types.FunctionCall{
					Name:      item.Get("name").String(),
					Arguments: argumentsText(item.Get("arguments")),
				},
			})
		}
	}

	msg := types.ChatResponseMsg{Role: "assistant", ToolCalls: calls}
	if len(text) > 0 || len(calls) == 0 {
		msg.Content = types.StringPtr(strings.Join(text, ""))
	}

	finish := "stop"
	switch {
	case len(calls) > 0:
		finish = "tool_calls"
	case root.Get("status").String() == "incomplete":
		finish = "length"
	}

	if m := root.Get("model").String(); m != "" {
		model = m
	}
	created := root.Get("created_at").Int()
	if created == 0 {
		created = time.Now().Unix()
	}
	id := root.Get("id").String()
	if id == "" {
		id = types.NewID("chatcmpl-")
	}

	out := types.ChatCompletion{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []types.ChatChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: &finish,
		}},
	}
	if u := root.Get("usage"); u.IsObject() {
		out.Usage = &types.Usage{
			PromptTokens:     u.Get("input_tokens").Int(),
			CompletionTokens: u.Get("output_tokens").Int(),
			TotalTokens:      u.Get("total_tokens").Int(),
		}
	}
	return json.Marshal(out)
}
