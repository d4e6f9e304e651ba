package translate

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/heungtae/codex-chat-bridge/internal/types"
)

type chatRequest struct {
	Model             string               `json:"model"`
	Messages          []types.ChatMessage  `json:"messages"`
	Stream            bool                 `json:"stream"`
	StreamOptions     *types.StreamOptions `json:"stream_options,omitempty"`
	Tools             []json.RawMessage    `json:"tools,omitempty"`
	ToolChoice        json.RawMessage      `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool                `json:"parallel_tool_calls,omitempty"`
	Temperature       json.RawMessage      `json:"temperature,omitempty"`
	TopP              json.RawMessage      `json:"top_p,omitempty"`
	MaxTokens         json.RawMessage      `json:"max_tokens,omitempty"`
	User              json.RawMessage      `json:"user,omitempty"`
}

// ResponsesToChat maps a Responses request body to a chat completions body.
func ResponsesToChat(body []byte, stream bool) ([]byte, error) {
	root := gjson.ParseBytes(body)

	model := strings.TrimSpace(root.Get("model").String())
	if model == "" {
		return nil, badRequest("missing `model`")
	}

	out := chatRequest{Model: model, Stream: stream}
	if stream {
		out.StreamOptions = &types.StreamOptions{IncludeUsage: true}
	}

	if instructions := root.Get("instructions").String(); strings.TrimSpace(instructions) != "" {
		out.Messages = append(out.Messages, types.ChatMessage{Role: "system", Content: instructions})
	}

	input := root.Get("input")
	switch {
	case input.Type == gjson.String:
		out.Messages = append(out.Messages, types.ChatMessage{Role: "user", Content: input.String()})
	case input.IsArray():
		msgs, err := inputItemsToMessages(input.Array())
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, msgs...)
	default:
		return nil, badRequest("missing `input` array")
	}
	if out.Messages == nil {
		out.Messages = []types.ChatMessage{}
	}

	if tools := chatTools(root.Get("tools")); len(tools) > 0 {
		out.Tools = tools
		out.ToolChoice = json.RawMessage(`"auto"`)
		if choice := root.Get("tool_choice"); choice.Exists() {
			out.ToolChoice = chatToolChoice(choice)
		}
		parallel := true
		if p := root.Get("parallel_tool_calls"); p.IsBool() {
			parallel = p.Bool()
		}
		out.ParallelToolCalls = &parallel
	}

	out.Temperature = rawIfNumber(root.Get("temperature"))
	out.TopP = rawIfNumber(root.Get("top_p"))
	out.MaxTokens = rawIfNumber(root.Get("max_output_tokens"))
	if u := root.Get("user"); u.Type == gjson.String {
		out.User = json.RawMessage(u.Raw)
	}

	return json.Marshal(out)
}

// inputItemsToMessages converts Responses input items in order. Consecutive
// function_call items join the preceding assistant message so their
// function_call_output replies directly follow the message that issued them.
func inputItemsToMessages(items []gjson.Result) ([]types.ChatMessage, error) {
	var msgs []types.ChatMessage

	for i, item := range items {
		if item.Type == gjson.String {
			msgs = append(msgs, types.ChatMessage{Role: "user", Content: item.String()})
			continue
		}
		if !item.IsObject() {
			return nil, badRequest("input[%d] must be an object", i)
		}

		kind := item.Get("type").String()
		if kind == "" && item.Get("role").Exists() {
			kind = "message"
		}

		switch kind {
		case "message":
			role := chatRole(item.Get("role").String())
			text := contentText(item.Get("content"))
			if text == "" {
				continue
			}
			msgs = append(msgs, types.ChatMessage{Role: role, Content: text})

		case "function_call":
			name := strings.TrimSpace(item.Get("name").String())
			if name == "" {
				slog.Warn("skipping function_call input item without name", "index", i)
				continue
			}
			callID := firstString(item, "call_id", "id")
			if callID == "" {
				callID = types.NewID("call_")
			}
			call := types.ToolCall{
				ID:   callID,
				Type: "function",
				Function: types.FunctionCall{
					Name:      name,
					Arguments: argumentsText(item.Get("arguments")),
				},
			}
			if n := len(msgs); n > 0 && msgs[n-1].Role == "assistant" {
				msgs[n-1].ToolCalls = append(msgs[n-1].ToolCalls, call)
				continue
			}
			msgs = append(msgs, types.ChatMessage{Role: "assistant", Content: "", ToolCalls: []types.ToolCall{call}})

		case "function_call_output", "custom_tool_call_output", "mcp_tool_call_output":
			callID := firstString(item, "call_id", "id")
			if callID == "" {
				return nil, badRequest("input[%d] %s is missing `call_id`", i, kind)
			}
			output := item.Get("output")
			if !output.Exists() {
				output = item.Get("result")
			}
			msgs = append(msgs, types.ChatMessage{Role: "tool", ToolCallID: callID, Content: outputText(output)})

		case "reasoning":
			// Chat upstreams have no slot for reasoning items.
			continue

		default:
			slog.Warn("skipping unsupported input item", "index", i, "type", kind)
		}
	}
	return msgs, nil
}

func chatRole(role string) string {
	switch role {
	case "", "user":
		return "user"
	case "developer":
		return "system"
	}
	return role
}

// contentText flattens message content. Text parts (input_text, output_text,
// text) are joined with newlines; other parts and empty strings are skipped.
func contentText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if !content.IsArray() {
		return ""
	}
	var parts []string
	for _, part := range content.Array() {
		switch part.Get("type").String() {
		case "input_text", "output_text", "text":
			if text := part.Get("text").String(); text != "" {
				parts = append(parts, text)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// outputText renders a tool result for a chat tool message.
func outputText(v gjson.Result) string {
	switch {
	case !v.Exists():
		return ""
	case v.Type == gjson.String:
		return v.String()
	case v.IsArray():
		var parts []string
		for _, part := range v.Array() {
			if part.Type == gjson.String {
				parts = append(parts, part.String())
				continue
			}
			if text := part.Get("text"); text.Exists() {
				parts = append(parts, text.String())
			}
		}
		return strings.Join(parts, "\n")
	}
	return v.Raw
}

// argumentsText returns function arguments as the JSON string chat expects.
func argumentsText(v gjson.Result) string {
	switch {
	case !v.Exists():
		return "{}"
	case v.Type == gjson.String:
		return v.String()
	}
	return v.Raw
}

func firstString(v gjson.Result, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(v.Get(k).String()); s != "" {
			return s
		}
	}
	return ""
}

func rawIfNumber(v gjson.Result) json.RawMessage {
	if v.Type != gjson.Number {
		return nil
	}
	return json.RawMessage(v.Raw)
}
