package translate

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/heungtae/codex-chat-bridge/internal/types"
)

type responsesRequest struct {
	Model             string            `json:"model"`
	Instructions      string            `json:"instructions,omitempty"`
	Input             []inputItem       `json:"input"`
	Stream            bool              `json:"stream"`
	Tools             []json.RawMessage `json:"tools,omitempty"`
	ToolChoice        json.RawMessage   `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool             `json:"parallel_tool_calls,omitempty"`
	Temperature       json.RawMessage   `json:"temperature,omitempty"`
	TopP              json.RawMessage   `json:"top_p,omitempty"`
	MaxOutputTokens   json.RawMessage   `json:"max_output_tokens,omitempty"`
	User              json.RawMessage   `json:"user,omitempty"`
}

// inputItem is a flat discriminated union: Type selects the fields in use.
type inputItem struct {
	Type      string        `json:"type"`
	Role      string        `json:"role,omitempty"`
	Content   []contentPart `json:"content,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Name      string        `json:"name,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    *string       `json:"output,omitempty"`
}

type contentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// ChatToResponses maps a chat completions request body to a Responses body.
// Leading system and developer messages become instructions.
func ChatToResponses(body []byte, stream bool) ([]byte, error) {
	root := gjson.ParseBytes(body)

	model := strings.TrimSpace(root.Get("model").String())
	if model == "" {
		return nil, badRequest("missing `model`")
	}
	messages := root.Get("messages")
	if !messages.IsArray() {
		return nil, badRequest("missing `messages` array")
	}

	out := responsesRequest{Model: model, Stream: stream, Input: []inputItem{}}

	var instructions []string
	leading := true
	for i, msg := range messages.Array() {
		if !msg.IsObject() {
			return nil, badRequest("messages[%d] must be an object", i)
		}
		role := msg.Get("role").String()

		if leading && (role == "system" || role == "developer") {
			if text := contentText(msg.Get("content")); text != "" {
				instructions = append(instructions, text)
			}
			continue
		}
		leading = false

		switch role {
		case "tool":
			callID := strings.TrimSpace(msg.Get("tool_call_id").String())
			if callID == "" {
				return nil, badRequest("messages[%d] tool message is missing `tool_call_id`", i)
			}
			output := outputText(msg.Get("content"))
			out.Input = append(out.Input, inputItem{Type: "function_call_output", CallID: callID, Output: &output})

		case "assistant":
			if text := contentText(msg.Get("content")); text != "" {
				out.Input = append(out.Input, inputItem{
					Type:    "message",
					Role:    "assistant",
					Content: []contentPart{{Type: "output_text", Text: text}},
				})
			}
			for _, call := range msg.Get("tool_calls").Array() {
				name := strings.TrimSpace(call.Get("function.name").String())
				if name == "" {
					continue
				}
				callID := strings.TrimSpace(call.Get("id").String())
				if callID == "" {
					callID = types.NewID("call_")
				}
				out.Input = append(out.Input, inputItem{
					Type:      "function_call",
					CallID:    callID,
					Name:      name,
					Arguments: argumentsText(call.Get("function.arguments")),
				})
			}

		default:
			if role == "" {
				role = "user"
			}
			parts := inputParts(msg.Get("content"))
			if len(parts) == 0 {
				continue
			}
			out.Input = append(out.Input, inputItem{Type: "message", Role: role, Content: parts})
		}
	}
	out.Instructions = strings.Join(instructions, "\n\n")

	if tools := responsesTools(root.Get("tools")); len(tools) > 0 {
		out.Tools = tools
		if choice := root.Get("tool_choice"); choice.Exists() {
			out.ToolChoice = responsesToolChoice(choice)
		}
		if p := root.Get("parallel_tool_calls"); p.IsBool() {
			parallel := p.Bool()
			out.ParallelToolCalls = &parallel
		}
	}

	out.Temperature = rawIfNumber(root.Get("temperature"))
	out.TopP = rawIfNumber(root.Get("top_p"))
	out.MaxOutputTokens = rawIfNumber(root.Get("max_completion_tokens"))
	if out.MaxOutputTokens == nil {
		out.MaxOutputTokens = rawIfNumber(root.Get("max_tokens"))
	}
	if u := root.Get("user"); u.Type == gjson.String {
		out.User = json.RawMessage(u.Raw)
	}

	return json.Marshal(out)
}

// inputParts converts chat user content into Responses input parts.
func inputParts(content gjson.Result) []contentPart {
	if content.Type == gjson.String {
		if content.String() == "" {
			return nil
		}
		return []contentPart{{Type: "input_text", Text: content.String()}}
	}
	var parts []contentPart
	for _, part := range content.Array() {
		switch part.Get("type").String() {
		case "text", "input_text":
			if text := part.Get("text").String(); text != "" {
				parts = append(parts, contentPart{Type: "input_text", Text: text})
			}
		case "image_url":
			url := part.Get("image_url.url").String()
			if url == "" {
				url = part.Get("image_url").String()
			}
			if url != "" {
				parts = append(parts, contentPart{Type: "input_image", ImageURL: url})
			}
		}
	}
	return parts
}
