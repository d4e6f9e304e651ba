package stream

import "github.com/tidwall/gjson"

// Usage holds token counts in Responses naming.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// UsageFromChat reads a chat `usage` object (prompt/completion tokens).
// Returns nil when the value is absent or not an object.
func UsageFromChat(v gjson.Result) *Usage {
	if !v.IsObject() {
		return nil
	}
	u := &Usage{
		InputTokens:  v.Get("prompt_tokens").Int(),
		OutputTokens: v.Get("completion_tokens").Int(),
		TotalTokens:  v.Get("total_tokens").Int(),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	return u
}

// UsageFromResponses reads a Responses `usage` object (input/output tokens).
func UsageFromResponses(v gjson.Result) *Usage {
	if !v.IsObject() {
		return nil
	}
	u := &Usage{
		InputTokens:  v.Get("input_tokens").Int(),
		OutputTokens: v.Get("output_tokens").Int(),
		TotalTokens:  v.Get("total_tokens").Int(),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	return u
}
