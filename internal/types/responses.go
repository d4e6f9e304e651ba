package types

// Response is a Responses API response object, used both as the body of a
// buffered reply and inside response.* stream events.
type Response struct {
	ID        string         `json:"id"`
	Object    string         `json:"object"`
	CreatedAt int64          `json:"created_at"`
	Model     string         `json:"model,omitempty"`
	Status    string         `json:"status"`
	Output    []OutputItem   `json:"output"`
	Usage     *ResponseUsage `json:"usage"`
	Error     *ResponseError `json:"error,omitempty"`
}

// OutputItem is a single entry of Response.Output. Type selects which of the
// message or function_call fields are meaningful.
type OutputItem struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Status    string          `json:"status,omitempty"`
	Role      string          `json:"role,omitempty"`
	Content   []OutputContent `json:"content,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments *string         `json:"arguments,omitempty"`
	Error     *ResponseError  `json:"error,omitempty"`
}

// OutputContent is one part of a message output item.
type OutputContent struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	Annotations []any  `json:"annotations"`
}

// ResponseUsage holds token usage in Responses naming.
type ResponseUsage struct {
	InputTokens         int64 `json:"input_tokens"`
	InputTokensDetails  any   `json:"input_tokens_details"`
	OutputTokens        int64 `json:"output_tokens"`
	OutputTokensDetails any   `json:"output_tokens_details"`
	TotalTokens         int64 `json:"total_tokens"`
}

// ResponseError describes why a response or an output item failed.
type ResponseError struct {
	Code    string `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// ResponseEvent is the payload of a response.* server-sent event.
type ResponseEvent struct {
	Type           string      `json:"type"`
	SequenceNumber int         `json:"sequence_number"`
	Response       *Response   `json:"response,omitempty"`
	OutputIndex    *int        `json:"output_index,omitempty"`
	ContentIndex   *int        `json:"content_index,omitempty"`
	ItemID         string      `json:"item_id,omitempty"`
	Item           *OutputItem `json:"item,omitempty"`
	Delta          string      `json:"delta,omitempty"`
}

// Responses stream event names.
const (
	EventCreated         = "response.created"
	EventOutputItemAdded = "response.output_item.added"
	EventOutputTextDelta = "response.output_text.delta"
	EventOutputItemDone  = "response.output_item.done"
	EventCompleted       = "response.completed"
	EventFailed          = "response.failed"
	EventArgumentsDelta  = "response.function_call_arguments.delta"
	EventError           = "error"
)
