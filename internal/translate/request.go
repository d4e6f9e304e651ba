// Package translate maps request bodies between the Responses and Chat
// Completions wires and applies the profile's tool filters.
package translate

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/heungtae/codex-chat-bridge/internal/config"
)

// RequestTranslationError reports an inbound body that cannot be mapped.
// It is always detected before any upstream I/O.
type RequestTranslationError struct {
	Message string
}

func (e *RequestTranslationError) Error() string { return e.Message }

func badRequest(format string, args ...any) error {
	return &RequestTranslationError{Message: fmt.Sprintf(format, args...)}
}

// Request is an upstream-ready body plus the stream decisions derived from
// the inbound request.
type Request struct {
	Body  []byte
	Model string
	// Stream reports whether the caller expects a server-sent event stream.
	Stream bool
	// UpstreamStream reports whether the upstream was asked to stream. It
	// differs from Stream only when the profile forces upstream streaming.
	UpstreamStream bool
	// IncludeUsage mirrors a chat caller's stream_options.include_usage.
	IncludeUsage bool
}

// Build translates an inbound body for the profile's upstream wire.
// acceptsStream reports whether the caller's Accept header asks for
// text/event-stream; it decides the stream default of Responses requests.
func Build(body []byte, inbound config.Wire, cfg *config.Configuration, acceptsStream bool) (*Request, error) {
	if !gjson.ValidBytes(body) {
		return nil, badRequest("failed to parse request JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, badRequest("request body must be a JSON object")
	}

	req := &Request{
		Model:        root.Get("model").String(),
		Stream:       streamFlag(root, inbound, acceptsStream),
		IncludeUsage: root.Get("stream_options.include_usage").Bool(),
	}
	req.UpstreamStream = req.Stream || cfg.UpstreamStreamOnly

	filtered, err := DropTools(body, cfg.DropToolTypes())
	if err != nil {
		return nil, err
	}

	switch {
	case inbound == cfg.UpstreamWire:
		req.Body, err = sameWire(filtered, inbound, req)
	case inbound == config.WireResponses:
		req.Body, err = ResponsesToChat(filtered, req.UpstreamStream)
	default:
		req.Body, err = ChatToResponses(filtered, req.UpstreamStream)
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// streamFlag resolves the caller's stream preference. An explicit boolean
// wins. Otherwise Responses callers stream when they accept SSE and Chat
// callers do not stream.
func streamFlag(root gjson.Result, inbound config.Wire, acceptsStream bool) bool {
	v := root.Get("stream")
	switch v.Type {
	case gjson.True:
		return true
	case gjson.False:
		return false
	}
	return inbound == config.WireResponses && acceptsStream
}

func sameWire(body []byte, wire config.Wire, req *Request) ([]byte, error) {
	out, err := sjson.SetBytes(body, "stream", req.UpstreamStream)
	if err != nil {
		return nil, badRequest("failed to set stream flag: %v", err)
	}
	// A forced upstream stream on the chat wire needs usage in-band so the
	// buffered reply can report it.
	if wire == config.WireChat && req.UpstreamStream && !req.Stream {
		out, err = sjson.SetBytes(out, "stream_options.include_usage", true)
		if err != nil {
			return nil, badRequest("failed to set stream options: %v", err)
		}
	}
	return out, nil
}
