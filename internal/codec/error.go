package codec

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/heungtae/codex-chat-bridge/internal/types"
)

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes the bridge's error body:
// {"error":{"type":code,"kind":kind,"message":message}}. kind may be empty.
func WriteError(w http.ResponseWriter, status int, code, kind, message string) {
	slog.Error("request failed", "status", status, "code", code, "error", message)
	WriteJSON(w, status, types.ErrorResponse{Error: types.ErrorDetail{
		Type:    code,
		Kind:    kind,
		Message: message,
	}})
}

// FormatUpstreamError describes a non-2xx upstream reply, including the
// upstream request id when one of the usual headers carries it.
func FormatUpstreamError(statusCode int, rawBody []byte, headers http.Header) string {
	status := fmt.Sprintf("%d", statusCode)
	if text := http.StatusText(statusCode); text != "" {
		status = fmt.Sprintf("%d %s", statusCode, text)
	}

	var msg string
	switch m := ExtractUpstreamErrorMessage(rawBody); {
	case m != "":
		msg = fmt.Sprintf("Upstream returned HTTP %s: %s", status, m)
	case compactBodyPreview(rawBody, 280) != "":
		msg = fmt.Sprintf("Upstream returned HTTP %s with unparsed body: %s", status, compactBodyPreview(rawBody, 280))
	default:
		msg = fmt.Sprintf("Upstream returned HTTP %s with empty error body", status)
	}

	if reqID := UpstreamRequestID(headers); reqID != "" {
		return fmt.Sprintf("%s (request_id: %s)", msg, reqID)
	}
	return msg
}

// ExtractUpstreamErrorMessage finds a human readable message in an upstream
// error body, looking through the common shapes providers use.
func ExtractUpstreamErrorMessage(rawBody []byte) string {
	trimmed := strings.TrimSpace(string(rawBody))
	if trimmed == "" || !gjson.Valid(trimmed) {
		return ""
	}
	return messageFrom(gjson.Parse(trimmed))
}

func messageFrom(v gjson.Result) string {
	if !v.IsObject() {
		return ""
	}
	for _, key := range []string{"message", "detail", "error_description", "title", "reason"} {
		if s := v.Get(key); s.Type == gjson.String && strings.TrimSpace(s.String()) != "" {
			return strings.TrimSpace(s.String())
		}
	}
	nested := v.Get("error")
	if msg := messageFrom(nested); msg != "" {
		return msg
	}
	if nested.Type == gjson.String && strings.TrimSpace(nested.String()) != "" {
		return strings.TrimSpace(nested.String())
	}
	for _, item := range v.Get("errors").Array() {
		if msg := messageFrom(item); msg != "" {
			return msg
		}
		if item.Type == gjson.String && strings.TrimSpace(item.String()) != "" {
			return strings.TrimSpace(item.String())
		}
	}
	return ""
}

func compactBodyPreview(rawBody []byte, maxLen int) string {
	trimmed := strings.TrimSpace(string(rawBody))
	if trimmed == "" {
		return ""
	}
	clean := strings.Join(strings.Fields(trimmed), " ")
	if len(clean) <= maxLen {
		return clean
	}
	return clean[:maxLen] + "..."
}

// UpstreamRequestID returns the first request id header the upstream set.
func UpstreamRequestID(headers http.Header) string {
	if headers == nil {
		return ""
	}
	for _, key := range []string{"x-request-id", "x-openai-request-id", "x-oai-request-id", "openai-request-id", "request-id", "cf-ray"} {
		if v := strings.TrimSpace(headers.Get(key)); v != "" {
			return v
		}
	}
	return ""
}
