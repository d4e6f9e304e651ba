// Package codec writes the bridge's outbound bodies: JSON replies, error
// objects and server-sent event frames.
package codec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// WriteStreamHeaders starts a server-sent event response.
func WriteStreamHeaders(w http.ResponseWriter, statusCode int) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(statusCode)
}

// SSEWriter frames events onto an http.ResponseWriter and flushes after
// each one. The first failed write, or a cancelled request context, marks
// the writer failed; every later call is a no-op returning ErrClientGone.
type SSEWriter struct {
	ctx         context.Context
	w           http.ResponseWriter
	flusher     http.Flusher
	writeFailed bool
}

// ErrClientGone is returned once a write to the caller has failed.
var ErrClientGone = errors.New("client disconnected")

// NewSSEWriter returns a writer for w bound to the request context ctx.
// w must implement http.Flusher.
func NewSSEWriter(ctx context.Context, w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support flushing")
	}
	return &SSEWriter{ctx: ctx, w: w, flusher: flusher}, nil
}

// Emit writes a named event whose data is payload encoded as JSON.
func (s *SSEWriter) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal SSE event", "event", event, "error", err)
		return err
	}
	return s.write(fmt.Sprintf("event: %s\ndata: %s\n\n", event, data))
}

// Raw re-frames an event read from upstream without decoding it. Every
// line of a multi-line payload gets its own data field.
func (s *SSEWriter) Raw(event string, data []byte) error {
	var b strings.Builder
	if event != "" {
		b.WriteString("event: ")
		b.WriteString(event)
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(string(data), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return s.write(b.String())
}

// Data writes an unnamed data-only frame, the chat completions framing.
func (s *SSEWriter) Data(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal SSE chunk", "error", err)
		return err
	}
	return s.write(fmt.Sprintf("data: %s\n\n", data))
}

// Done writes the chat stream terminator.
func (s *SSEWriter) Done() error {
	return s.write("data: [DONE]\n\n")
}

// Failed reports whether a write to the caller has failed.
func (s *SSEWriter) Failed() bool { return s.writeFailed }

func (s *SSEWriter) write(frame string) error {
	if s.writeFailed {
		return ErrClientGone
	}
	if s.ctx.Err() != nil {
		slog.Debug("client disconnected before SSE write", "error", s.ctx.Err())
		s.writeFailed = true
		return ErrClientGone
	}
	if _, err := fmt.Fprint(s.w, frame); err != nil {
		slog.Debug("client disconnected during SSE write", "error", err)
		s.writeFailed = true
		return ErrClientGone
	}
	s.flusher.Flush()
	return nil
}
