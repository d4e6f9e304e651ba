package pipeline

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/heungtae/codex-chat-bridge/internal/codec"
	"github.com/heungtae/codex-chat-bridge/internal/config"
	"github.com/heungtae/codex-chat-bridge/internal/metrics"
	"github.com/heungtae/codex-chat-bridge/internal/session"
	"github.com/heungtae/codex-chat-bridge/internal/stream"
	"github.com/heungtae/codex-chat-bridge/internal/translate"
	"github.com/heungtae/codex-chat-bridge/internal/types"
	"github.com/heungtae/codex-chat-bridge/internal/upstream"
)

// fromResponses handles replies of a Responses upstream.
func (p *Pipeline) fromResponses(w http.ResponseWriter, x *exchange) string {
	inbound := x.call.Inbound

	if !x.req.UpstreamStream {
		body, err := upstream.ReadAll(x.resp)
		if err != nil {
			return p.readFailed(w, err)
		}
		if inbound == config.WireResponses {
			return writeRawJSON(w, body)
		}
		out, err := translate.ResponseToChatCompletion(body, x.req.Model)
		if err != nil {
			return p.readFailed(w, err)
		}
		return writeRawJSON(w, out)
	}

	switch {
	case inbound == config.WireResponses && x.req.Stream:
		return p.relayResponsesStream(w, x)

	case inbound == config.WireResponses:
		return p.collectCompleted(w, x)

	case x.req.Stream:
		sse, ok := p.startStream(x.call.Context, w)
		if !ok {
			return metrics.OutcomeClientGone
		}
		tr := session.NewChatTranslator(x.req.Model, x.req.IncludeUsage, sse)
		tr.Run(stream.NewReader(x.resp.Body))
		switch {
		case tr.Stopped():
			return metrics.OutcomeClientGone
		case tr.Err() != nil:
			return metrics.OutcomeStreamFailed
		}
		return metrics.OutcomeOK

	default:
		tr := session.NewChatTranslator(x.req.Model, false, nil)
		tr.Run(stream.NewReader(x.resp.Body))
		if e := tr.Err(); e != nil {
			codec.WriteError(w, failureStatus(e.Type), e.Type, e.Kind, e.Message)
			return metrics.OutcomeStreamFailed
		}
		codec.WriteJSON(w, http.StatusOK, tr.Completion())
		return metrics.OutcomeOK
	}
}

// relayResponsesStream forwards upstream Responses events unchanged. The
// relay always ends on a terminal event: a read failure, or an upstream
// that closes without one, ends it with a synthesized response.failed.
func (p *Pipeline) relayResponsesStream(w http.ResponseWriter, x *exchange) string {
	sse, ok := p.startStream(x.call.Context, w)
	if !ok {
		return metrics.OutcomeClientGone
	}

	reader := stream.NewReader(x.resp.Body)
	relay := &responsesRelay{sse: sse, model: x.req.Model}
	for {
		evt, err := reader.Next()
		if errors.Is(err, io.EOF) {
			slog.Warn("upstream.stream_truncated", "profile", x.call.Profile, "response_id", relay.responseID)
			p.Metrics.ProtocolViolations(1)
			return p.endRelay(relay.fail("upstream_protocol_violation", "protocol_violation",
				"upstream stream ended without a terminal event"))
		}
		if err != nil {
			if x.call.Context.Err() != nil {
				return metrics.OutcomeClientGone
			}
			code, kind := session.FailureCode(err)
			slog.Warn("upstream.stream_failed", "profile", x.call.Profile, "code", code, "error", err)
			return p.endRelay(relay.fail(code, kind, err.Error()))
		}

		relay.observe(evt.Data)
		if err := sse.Raw(evt.Name, evt.Data); err != nil {
			return metrics.OutcomeClientGone
		}
		name := evt.Type()
		p.Metrics.StreamEvent(name)
		switch name {
		case types.EventCompleted, types.EventFailed, "response.incomplete":
			return metrics.OutcomeOK
		}
	}
}

// responsesRelay tracks what a synthesized response.failed needs: the
// upstream response id and the next sequence number.
type responsesRelay struct {
	sse        *codec.SSEWriter
	model      string
	responseID string
	nextSeq    int
}

func (r *responsesRelay) observe(data []byte) {
	root := gjson.ParseBytes(data)
	if id := root.Get("response.id").String(); id != "" {
		r.responseID = id
	}
	if seq := root.Get("sequence_number"); seq.Exists() {
		r.nextSeq = int(seq.Int()) + 1
	}
}

func (r *responsesRelay) fail(code, kind, message string) error {
	if r.responseID == "" {
		r.responseID = types.NewID("resp_bridge_")
	}
	return r.sse.Emit(types.EventFailed, types.ResponseEvent{
		Type:           types.EventFailed,
		SequenceNumber: r.nextSeq,
		Response: &types.Response{
			ID:     r.responseID,
			Object: "response",
			Model:  r.model,
			Status: "failed",
			Output: []types.OutputItem{},
			Error:  &types.ResponseError{Code: code, Kind: kind, Message: message},
		},
	})
}

// endRelay reports the outcome of a relay closed by a synthesized failure.
func (p *Pipeline) endRelay(err error) string {
	if err != nil {
		return metrics.OutcomeClientGone
	}
	p.Metrics.StreamEvent(types.EventFailed)
	return metrics.OutcomeStreamFailed
}

// collectCompleted answers a buffered Responses caller from a forced
// upstream stream: the reply is the response object of response.completed.
func (p *Pipeline) collectCompleted(w http.ResponseWriter, x *exchange) string {
	reader := stream.NewReader(x.resp.Body)
	for {
		evt, err := reader.Next()
		if errors.Is(err, io.EOF) {
			codec.WriteError(w, http.StatusBadGateway, "upstream_protocol_violation", "protocol_violation",
				"upstream stream ended before response.completed")
			return metrics.OutcomeStreamFailed
		}
		if err != nil {
			return p.readFailed(w, err)
		}

		data := gjson.ParseBytes(evt.Data)
		switch evt.Type() {
		case types.EventCompleted, "response.incomplete":
			if resp := data.Get("response"); resp.IsObject() {
				return writeRawJSON(w, []byte(resp.Raw))
			}
		case types.EventFailed:
			e := data.Get("response.error")
			code := e.Get("code").String()
			if code == "" {
				code = "upstream_error"
			}
			msg := e.Get("message").String()
			if msg == "" {
				msg = "upstream response failed"
			}
			codec.WriteError(w, http.StatusBadGateway, code, e.Get("kind").String(), msg)
			return metrics.OutcomeStreamFailed
		case types.EventError:
			codec.WriteError(w, http.StatusBadGateway, "upstream_error", "", data.Get("message").String())
			return metrics.OutcomeStreamFailed
		}
	}
}

// relayChatStream forwards upstream chat chunks unchanged and terminates
// the stream with [DONE]. A read failure ends it with an error frame.
func (p *Pipeline) relayChatStream(w http.ResponseWriter, x *exchange) string {
	sse, ok := p.startStream(x.call.Context, w)
	if !ok {
		return metrics.OutcomeClientGone
	}

	reader := stream.NewReader(x.resp.Body)
	for {
		evt, err := reader.Next()
		if errors.Is(err, io.EOF) {
			if sse.Done() != nil {
				return metrics.OutcomeClientGone
			}
			return metrics.OutcomeOK
		}
		if err != nil {
			if x.call.Context.Err() != nil {
				return metrics.OutcomeClientGone
			}
			code, kind := session.FailureCode(err)
			slog.Warn("upstream.stream_failed", "profile", x.call.Profile, "code", code, "error", err)
			sse.Data(types.ErrorResponse{Error: types.ErrorDetail{Type: code, Kind: kind, Message: err.Error()}})
			return metrics.OutcomeStreamFailed
		}
		if err := sse.Raw(evt.Name, evt.Data); err != nil {
			return metrics.OutcomeClientGone
		}
	}
}
