// Package pipeline runs one inbound request through the bridge: translate
// the body for the active profile, call the upstream, and relay or
// translate the reply back in the caller's wire.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/heungtae/codex-chat-bridge/internal/codec"
	"github.com/heungtae/codex-chat-bridge/internal/config"
	"github.com/heungtae/codex-chat-bridge/internal/headers"
	"github.com/heungtae/codex-chat-bridge/internal/metrics"
	"github.com/heungtae/codex-chat-bridge/internal/session"
	"github.com/heungtae/codex-chat-bridge/internal/translate"
	"github.com/heungtae/codex-chat-bridge/internal/upstream"
)

// Sender performs upstream calls. *upstream.Client implements it.
type Sender interface {
	Send(ctx context.Context, req *upstream.Request) (*upstream.Response, error)
}

// Pipeline orchestrates request processing through the
// translate → upstream → relay/translate flow.
type Pipeline struct {
	Upstream Sender
	Metrics  *metrics.Metrics
}

// Call is one inbound request bound to the profile that was active when it
// arrived. A profile switch never affects a call in flight.
type Call struct {
	Context context.Context
	Inbound config.Wire
	Body    []byte
	Header  http.Header
	Profile string
	Config  *config.Configuration
	// AcceptsStream reports whether the caller's Accept header lists
	// text/event-stream.
	AcceptsStream bool
}

// exchange is the state shared by the relay helpers of one call.
type exchange struct {
	call *Call
	req  *translate.Request
	resp *upstream.Response
}

// Execute serves call on w.
func (p *Pipeline) Execute(w http.ResponseWriter, call *Call) {
	if call.Context == nil {
		call.Context = context.Background()
	}
	cfg := call.Config
	outcome := p.execute(w, call)
	p.Metrics.ObserveRequest(string(call.Inbound), string(cfg.UpstreamWire), outcome)
}

func (p *Pipeline) execute(w http.ResponseWriter, call *Call) string {
	cfg := call.Config

	req, err := translate.Build(call.Body, call.Inbound, cfg, call.AcceptsStream)
	if err != nil {
		codec.WriteError(w, http.StatusBadRequest, "invalid_request", "", err.Error())
		return metrics.OutcomeBadRequest
	}

	if cfg.Verbose {
		slog.Info("bridge.request",
			"profile", call.Profile,
			"inbound_wire", call.Inbound,
			"upstream_wire", cfg.UpstreamWire,
			"model", req.Model,
			"stream", req.Stream,
			"upstream_stream", req.UpstreamStream,
			"include_usage", req.IncludeUsage,
		)
	}

	upReq := &upstream.Request{
		URL:     cfg.UpstreamURL,
		Body:    req.Body,
		Header:  headers.Outbound(cfg.StaticHeaders(), cfg.ForwardHeaders(), call.Header),
		APIKey:  os.Getenv(cfg.APIKeyEnv),
		Stream:  req.UpstreamStream,
		Verbose: cfg.Verbose,
		Timeout: cfg.UpstreamTimeout,
	}

	start := time.Now()
	resp, err := p.Upstream.Send(call.Context, upReq)
	if err != nil {
		return p.upstreamFailed(w, call, req, err)
	}
	p.Metrics.ObserveUpstream(string(cfg.UpstreamWire), time.Since(start))
	defer resp.Body.Close()

	x := &exchange{call: call, req: req, resp: resp}
	if cfg.UpstreamWire == config.WireResponses {
		return p.fromResponses(w, x)
	}
	return p.fromChat(w, x)
}

// upstreamFailed reports a failure that happened before any reply byte was
// relayed. A streaming Responses caller receives it as the only event of a
// stream; everyone else gets a JSON error with a matching status.
func (p *Pipeline) upstreamFailed(w http.ResponseWriter, call *Call, req *translate.Request, err error) string {
	var terr *upstream.TransportError
	if !errors.As(err, &terr) {
		terr = &upstream.TransportError{Kind: upstream.KindConnectFailed, Err: err}
	}
	p.Metrics.UpstreamError(string(terr.Kind))
	slog.Warn("upstream.failed", "profile", call.Profile, "kind", terr.Kind, "error", terr.Error())

	if call.Inbound == config.WireResponses && req.Stream {
		sse, ok := p.startStream(call.Context, w)
		if !ok {
			return metrics.OutcomeUpstreamError
		}
		sess := session.New(req.Model, p.emitter(sse))
		sess.Fail(terr)
		return metrics.OutcomeUpstreamError
	}

	code, kind := terr.FailureCode()
	codec.WriteError(w, terr.HTTPStatus(), code, kind, terr.Error())
	return metrics.OutcomeUpstreamError
}

// fromChat handles replies of a Chat Completions upstream.
func (p *Pipeline) fromChat(w http.ResponseWriter, x *exchange) string {
	inbound := x.call.Inbound

	if !x.req.UpstreamStream {
		body, err := upstream.ReadAll(x.resp)
		if err != nil {
			return p.readFailed(w, err)
		}
		if inbound == config.WireChat {
			return writeRawJSON(w, body)
		}
		chunks, err := upstream.DecodeChatCompletion(body)
		if err != nil {
			return p.readFailed(w, err)
		}
		sess := session.New(x.req.Model, session.Discard)
		sess.Run(upstream.NewBufferedChunks(chunks))
		return p.writeSession(w, sess)
	}

	switch {
	case inbound == config.WireChat && x.req.Stream:
		return p.relayChatStream(w, x)

	case inbound == config.WireChat:
		// The profile forced an upstream stream the caller did not ask for.
		sess := session.New(x.req.Model, session.Discard)
		sess.Run(upstream.NewChatChunks(x.resp.Body))
		p.Metrics.ProtocolViolations(sess.Violations())
		if f := sess.Failure(); f != nil {
			codec.WriteError(w, failureStatus(f.Code), f.Code, f.Kind, f.Message)
			return metrics.OutcomeStreamFailed
		}
		encoded, err := json.Marshal(sess.Response())
		if err != nil {
			codec.WriteError(w, http.StatusInternalServerError, "internal_error", "", err.Error())
			return metrics.OutcomeStreamFailed
		}
		out, err := translate.ResponseToChatCompletion(encoded, x.req.Model)
		if err != nil {
			codec.WriteError(w, http.StatusInternalServerError, "internal_error", "", err.Error())
			return metrics.OutcomeStreamFailed
		}
		return writeRawJSON(w, out)

	case x.req.Stream:
		sse, ok := p.startStream(x.call.Context, w)
		if !ok {
			return metrics.OutcomeClientGone
		}
		sess := session.New(x.req.Model, p.emitter(sse))
		sess.Run(upstream.NewChatChunks(x.resp.Body))
		return p.sessionOutcome(sess)

	default:
		sess := session.New(x.req.Model, session.Discard)
		sess.Run(upstream.NewChatChunks(x.resp.Body))
		return p.writeSession(w, sess)
	}
}

// writeSession writes the outcome of a buffered session as a JSON reply.
func (p *Pipeline) writeSession(w http.ResponseWriter, sess *session.Session) string {
	p.Metrics.ProtocolViolations(sess.Violations())
	if f := sess.Failure(); f != nil {
		codec.WriteError(w, failureStatus(f.Code), f.Code, f.Kind, f.Message)
		return metrics.OutcomeStreamFailed
	}
	codec.WriteJSON(w, http.StatusOK, sess.Response())
	return metrics.OutcomeOK
}

func (p *Pipeline) sessionOutcome(sess *session.Session) string {
	p.Metrics.ProtocolViolations(sess.Violations())
	switch {
	case sess.Stopped():
		slog.Info("bridge.client_gone", "response_id", sess.ID())
		return metrics.OutcomeClientGone
	case sess.Failure() != nil:
		return metrics.OutcomeStreamFailed
	}
	return metrics.OutcomeOK
}

// readFailed reports a failure while reading a buffered upstream reply.
func (p *Pipeline) readFailed(w http.ResponseWriter, err error) string {
	var terr *upstream.TransportError
	if !errors.As(err, &terr) {
		terr = &upstream.TransportError{Kind: upstream.KindDecodeError, Err: err}
	}
	p.Metrics.UpstreamError(string(terr.Kind))
	code, kind := terr.FailureCode()
	codec.WriteError(w, terr.HTTPStatus(), code, kind, terr.Error())
	return metrics.OutcomeUpstreamError
}

// startStream writes the event-stream headers and returns the writer.
// Writes stop once ctx is cancelled.
func (p *Pipeline) startStream(ctx context.Context, w http.ResponseWriter) (*codec.SSEWriter, bool) {
	sse, err := codec.NewSSEWriter(ctx, w)
	if err != nil {
		codec.WriteError(w, http.StatusInternalServerError, "internal_error", "", "Streaming not supported")
		return nil, false
	}
	codec.WriteStreamHeaders(w, http.StatusOK)
	return sse, true
}

// emitter writes session events to sse and counts them.
func (p *Pipeline) emitter(sse *codec.SSEWriter) session.Emitter {
	return session.EmitterFunc(func(event string, payload any) error {
		if err := sse.Emit(event, payload); err != nil {
			return err
		}
		p.Metrics.StreamEvent(event)
		return nil
	})
}

func failureStatus(code string) int {
	if code == "upstream_timeout" {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func writeRawJSON(w http.ResponseWriter, body []byte) string {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
	return metrics.OutcomeOK
}
