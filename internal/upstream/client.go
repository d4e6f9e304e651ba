// Package upstream sends translated requests to the configured upstream and
// classifies every failure as a TransportError.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"

	"github.com/heungtae/codex-chat-bridge/internal/codec"
	"github.com/heungtae/codex-chat-bridge/internal/headers"
)

// maxErrorBody bounds how much of a non-2xx body is kept for the error.
const maxErrorBody = 1 << 20

// Request is one upstream call.
type Request struct {
	URL    string
	Body   []byte
	Header http.Header
	// APIKey is sent as a bearer token. An empty key sends no Authorization.
	APIKey string
	Stream bool
	// Verbose logs the outgoing payload and the reply status.
	Verbose bool
	// Timeout bounds the wait for response headers and, afterwards, the idle
	// time between two body reads. Zero disables it.
	Timeout time.Duration
}

// Response is a 2xx upstream reply. Body is already content-decoded; read
// errors surface as *TransportError. Callers must close Body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Client issues upstream calls. It never retries: a partially relayed stream
// cannot be restarted without duplicating output.
type Client struct {
	base http.RoundTripper
}

// NewClient creates a client on top of base; nil selects
// http.DefaultTransport.
func NewClient(base http.RoundTripper) *Client {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Client{base: base}
}

func (c *Client) httpClient(apiKey string) *http.Client {
	if apiKey == "" {
		return &http.Client{Transport: c.base}
	}
	return &http.Client{Transport: &oauth2.Transport{
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey}),
		Base:   c.base,
	}}
}

// Send posts req and returns the reply. Non-2xx replies are read fully and
// returned as a KindBadStatus error. Cancelling ctx aborts the call and any
// body read in progress.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := context.WithCancel(ctx)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		cancel()
		return nil, &TransportError{Kind: KindConnectFailed, Err: err}
	}
	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept-Encoding", acceptEncoding)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}

	if req.Verbose {
		slog.Info("upstream.request",
			"url", req.URL,
			"stream", req.Stream,
			"headers", headers.ForLog(httpReq.Header, req.APIKey),
			"payload", string(req.Body),
		)
	}

	timer := newIdleTimer(req.Timeout, cancel)
	start := time.Now()

	resp, err := c.httpClient(req.APIKey).Do(httpReq)
	if err != nil {
		timer.stop()
		cancel()
		return nil, classify(err, timer.fired())
	}

	if req.Verbose {
		attrs := []any{"status", resp.StatusCode, "elapsed", time.Since(start).String()}
		if requestID := codec.UpstreamRequestID(resp.Header); requestID != "" {
			attrs = append(attrs, "request_id", requestID)
		}
		slog.Info("upstream.response", attrs...)
	}

	raw := &netBody{rc: resp.Body, timer: timer}
	decoded, err := decodeResponseBody(raw, resp.Header.Get("Content-Encoding"))
	if err != nil {
		timer.stop()
		cancel()
		var terr *TransportError
		if errors.As(err, &terr) {
			return nil, terr
		}
		return nil, &TransportError{Kind: KindDecodeError, Err: err}
	}
	body := &responseBody{rc: decoded, timer: timer, cancel: cancel}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
		body.Close()
		return nil, &TransportError{
			Kind:       KindBadStatus,
			StatusCode: resp.StatusCode,
			Body:       data,
			Header:     resp.Header,
		}
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// ReadAll reads a buffered reply body and closes it.
func ReadAll(resp *Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func classify(err error, timedOut bool) *TransportError {
	var terr *TransportError
	if errors.As(err, &terr) {
		return terr
	}
	if timedOut {
		return &TransportError{Kind: KindTimedOut, Err: err}
	}
	return &TransportError{Kind: KindConnectFailed, Err: err}
}

// idleTimer cancels the request when it is not reset within d.
type idleTimer struct {
	d       time.Duration
	t       *time.Timer
	didFire atomic.Bool
}

func newIdleTimer(d time.Duration, cancel context.CancelFunc) *idleTimer {
	it := &idleTimer{d: d}
	if d > 0 {
		it.t = time.AfterFunc(d, func() {
			it.didFire.Store(true)
			cancel()
		})
	}
	return it
}

func (it *idleTimer) reset() {
	if it.t != nil && !it.didFire.Load() {
		it.t.Reset(it.d)
	}
}

func (it *idleTimer) stop() {
	if it.t != nil {
		it.t.Stop()
	}
}

func (it *idleTimer) fired() bool { return it.didFire.Load() }

// netBody classifies errors of the raw connection read.
type netBody struct {
	rc    io.ReadCloser
	timer *idleTimer
}

func (b *netBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.timer.reset()
	}
	if err != nil && err != io.EOF {
		return n, classify(err, b.timer.fired())
	}
	return n, err
}

func (b *netBody) Close() error { return b.rc.Close() }

// responseBody reports content decoding failures as KindDecodeError and
// releases the request context on Close.
type responseBody struct {
	rc     io.ReadCloser
	timer  *idleTimer
	cancel context.CancelFunc
	closed bool
}

func (b *responseBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if err != nil && err != io.EOF {
		var terr *TransportError
		if !errors.As(err, &terr) {
			err = &TransportError{Kind: KindDecodeError, Err: fmt.Errorf("decode body: %w", err)}
		}
	}
	return n, err
}

// Close is safe to call more than once.
func (b *responseBody) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.timer.stop()
	err := b.rc.Close()
	b.cancel()
	return err
}
