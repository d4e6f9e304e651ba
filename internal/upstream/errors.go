package upstream

import (
	"fmt"
	"net/http"

	"github.com/heungtae/codex-chat-bridge/internal/codec"
)

// Kind classifies a TransportError.
type Kind string

const (
	KindConnectFailed Kind = "connect_failed"
	KindTimedOut      Kind = "timed_out"
	KindBadStatus     Kind = "bad_status"
	KindDecodeError   Kind = "decode_error"
)

// Code is the error type reported to callers for this kind.
func (k Kind) Code() string {
	switch k {
	case KindTimedOut:
		return "upstream_timeout"
	case KindBadStatus:
		return "upstream_error"
	case KindDecodeError:
		return "upstream_decode_error"
	}
	return "upstream_transport_error"
}

// TransportError is any failure after an upstream call was attempted.
type TransportError struct {
	Kind Kind
	// StatusCode, Body and Header are set for KindBadStatus.
	StatusCode int
	Body       []byte
	Header     http.Header
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s: %v", e.Kind, e.Err)
	}
	if e.Kind == KindBadStatus {
		return codec.FormatUpstreamError(e.StatusCode, e.Body, e.Header)
	}
	return "upstream " + string(e.Kind)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FailureCode returns the code and kind carried by a response.failed event.
func (e *TransportError) FailureCode() (code, kind string) {
	return e.Kind.Code(), string(e.Kind)
}

// HTTPStatus is the status used when the error is reported synchronously.
func (e *TransportError) HTTPStatus() int {
	switch e.Kind {
	case KindTimedOut:
		return http.StatusGatewayTimeout
	case KindBadStatus:
		if e.StatusCode >= 400 {
			return e.StatusCode
		}
	}
	return http.StatusBadGateway
}
