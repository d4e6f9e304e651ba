package session

import (
	"errors"
	"fmt"
)

// ProtocolViolation reports upstream output the session cannot honor: a
// tool call closed without a name or call id, or a chunk addressed to an
// item or choice that was already closed.
type ProtocolViolation struct {
	Index  int
	Reason string
}

func (v *ProtocolViolation) Error() string {
	return fmt.Sprintf("upstream protocol violation at index %d: %s", v.Index, v.Reason)
}

func (v *ProtocolViolation) FailureCode() (code, kind string) {
	return "upstream_protocol_violation", "protocol_violation"
}

// failureCoder is implemented by errors that choose their own failure code.
type failureCoder interface {
	FailureCode() (code, kind string)
}

// FailureCode returns the code and kind a response.failed event carries for
// err. Errors that do not classify themselves are upstream stream errors.
func FailureCode(err error) (code, kind string) {
	var fc failureCoder
	if errors.As(err, &fc) {
		return fc.FailureCode()
	}
	return "upstream_stream_error", ""
}
