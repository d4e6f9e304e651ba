package types

import (
	"strings"

	"github.com/google/uuid"
)

// StringPtr returns a pointer to the given string.
func StringPtr(s string) *string {
	return &s
}

// IntPtr returns a pointer to the given int.
func IntPtr(i int) *int {
	return &i
}

// NewID returns prefix followed by a time-ordered UUID, e.g.
// "resp_bridge_0190..." or "call_0190...".
func NewID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + id.String()
}

// NewCompactID returns prefix followed by a hex UUID without dashes, the
// shape used for output item ids.
func NewCompactID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + strings.ReplaceAll(id.String(), "-", "")
}
