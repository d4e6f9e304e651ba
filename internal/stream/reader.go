package stream

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// MaxLineSize bounds a single SSE line.
const MaxLineSize = 4 << 20

// Reader reads SSE events from an io.Reader. It handles CRLF line endings,
// multi-line data fields and comment lines, and reports io.EOF on the
// `[DONE]` sentinel or at the end of input.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader creates a new SSE reader.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	return &Reader{scanner: scanner}
}

// Next returns the next event that carries data. Returns nil, io.EOF when done.
func (r *Reader) Next() (*Event, error) {
	var (
		name    string
		data    bytes.Buffer
		hasData bool
	)
	dispatch := func() (*Event, bool) {
		if !hasData {
			name = ""
			return nil, false
		}
		evt := &Event{Name: name, Data: bytes.Clone(data.Bytes())}
		name, hasData = "", false
		data.Reset()
		return evt, true
	}

	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if evt, ok := dispatch(); ok {
				if isDone(evt.Data) {
					return nil, io.EOF
				}
				return evt, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = strings.TrimSpace(value)
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	// Trailing event without the terminating blank line.
	if evt, ok := dispatch(); ok && !isDone(evt.Data) {
		return evt, nil
	}
	return nil, io.EOF
}

func isDone(data []byte) bool {
	return string(bytes.TrimSpace(data)) == "[DONE]"
}
