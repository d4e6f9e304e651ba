package upstream

import (
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// acceptEncoding is advertised on every upstream request. Setting it turns
// off net/http's transparent gzip handling, so bodies are decoded here.
const acceptEncoding = "gzip, br, zstd"

// decodeResponseBody wraps body with a decoder for the given
// Content-Encoding. Closing the result closes body.
func decodeResponseBody(body io.ReadCloser, contentEncoding string) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			body.Close()
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return &decodedBody{Reader: zr, closeDecoder: zr.Close, body: body}, nil
	case "br":
		return &decodedBody{Reader: brotli.NewReader(body), body: body}, nil
	case "zstd":
		zr, err := zstd.NewReader(body)
		if err != nil {
			body.Close()
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return &decodedBody{Reader: zr, closeDecoder: func() error { zr.Close(); return nil }, body: body}, nil
	case "deflate":
		zr, err := zlib.NewReader(body)
		if err != nil {
			body.Close()
			return nil, fmt.Errorf("deflate: %w", err)
		}
		return &decodedBody{Reader: zr, closeDecoder: zr.Close, body: body}, nil
	}
	body.Close()
	return nil, fmt.Errorf("unsupported content encoding %q", contentEncoding)
}

type decodedBody struct {
	io.Reader
	closeDecoder func() error
	body         io.Closer
}

func (d *decodedBody) Close() error {
	if d.closeDecoder != nil {
		d.closeDecoder()
	}
	return d.body.Close()
}
