// Package body implements the three request-body decoding modes of §4.3:
// a length-bounded byte stream, application/x-www-form-urlencoded
// parsing, and a streaming multipart/form-data boundary scanner.
package body

import (
	"io"
	"time"

	"github.com/curol/httpd/frame"
	"github.com/curol/httpd/httperr"
)

// BoundedReader yields exactly N bytes (the declared Content-Length) and
// then EOF (§4.3 "Bounded stream").
type BoundedReader struct {
	fr          *frame.Reader
	remaining   int64
	idleTimeout time.Duration
}

// NewBoundedReader validates contentLength against maxPostSize before any
// byte is read, per the §8 invariant "if Content-Length(R) > max_post_size
// then the server returns 413 without reading the body".
func NewBoundedReader(fr *frame.Reader, contentLength, maxPostSize int64, idleTimeout time.Duration) (*BoundedReader, error) {
	if maxPostSize > 0 && contentLength > maxPostSize {
		return nil, httperr.New(httperr.EntityTooLarge, "content-length exceeds max_post_size")
	}
	return &BoundedReader{fr: fr, remaining: contentLength, idleTimeout: idleTimeout}, nil
}

func (b *BoundedReader) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		return 0, io.EOF
	}
	want := int64(len(p))
	if want > b.remaining {
		want = b.remaining
	}
	chunk, err := b.fr.ReadExactly(int(want), b.idleTimeout)
	n := copy(p, chunk)
	b.remaining -= int64(n)
	return n, err
}

// ReadAllBounded reads the entire bounded body into memory, enforcing
// maxSize as it progresses (used by the urlencoded-form and JSON-body
// decoders, which both need the full payload).
func ReadAllBounded(r io.Reader, maxSize int64) ([]byte, error) {
	lr := &io.LimitedReader{R: r, N: maxSize + 1}
	buf, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) > maxSize {
		return nil, httperr.New(httperr.EntityTooLarge, "body exceeds configured size limit")
	}
	return buf, nil
}
