package httpmsg

import (
	"fmt"
	"io"

	"github.com/curol/httpd/header"
	"go.uber.org/atomic"
)

// BodyWriter is the narrow interface the connection loop supplies to a
// Response so it can frame bytes as chunked or length-delimited without
// the Response needing to know which.
type BodyWriter interface {
	io.Writer
	// Flush is called once, lazily, the first time any header or body
	// byte must actually reach the wire.
	Flush(headerBlock []byte) error
}

// Response is the mutable per-request response state (§3). Once
// wroteHeaders is true, all header/cookie mutations fail — checked via an
// atomic so a timeout goroutine can safely probe it without a data race
// with the handler goroutine that is still writing (§5, Design Notes
// on cooperative cancellation never forcibly terminating a handler).
type Response struct {
	StatusCode    int
	StatusMessage string // optional override of the default reason phrase
	Headers       header.Header
	Cookies       []header.Cookie
	HTTPVersion   string
	ContentType   string
	ContentLength int64 // -1 means unknown (chunked)
	KeepAlive     bool
	InternalRedirect bool

	wroteHeaders atomic.Bool
	out          BodyWriter
}

// NewResponse returns a 200-OK response writing to out.
func NewResponse(out BodyWriter) *Response {
	return &Response{
		StatusCode:    200,
		Headers:       header.New(),
		HTTPVersion:   "HTTP/1.1",
		ContentLength: -1,
		KeepAlive:     true,
		out:           out,
	}
}

// HasSentHeaders reports the has_sent_headers invariant (§3).
func (r *Response) HasSentHeaders() bool { return r.wroteHeaders.Load() }

var errHeadersSent = fmt.Errorf("httpmsg: headers already sent")

// SetHeader mutates a response header; fails once headers are flushed.
func (r *Response) SetHeader(k, v string) error {
	if r.wroteHeaders.Load() {
		return errHeadersSent
	}
	r.Headers.Set(k, v)
	return nil
}

// SetCookie appends a cookie to the response's ordered cookie sequence;
// fails once headers are flushed.
func (r *Response) SetCookie(c header.Cookie) error {
	if r.wroteHeaders.Load() {
		return errHeadersSent
	}
	r.Cookies = append(r.Cookies, c)
	return nil
}

// SetStatus sets the status code and optional message override; fails
// once headers are flushed.
func (r *Response) SetStatus(code int, message string) error {
	if r.wroteHeaders.Load() {
		return errHeadersSent
	}
	r.StatusCode = code
	r.StatusMessage = message
	return nil
}

// reasonPhrase returns StatusMessage if set, else a table lookup, else
// "Status".
func (r *Response) reasonPhrase() string {
	if r.StatusMessage != "" {
		return r.StatusMessage
	}
	if p, ok := reasonPhrases[r.StatusCode]; ok {
		return p
	}
	return "Status"
}

var reasonPhrases = map[int]string{
	200: "OK", 201: "Created", 204: "No Content",
	301: "Moved Permanently", 302: "Found", 304: "Not Modified",
	400: "Bad Request", 401: "Unauthorized", 403: "Forbidden",
	404: "Not Found", 405: "Method Not Allowed", 408: "Request Timeout",
	409: "Conflict", 413: "Payload Too Large", 431: "Request Header Fields Too Large",
	500: "Internal Server Error", 501: "Not Implemented", 503: "Service Unavailable",
}

// headerBlock renders the status line, headers, and Set-Cookie lines as
// the bytes that precede the body on the wire.
func (r *Response) headerBlock() []byte {
	var buf []byte
	buf = append(buf, []byte(r.HTTPVersion)...)
	buf = append(buf, ' ')
	buf = fmt.Appendf(buf, "%d %s\r\n", r.StatusCode, r.reasonPhrase())
	if r.ContentType != "" && r.Headers.Get("Content-Type") == "" {
		r.Headers.Set("Content-Type", r.ContentType)
	}
	if r.ContentLength >= 0 {
		r.Headers.Set("Content-Length", fmt.Sprintf("%d", r.ContentLength))
	} else if r.HTTPVersion == "HTTP/1.0" {
		// HTTP/1.0 clients don't understand chunked framing (§4.4): fall
		// back to the connection close delimiting the body instead.
		r.KeepAlive = false
	} else {
		r.Headers.Set("Transfer-Encoding", "chunked")
	}
	if r.KeepAlive {
		r.Headers.Set("Connection", "keep-alive")
	} else {
		r.Headers.Set("Connection", "close")
	}
	for _, k := range r.Headers.Keys() {
		buf = fmt.Appendf(buf, "%s: %s\r\n", k, r.Headers.Get(k))
	}
	for _, c := range r.Cookies {
		buf = fmt.Appendf(buf, "Set-Cookie: %s\r\n", c.String())
	}
	buf = append(buf, '\r', '\n')
	return buf
}

// Write implements io.Writer: the first call flushes the header block,
// subsequent calls stream body bytes through the connection loop's
// framing (chunked or length-delimited, decided by ContentLength at the
// moment of the first write, per §4.4).
func (r *Response) Write(p []byte) (int, error) {
	if !r.wroteHeaders.Swap(true) {
		if err := r.out.Flush(r.headerBlock()); err != nil {
			return 0, err
		}
	}
	return r.out.Write(p)
}

// FlushHeadersOnly sends the header block with no body, for responses
// like 204/304 or HEAD requests, without requiring a Write call.
func (r *Response) FlushHeadersOnly() error {
	if r.wroteHeaders.Swap(true) {
		return nil
	}
	return r.out.Flush(r.headerBlock())
}
