// Package httpmsg holds the in-memory Request/Response/MultipartItem state
// shared by the connection loop, the body decoders, and the router.
package httpmsg

import (
	"crypto/tls"
	"io"
	"net"

	"github.com/curol/httpd/header"
	"github.com/google/uuid"
)

// MultipartItem is one part of a multipart/form-data body (§3). It is
// created only by the body decoder and is owned by the Request for the
// duration of handling.
type MultipartItem struct {
	Headers     header.Header
	Name        string
	Filename    string // empty for non-file fields
	ContentType string
	Data        io.ReadSeeker
}

// IsFile reports whether this part carries a filename, the §4.3 rule for
// routing it into Request.Files instead of Request.Form.
func (m *MultipartItem) IsFile() bool { return m.Filename != "" }

// Request is the mutable per-request state threaded through the handler
// stack and router (§3). Identity invariants: Path always begins with
// '/'; Headers match case-insensitively (enforced by header.Header);
// Body is readable at most once (enforced by the decoder that installs it).
type Request struct {
	Method       string
	Path         string // decoded, always begins with '/'
	OriginalPath string // pre-rewrite
	RawQuery     string
	Query        header.Values
	Headers      header.Header
	Cookies      map[string]string
	Form         header.Values // populated once the body is parsed
	Files        []*MultipartItem
	Body         io.Reader // bounded; set to nil after the multipart scanner consumes it
	RemoteAddr   net.Addr
	TLSProto     string
	TLSCert      *tls.Certificate // nil unless client cert presented

	ContentType   string
	ContentLength int64

	// UserID is a mutable tag a handler may set for downstream handlers
	// or the logger (§3).
	UserID string
	// State is the mutable inter-handler mapping (§3 "request_state").
	State map[string]any

	// CorrelationID threads a single per-request identifier through
	// logging only (§9: keep a single optional task-local for logging
	// correlation IDs — implemented here as an explicit field the
	// connection loop sets as it builds each request, rather than an
	// implicit goroutine-local).
	CorrelationID uuid.UUID

	formParsed      bool
	multipartParsed bool
}

// New builds a Request shell for line/headers already parsed by the
// connection loop; Body, Form and Files are filled in afterward by the
// body decoder.
func New(method, path, rawQuery string, headers header.Header) *Request {
	r := &Request{
		Method:        method,
		Path:          path,
		OriginalPath:  path,
		RawQuery:      rawQuery,
		Headers:       headers,
		State:         make(map[string]any),
		ContentLength: headers.ContentLength(),
	}
	mediaType, _ := headers.ContentType()
	r.ContentType = mediaType
	if cookieHeader := headers.Get("Cookie"); cookieHeader != "" {
		r.Cookies = header.RequestCookies(cookieHeader)
	} else {
		r.Cookies = map[string]string{}
	}
	q, err := header.ParseQuery(rawQuery)
	if err != nil {
		q = header.Values{}
	}
	r.Query = q
	r.Form = header.Values{}
	return r
}

// FormParsed reports whether the body decoder has already populated Form
// (either from a urlencoded body or a multipart scan).
func (r *Request) FormParsed() bool { return r.formParsed }

// MarkFormParsed is called by the body decoder once Form is populated.
func (r *Request) MarkFormParsed() { r.formParsed = true }

// MultipartParsed reports whether the multipart scanner has already run.
func (r *Request) MultipartParsed() bool { return r.multipartParsed }

// MarkMultipartParsed is called by the multipart scanner once Files/Form
// are populated from the multipart body.
func (r *Request) MarkMultipartParsed() { r.multipartParsed = true }
