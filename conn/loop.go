// Package conn implements the per-connection state machine (§4.4):
// ACCEPTED -> READING_HEADERS -> [READING_BODY?] -> DISPATCHING -> WRITING
// -> (KEEP_ALIVE? READING_HEADERS : CLOSING).
package conn

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/curol/httpd/body"
	"github.com/curol/httpd/frame"
	"github.com/curol/httpd/handler"
	"github.com/curol/httpd/header"
	"github.com/curol/httpd/httperr"
	"github.com/curol/httpd/httpmsg"
	"github.com/curol/httpd/logging"
	"github.com/curol/httpd/rcontext"
)

// Config bounds the timeouts, sizes, and keep-alive behavior of one
// connection loop (§4.4, §6). It is the subset of config.Config the loop
// needs, kept local so this package does not import config.
type Config struct {
	MaxLineBytes   int
	MaxHeaderBytes int
	MaxPostSize    int64

	MaxURLEncodedFormSize     int64
	AutoParseMultipartFormData bool

	RequestIdleTimeout       time.Duration
	RequestHeaderReadTimeout time.Duration
	MaxProcessingTime        time.Duration
	KeepAliveMaxRequests     int64

	AllowHTTPMethodOverride bool
}

// Loop drives one accepted connection through its request/response
// cycles until keep-alive is exhausted or the connection closes.
type Loop struct {
	netConn net.Conn
	fr      *frame.Reader
	cfg     Config
	stack   *handler.Stack
	logger  logging.Logger
	store   rcontext.SessionStore

	requestsServed atomic.Int64
}

// New builds a Loop around an accepted socket.
func New(netConn net.Conn, cfg Config, stack *handler.Stack, logger logging.Logger, store rcontext.SessionStore) *Loop {
	return &Loop{
		netConn: netConn,
		fr:      frame.NewConn(netConn),
		cfg:     cfg,
		stack:   stack,
		logger:  logger,
		store:   store,
	}
}

// Serve runs the connection loop until the connection closes, the
// keep-alive budget is exhausted, or parent is cancelled (listener-level
// cancellation propagating to every connection, §5).
func (l *Loop) Serve(parent context.Context) {
	defer l.netConn.Close()
	for {
		if parent.Err() != nil {
			return
		}
		if !l.serveOne(parent) {
			return
		}
	}
}

// serveOne runs exactly one READING_HEADERS..WRITING cycle and reports
// whether the connection should continue (keep-alive).
func (l *Loop) serveOne(parent context.Context) bool {
	startedAt := time.Now()

	lines, err := l.fr.ReadHeaderBlock(l.cfg.MaxLineBytes, l.cfg.MaxHeaderBytes, l.cfg.RequestIdleTimeout)
	if err != nil {
		// EMPTY_STREAM_CLOSED and CLIENT_DISCONNECTED mean no request was
		// ever identifiable; close silently (§7, §4.1). A block that was
		// simply too large (or otherwise already carries a mapped status)
		// still gets that status written before closing (§8 boundary
		// scenario 1: oversize headers get 431, not a silent close).
		if shouldRespondToHeaderReadError(err) {
			l.writeBareError(err)
		}
		return false
	}
	if len(lines) == 0 {
		return false
	}

	req, httpVersion, parseErr := l.buildRequest(lines)
	if parseErr != nil {
		l.writeBareError(parseErr)
		return false
	}
	req.RemoteAddr = l.netConn.RemoteAddr()
	req.CorrelationID = uuid.New()

	cbw := newConnBodyWriter(l.netConn)
	res := httpmsg.NewResponse(cbw)
	res.HTTPVersion = httpVersion
	defer cbw.finish()

	served := l.requestsServed.Inc()
	keepAliveExhausted := l.cfg.KeepAliveMaxRequests > 0 && served >= l.cfg.KeepAliveMaxRequests
	res.KeepAlive = l.wantsKeepAlive(req, httpVersion) && !keepAliveExhausted

	if err := l.readBody(req); err != nil {
		l.finishRequest(parent, req, res, startedAt, err)
		return false
	}

	if l.logger != nil {
		l.logger.LogRequestStarted(req)
	}

	dispatchErr := l.dispatch(parent, req, res)
	l.finishRequest(parent, req, res, startedAt, dispatchErr)

	return res.KeepAlive
}

// buildRequest parses the request line plus headers already framed by
// ReadHeaderBlock (§4.2), returning the request and the wire HTTP version
// string the connection loop needs for response framing decisions.
func (l *Loop) buildRequest(lines [][]byte) (*httpmsg.Request, string, error) {
	rl, err := header.ParseRequestLine(string(lines[0]))
	if err != nil {
		return nil, "", httperr.Wrap(httperr.BadRequest, "malformed request line", err)
	}
	h := header.New()
	for _, line := range lines[1:] {
		name, value, ok := header.ParseHeaderLine(string(line))
		if !ok {
			return nil, "", httperr.New(httperr.BadRequest, "malformed header line")
		}
		h.Set(name, value)
	}
	method := rl.Method
	if l.cfg.AllowHTTPMethodOverride {
		if override := h.Get("X-HTTP-Method"); override != "" {
			method = override
		}
	}
	req := httpmsg.New(method, rl.Path, rl.RawQuery, h)
	return req, normalizeVersion(rl.Version), nil
}

func normalizeVersion(raw string) string {
	if strings.TrimSpace(raw) == "HTTP/1.0" {
		return "HTTP/1.0"
	}
	return "HTTP/1.1"
}

// readBody implements §4.3's bounded-stream mode and, when configured,
// eager multipart parsing; url-encoded and JSON bodies are parsed lazily
// by the dispatcher the first time a Form/Body-sourced parameter needs
// them.
func (l *Loop) readBody(req *httpmsg.Request) error {
	if req.ContentLength <= 0 {
		return nil
	}
	bounded, err := body.NewBoundedReader(l.fr, req.ContentLength, l.cfg.MaxPostSize, l.cfg.RequestIdleTimeout)
	if err != nil {
		return err
	}
	req.Body = bounded

	if body.IsMultipart(req.ContentType) && l.cfg.AutoParseMultipartFormData {
		_, params := header.ParseContentType(req.Headers.Get("Content-Type"))
		boundary := params["boundary"]
		if boundary == "" {
			return httperr.New(httperr.BadRequest, "multipart/form-data without boundary parameter")
		}
		limits := body.MultipartLimits{
			MaxPostSize:   l.cfg.MaxPostSize,
			MaxItems:      1000,
			MaxLineBytes:  l.cfg.MaxLineBytes,
			MaxItemHeader: l.cfg.MaxHeaderBytes,
			IdleTimeout:   l.cfg.RequestIdleTimeout,
		}
		files, form, err := body.ScanMultipart(l.fr, boundary, limits)
		if err != nil {
			return err
		}
		req.Files = files
		req.Form = form
		req.MarkFormParsed()
		req.MarkMultipartParsed()
		req.Body = nil
	}
	return nil
}

// dispatch runs DISPATCHING+WRITING (§4.4), racing the handler stack
// against max_processing_time, resettable via ctx.ResetProcessingDeadline.
func (l *Loop) dispatch(parent context.Context, req *httpmsg.Request, res *httpmsg.Response) error {
	deadlineCtx, cancel := context.WithCancel(parent)
	defer cancel()

	var mu sync.Mutex
	timer := time.AfterFunc(l.cfg.MaxProcessingTime, cancel)
	defer timer.Stop()
	reset := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		timer.Reset(d)
	}

	ctx := rcontext.New(deadlineCtx, req, res, sessionID(req), l.store, reset)

	_, err := l.stack.Run(ctx)
	if err != nil && deadlineCtx.Err() != nil && parent.Err() == nil {
		return httperr.New(httperr.Timeout, "processing deadline exceeded")
	}
	return err
}

// finishRequest maps a dispatch error to a response (§7) and flushes
// headers if nothing was written yet, then logs the outcome. Errors after
// headers are already sent are not converted into a further status —
// the connection simply closes (§7: "headers cannot be rewound").
func (l *Loop) finishRequest(parent context.Context, req *httpmsg.Request, res *httpmsg.Response, startedAt time.Time, err error) {
	var writeErr error
	switch {
	case res.HasSentHeaders():
		// nothing to do; any error here just means the connection closes
	case err != nil:
		writeErr = l.writeMappedError(res, err)
	default:
		writeErr = res.FlushHeadersOnly()
	}
	full := multierr.Append(err, writeErr)

	if l.logger == nil {
		return
	}
	ctx := rcontext.New(context.Background(), req, res, sessionID(req), l.store, func(time.Duration) {})
	l.logger.LogRequest(ctx, full, startedAt, time.Since(startedAt))
}

// writeMappedError implements §7's HttpException/other-fault mapping.
func (l *Loop) writeMappedError(res *httpmsg.Response, err error) error {
	if e, ok := httperr.As(err); ok {
		_ = res.SetStatus(e.Code, e.Message)
		_, writeErr := res.Write([]byte(e.Message))
		return writeErr
	}
	_ = res.SetStatus(500, "")
	_, writeErr := res.Write([]byte("internal error"))
	return writeErr
}

// shouldRespondToHeaderReadError reports whether a header-block read
// failure gets a mapped status rather than a silent close: HEADER_TOO_LARGE,
// BAD_REQUEST and TIMEOUT are answered; every other kind, and any error
// that is not an *httperr.Error, closes silently. Whether a request line
// was read before the failure is not checked.
func shouldRespondToHeaderReadError(err error) bool {
	e, ok := httperr.As(err)
	if !ok {
		return false
	}
	switch e.Kind {
	case httperr.HeaderTooLarge, httperr.BadRequest, httperr.Timeout:
		return true
	default:
		return false
	}
}

// writeBareError handles a request-line/header failure: no request object
// exists yet, so the loop writes a minimal response directly over a
// throwaway Response, with the error's mapped status (400 when the error
// carries none).
func (l *Loop) writeBareError(err error) {
	cbw := newConnBodyWriter(l.netConn)
	defer cbw.finish()
	res := httpmsg.NewResponse(cbw)
	res.KeepAlive = false
	code, msg := 400, err.Error()
	if e, ok := httperr.As(err); ok {
		code, msg = e.Code, e.Message
	}
	_ = res.SetStatus(code, "")
	_, _ = res.Write([]byte(msg))
}

// wantsKeepAlive resolves §9's open question: HTTP/1.1 defaults to
// persistent unless "Connection: close" is explicit; HTTP/1.0 defaults to
// close unless "Connection: keep-alive" is explicit.
func (l *Loop) wantsKeepAlive(req *httpmsg.Request, httpVersion string) bool {
	conn := strings.ToLower(req.Headers.Get("Connection"))
	if httpVersion == "HTTP/1.0" {
		return conn == "keep-alive"
	}
	return conn != "close"
}

func sessionID(req *httpmsg.Request) string {
	if id, ok := req.Cookies["session_id"]; ok {
		return id
	}
	return ""
}
