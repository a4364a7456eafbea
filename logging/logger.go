// Package logging implements the Logger contract (§6): a pre-dispatch
// hook and a post-dispatch hook, backed by structured zap logging.
package logging

import (
	"strings"
	"time"

	"github.com/Shopify/goreferrer"
	"go.uber.org/zap"

	"github.com/curol/httpd/httpmsg"
	"github.com/curol/httpd/rcontext"
)

// Logger is the stable logging seam named in §6.
type Logger interface {
	// LogRequestStarted is called once, before dispatch, if the
	// implementation wants a pre-dispatch record.
	LogRequestStarted(req *httpmsg.Request)
	// LogRequest is called once per request after dispatch completes
	// (successfully or not).
	LogRequest(ctx *rcontext.Context, err error, startedAt time.Time, duration time.Duration)
}

// ZapLogger implements Logger over a *zap.Logger.
type ZapLogger struct {
	base *zap.Logger
}

// NewZapLogger wraps base. A nil base falls back to zap.NewNop so the
// connection loop never has to nil-check its logger.
func NewZapLogger(base *zap.Logger) *ZapLogger {
	if base == nil {
		base = zap.NewNop()
	}
	return &ZapLogger{base: base}
}

// LogRequestStarted emits a debug-level line before the request is
// dispatched, tagged with its correlation ID.
func (l *ZapLogger) LogRequestStarted(req *httpmsg.Request) {
	l.base.Debug("request started",
		zap.String("correlation_id", req.CorrelationID.String()),
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.String("remote_addr", remoteAddrString(req)),
	)
}

// LogRequest emits one structured line per completed request, at error
// level when err is non-nil (§7: "a full-detail log entry" for faults),
// info otherwise. EMPTY_STREAM_CLOSED connections never reach here: the
// connection loop closes them without logging anything.
func (l *ZapLogger) LogRequest(ctx *rcontext.Context, err error, startedAt time.Time, duration time.Duration) {
	fields := []zap.Field{
		zap.String("correlation_id", ctx.Req.CorrelationID.String()),
		zap.String("method", ctx.Req.Method),
		zap.String("path", ctx.Req.Path),
		zap.Int("status", ctx.Res.StatusCode),
		zap.Duration("duration", duration),
		zap.String("user_id", ctx.Req.UserID),
	}
	if domain := refererDomain(ctx.Req.Headers.Get("Referer")); domain != "" {
		fields = append(fields, zap.String("referer_domain", domain))
	}
	for k, v := range ctx.LogData() {
		fields = append(fields, zap.String("data."+k, v))
	}
	if err != nil {
		l.base.Error("request failed", append(fields, zap.Error(err))...)
		return
	}
	l.base.Info("request completed", fields...)
}

func remoteAddrString(req *httpmsg.Request) string {
	if req.RemoteAddr == nil {
		return ""
	}
	return req.RemoteAddr.String()
}

// refererDomain extracts the registrable domain from a Referer header
// using goreferrer's heuristic parser, for access-log enrichment.
func refererDomain(raw string) string {
	if raw == "" {
		return ""
	}
	ref := goreferrer.DefaultRules.Parse(raw)
	if ref.Domain != "" && ref.Tld != "" && !strings.HasSuffix(ref.Domain, "."+ref.Tld) {
		return ref.Domain + "." + ref.Tld
	}
	return ref.Domain
}
