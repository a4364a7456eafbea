package logging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/curol/httpd/header"
	"github.com/curol/httpd/httpmsg"
	"github.com/curol/httpd/rcontext"
)

func newObservedLogger() (*ZapLogger, *observer.ObservedLogs) {
	core, recorded := observer.New(zapcore.DebugLevel)
	return NewZapLogger(zap.New(core)), recorded
}

func newTestContext() *rcontext.Context {
	h := header.New()
	h.Set("Referer", "https://www.google.com/search?q=httpd")
	req := httpmsg.New("GET", "/widgets", "", h)
	res := httpmsg.NewResponse(nil)
	res.StatusCode = 200
	return rcontext.New(context.Background(), req, res, "", nil, nil)
}

func TestLogRequestStarted_EmitsDebugLine(t *testing.T) {
	logger, recorded := newObservedLogger()
	req := httpmsg.New("GET", "/widgets", "", header.New())

	logger.LogRequestStarted(req)

	require.Equal(t, 1, recorded.Len())
	entry := recorded.All()[0]
	assert.Equal(t, zapcore.DebugLevel, entry.Level)
	assert.Equal(t, "request started", entry.Message)
}

func TestLogRequest_InfoOnSuccess(t *testing.T) {
	logger, recorded := newObservedLogger()
	ctx := newTestContext()

	logger.LogRequest(ctx, nil, time.Now(), 5*time.Millisecond)

	require.Equal(t, 1, recorded.Len())
	entry := recorded.All()[0]
	assert.Equal(t, zapcore.InfoLevel, entry.Level)
	assert.Equal(t, "request completed", entry.Message)
	assert.Equal(t, "google.com", entry.ContextMap()["referer_domain"])
}

func TestLogRequest_ErrorLevelOnFailure(t *testing.T) {
	logger, recorded := newObservedLogger()
	ctx := newTestContext()

	logger.LogRequest(ctx, errors.New("dispatch failed"), time.Now(), time.Millisecond)

	require.Equal(t, 1, recorded.Len())
	assert.Equal(t, zapcore.ErrorLevel, recorded.All()[0].Level)
}

func TestLogRequest_IncludesLogDataFields(t *testing.T) {
	logger, recorded := newObservedLogger()
	ctx := newTestContext()
	ctx.SetLogData("controller.Widgets.Name", "widgets")

	logger.LogRequest(ctx, nil, time.Now(), time.Millisecond)

	entry := recorded.All()[0]
	assert.Equal(t, "widgets", entry.ContextMap()["data.controller.Widgets.Name"])
}

func TestNewZapLogger_NilBaseFallsBackToNop(t *testing.T) {
	logger := NewZapLogger(nil)
	assert.NotPanics(t, func() {
		logger.LogRequestStarted(httpmsg.New("GET", "/", "", header.New()))
	})
}
