package dispatch

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curol/httpd/bind"
	"github.com/curol/httpd/header"
	"github.com/curol/httpd/httpmsg"
	"github.com/curol/httpd/rcontext"
	"github.com/curol/httpd/route"
)

var (
	intType    = reflect.TypeOf(0)
	stringType = reflect.TypeOf("")
)

type stubWriter struct{ sent []byte }

func (w *stubWriter) Flush([]byte) error          { return nil }
func (w *stubWriter) Write(p []byte) (int, error) { w.sent = append(w.sent, p...); return len(p), nil }

func newTestContext(method, path, rawQuery string) (*rcontext.Context, *httpmsg.Response) {
	req := httpmsg.New(method, path, rawQuery, header.New())
	res := httpmsg.NewResponse(&stubWriter{})
	return rcontext.New(context.Background(), req, res, "", nil, func(time.Duration) {}), res
}

func TestDispatch_NotFound(t *testing.T) {
	table, err := bind.NewBuilder().Build()
	require.NoError(t, err)
	d := New(table, Limits{})

	ctx, _ := newTestContext("GET", "/nope", "")
	_, err = d.Dispatch(ctx)
	require.Error(t, err)
}

func TestDispatch_MethodNotAllowed(t *testing.T) {
	b := bind.NewBuilder()
	b.Handle("GET /widgets/{id}", func(ctx *rcontext.Context, args []any) (route.Result, error) {
		return route.Result{StatusCode: 200, Body: []byte("ok")}, nil
	})
	table, err := b.Build()
	require.NoError(t, err)
	d := New(table, Limits{})

	ctx, _ := newTestContext("POST", "/widgets/7", "")
	_, err = d.Dispatch(ctx)
	require.Error(t, err)
}

func TestDispatch_BindsURLAndQueryParams(t *testing.T) {
	b := bind.NewBuilder()
	b.Handle("GET /widgets/{id}", func(ctx *rcontext.Context, args []any) (route.Result, error) {
		id := args[0].(int)
		q := args[1].(string)
		return route.Result{StatusCode: 200, Body: []byte(q), ContentType: "text/plain"}, nil
	},
		bind.ParamSpec{Source: route.SourceURL, Name: "id", Required: true, Type: intType},
		bind.ParamSpec{Source: route.SourceQuery, Name: "q", Required: false, Type: stringType},
	)
	table, err := b.Build()
	require.NoError(t, err)
	d := New(table, Limits{})

	ctx, res := newTestContext("GET", "/widgets/42", "q=hello")
	result, err := d.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 200, result.StatusCode)
	assert.Equal(t, "hello", string(result.Body))
	_ = res
}
