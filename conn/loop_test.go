package conn

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curol/httpd/handler"
	"github.com/curol/httpd/header"
	"github.com/curol/httpd/httpmsg"
	"github.com/curol/httpd/rcontext"
)

func newKeepAliveTestRequest(connectionHeader string) *httpmsg.Request {
	h := header.New()
	if connectionHeader != "" {
		h.Set("Connection", connectionHeader)
	}
	return httpmsg.New("GET", "/", "", h)
}

func testConfig() Config {
	return Config{
		MaxLineBytes:             8 * 1024,
		MaxHeaderBytes:           1 << 20,
		MaxPostSize:              1 << 20,
		RequestIdleTimeout:       2 * time.Second,
		RequestHeaderReadTimeout: 2 * time.Second,
		MaxProcessingTime:        2 * time.Second,
	}
}

func okStack() *handler.Stack {
	return handler.NewStack().Use("ok", handler.HandlerFunc(func(ctx *rcontext.Context) (handler.Outcome, error) {
		ctx.Res.ContentType = "text/plain"
		ctx.Res.ContentLength = 2
		_, err := ctx.Res.Write([]byte("ok"))
		return handler.Handled, err
	}))
}

func TestLoop_RespondsAndClosesOnConnectionClose(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	loop := New(server, testConfig(), okStack(), nil, nil)
	done := make(chan struct{})
	go func() {
		loop.Serve(context.Background())
		close(done)
	}()

	_, err := client.Write([]byte("GET /hello HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(client)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n", statusLine)

	var headerBlock strings.Builder
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		headerBlock.WriteString(line)
		if line == "\r\n" {
			break
		}
	}
	assert.Contains(t, headerBlock.String(), "Content-Length: 2")
	assert.Contains(t, headerBlock.String(), "Connection: close")

	body := make([]byte, 2)
	_, err = reader.Read(body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))

	<-done
}

func TestLoop_KeepAliveMaxRequestsClosesAfterBudget(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	cfg := testConfig()
	cfg.KeepAliveMaxRequests = 1
	loop := New(server, cfg, okStack(), nil, nil)
	done := make(chan struct{})
	go func() {
		loop.Serve(context.Background())
		close(done)
	}()

	_, err := client.Write([]byte("GET /hello HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(client)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n", statusLine)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
	}

	<-done // the loop closes the connection once the keep-alive budget is spent
}

// An oversize header block still gets a mapped 431 response written before
// the connection closes — it must not close silently, since the request
// line parsed fine and a client is owed a status (§8 boundary scenario 1).
func TestLoop_OversizeHeaderBlockRespondsWith431(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	cfg := testConfig()
	cfg.MaxHeaderBytes = 16
	loop := New(server, cfg, okStack(), nil, nil)
	done := make(chan struct{})
	go func() {
		loop.Serve(context.Background())
		close(done)
	}()

	_, err := client.Write([]byte("GET / HTTP/1.1\r\nX-Long: " + strings.Repeat("a", 100) + "\r\n\r\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(client)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 431 Request Header Fields Too Large\r\n", statusLine)

	<-done
}

func TestWantsKeepAlive_HTTP11DefaultsToPersistent(t *testing.T) {
	loop := &Loop{}
	req := newKeepAliveTestRequest("")
	assert.True(t, loop.wantsKeepAlive(req, "HTTP/1.1"))
}

func TestWantsKeepAlive_HTTP11ExplicitClose(t *testing.T) {
	loop := &Loop{}
	req := newKeepAliveTestRequest("close")
	assert.False(t, loop.wantsKeepAlive(req, "HTTP/1.1"))
}

func TestWantsKeepAlive_HTTP10DefaultsToClose(t *testing.T) {
	loop := &Loop{}
	req := newKeepAliveTestRequest("")
	assert.False(t, loop.wantsKeepAlive(req, "HTTP/1.0"))
}

func TestWantsKeepAlive_HTTP10ExplicitKeepAlive(t *testing.T) {
	loop := &Loop{}
	req := newKeepAliveTestRequest("keep-alive")
	assert.True(t, loop.wantsKeepAlive(req, "HTTP/1.0"))
}

func TestConnBodyWriter_ChunkedFraming(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	w := newConnBodyWriter(server)
	go func() {
		w.Flush([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n"))
		w.Write([]byte("hi"))
		w.finish()
	}()

	buf := make([]byte, 512)
	n, err := readAvailable(client, buf)
	require.NoError(t, err)
	out := string(buf[:n])
	assert.Contains(t, out, "Transfer-Encoding: chunked")
	assert.Contains(t, out, "2\r\nhi\r\n")
	assert.Contains(t, out, "0\r\n\r\n")
}

func readAvailable(c net.Conn, buf []byte) (int, error) {
	c.SetReadDeadline(time.Now().Add(time.Second))
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, nil
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}
