package listener

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startListener builds a Listener on a free loopback port, returning the
// address to dial, a func that runs it, and the cancel func that stops it.
func startListener(t *testing.T, cfg Config, handler ConnHandler) (addr string, run func() error, cancel context.CancelFunc) {
	t.Helper()
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg.Address = probe.Addr().String()
	require.NoError(t, probe.Close())

	ctx, cancelFn := context.WithCancel(context.Background())
	l := New(cfg, handler)
	return cfg.Address, func() error { return l.Run(ctx) }, cancelFn
}

func TestListener_AcceptsAndDispatchesConnections(t *testing.T) {
	var mu sync.Mutex
	var handled int

	addr, run, cancel := startListener(t, Config{MaxActiveRequests: 4}, func(ctx context.Context, c net.Conn) {
		mu.Lock()
		handled++
		mu.Unlock()
		c.Close()
	})

	runDone := make(chan error, 1)
	go func() { runDone <- run() }()
	time.Sleep(50 * time.Millisecond) // let the accept loop start listening

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	conn.Close()
	time.Sleep(50 * time.Millisecond)

	cancel()
	require.NoError(t, <-runDone)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, handled)
}

func TestListener_BackpressureBoundsConcurrentHandlers(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	addr, run, cancel := startListener(t, Config{MaxActiveRequests: 2}, func(ctx context.Context, c net.Conn) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		<-release

		mu.Lock()
		inFlight--
		mu.Unlock()
		c.Close()
	})

	runDone := make(chan error, 1)
	go func() { runDone <- run() }()
	time.Sleep(50 * time.Millisecond)

	var conns []net.Conn
	for i := 0; i < 3; i++ {
		c, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		conns = append(conns, c)
	}
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	assert.LessOrEqual(t, maxInFlight, 2)
	mu.Unlock()

	close(release)
	for _, c := range conns {
		c.Close()
	}
	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, <-runDone)
}

func TestListener_DrainGracePeriodAbandonsSlowConnection(t *testing.T) {
	started := make(chan struct{})
	addr, run, cancel := startListener(t, Config{
		MaxActiveRequests: 4,
		DrainGracePeriod:  20 * time.Millisecond,
	}, func(ctx context.Context, c net.Conn) {
		close(started)
		time.Sleep(time.Second) // far longer than the grace period
	})

	runDone := make(chan error, 1)
	go func() { runDone <- run() }()
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	<-started

	cancel()
	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return within the drain grace period")
	}
}
