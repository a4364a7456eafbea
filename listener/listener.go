// Package listener implements the acceptor (§4.5): it opens a TCP (or
// TLS) listener, hands accepted sockets to a connection loop constructor,
// enforces max_active_requests backpressure, and drains in-flight
// connections on cancellation.
package listener

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ConnHandler is invoked once per accepted connection; it owns the socket
// for the lifetime of the call (typically a *conn.Loop's Serve method).
type ConnHandler func(ctx context.Context, c net.Conn)

// Config bounds the listener's accept loop.
type Config struct {
	Network           string
	Address           string
	TLSConfig         *tls.Config
	MaxActiveRequests int64
	// DrainGracePeriod bounds how long Run waits for in-flight connections
	// to finish once its context is cancelled (§4.5 "bounded by a grace period").
	DrainGracePeriod time.Duration
}

// Listener accepts sockets and dispatches them to a ConnHandler under a
// bounded concurrency budget.
type Listener struct {
	cfg     Config
	handler ConnHandler
	sem     *semaphore.Weighted
}

// New returns a Listener with its backpressure semaphore sized to
// cfg.MaxActiveRequests (0 or negative means unbounded).
func New(cfg Config, handler ConnHandler) *Listener {
	var sem *semaphore.Weighted
	if cfg.MaxActiveRequests > 0 {
		sem = semaphore.NewWeighted(cfg.MaxActiveRequests)
	}
	return &Listener{cfg: cfg, handler: handler, sem: sem}
}

// Run opens the socket and accepts connections until ctx is cancelled,
// then waits (bounded by DrainGracePeriod) for in-flight connections to
// finish before returning (§4.5, §5).
func (l *Listener) Run(ctx context.Context) error {
	network := l.cfg.Network
	if network == "" {
		network = "tcp"
	}
	var ln net.Listener
	var err error
	if l.cfg.TLSConfig != nil {
		ln, err = tls.Listen(network, l.cfg.Address, l.cfg.TLSConfig)
	} else {
		ln, err = net.Listen(network, l.cfg.Address)
	}
	if err != nil {
		return fmt.Errorf("listener: could not listen on %s: %w", l.cfg.Address, err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-groupCtx.Done()
		return ln.Close()
	})

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break // accept failed because Run is shutting down; not an error
			}
			return fmt.Errorf("listener: accept failed: %w", err)
		}
		if l.sem != nil {
			if err := l.sem.Acquire(ctx, 1); err != nil {
				conn.Close()
				break
			}
		}
		group.Go(func() error {
			defer func() {
				if l.sem != nil {
					l.sem.Release(1)
				}
			}()
			l.handler(ctx, conn)
			return nil
		})
	}

	return l.drain(group)
}

// drain waits for in-flight connection goroutines, bounded by
// DrainGracePeriod; a slow connection past the grace period is abandoned.
// The ctx-cancellation watcher above closes only the listening socket, so
// an abandoned connection's goroutine keeps running with its socket open.
func (l *Listener) drain(group *errgroup.Group) error {
	if l.cfg.DrainGracePeriod <= 0 {
		return group.Wait()
	}
	done := make(chan error, 1)
	go func() { done <- group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(l.cfg.DrainGracePeriod):
		return nil
	}
}
