package services

import (
	"context"
	"sync"
)

// OrderLocks serializes commands per order id. The fulfilment service and the
// refund processor must share one instance so ship, cancel and refund commands
// against the same order never interleave.
type OrderLocks struct {
	mu    sync.Mutex
	locks map[string]*orderLock
}

type orderLock struct {
	mu   sync.Mutex
	refs int
}

// NewOrderLocks returns an empty keyed lock set.
func NewOrderLocks() *OrderLocks {
	return &OrderLocks{locks: make(map[string]*orderLock)}
}

// Lock blocks until the per-order lock is held and returns the release
// function. Entries are dropped once the last holder releases.
func (l *OrderLocks) Lock(orderID string) func() {
	l.mu.Lock()
	entry, ok := l.locks[orderID]
	if !ok {
		entry = &orderLock{}
		l.locks[orderID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()
			l.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(l.locks, orderID)
			}
			l.mu.Unlock()
		})
	}
}

// runDetached executes fn on a context that survives caller cancellation.
// Money movement, once dispatched, must be allowed to finish even when the
// caller abandons the request; the abandoned caller receives its context
// error while fn runs to completion in the background.
func runDetached[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	type reply struct {
		value T
		err   error
	}

	done := make(chan reply, 1)
	go func() {
		value, err := fn(context.WithoutCancel(ctx))
		done <- reply{value: value, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
