package lease

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// gate is a process-local advisory lock keyed by a stable hash of the
// resource name, reducing contention when many workers on the same
// process race for the same lease. Gate failure is never
// an error: callers treat a timed-out tryLock as "someone else has it
// locally" and return a nil lease from Acquire.
type gate struct {
	mu    sync.Mutex
	locks map[uint64]chan struct{}
}

func newGate() *gate {
	return &gate{locks: make(map[uint64]chan struct{})}
}

func resourceHash(resourceName string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(resourceName))

	return h.Sum64()
}

// tryLock attempts to take the local advisory lock within timeout. Returns
// a release function and true on success, or (nil, false) on timeout or
// context cancellation.
func (g *gate) tryLock(ctx context.Context, resourceName string, timeout time.Duration) (func(), bool) {
	key := resourceHash(resourceName)

	g.mu.Lock()
	ch, exists := g.locks[key]
	if !exists {
		ch = make(chan struct{}, 1)
		g.locks[key] = ch
	}
	g.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}
