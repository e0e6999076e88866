// Package lease implements the fenced, auto-renewed exclusive ownership
// primitive: acquire/renew/release against a leasestore.Store, a
// background renewal loop with jittered interval, and a cancellation
// signal tied to lease loss.
package lease

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/correlator-io/correlator/internal/coreerr"
	"github.com/correlator-io/correlator/internal/leasestore"
	"github.com/correlator-io/correlator/internal/metrics"
)

const maxJitter = time.Second

// Lease is a live object wrapping a row acquired in the lease store. It
// owns a renewal timer, an internal cancellation signal tied to loss, and
// a fencing token updated on every successful renew.
type Lease struct {
	store        leasestore.Store
	logger       *slog.Logger
	resourceName string
	owner        string
	leaseSeconds int
	renewPercent float64
	metrics      *metrics.Registry

	fencingToken atomic.Int64
	lost         atomic.Bool

	ctx    context.Context
	cancel context.CancelCauseFunc

	stopRenew chan struct{}
	renewDone chan struct{}
	closeOnce sync.Once
}

func newLease(
	parent context.Context, store leasestore.Store, logger *slog.Logger,
	resourceName, owner string, leaseSeconds int, renewPercent float64, fencingToken int64,
	metricsReg *metrics.Registry,
) *Lease {
	ctx, cancel := context.WithCancelCause(parent)

	l := &Lease{
		store:        store,
		logger:       logger,
		resourceName: resourceName,
		owner:        owner,
		leaseSeconds: leaseSeconds,
		renewPercent: renewPercent,
		metrics:      metricsReg,
		ctx:          ctx,
		cancel:       cancel,
		stopRenew:    make(chan struct{}),
		renewDone:    make(chan struct{}),
	}
	l.fencingToken.Store(fencingToken)

	go l.renewLoop()

	return l
}

// Context returns the lease's linked cancellation context: cancelled when
// the lease is lost OR the caller-supplied context that spawned it is
// cancelled, whichever comes first.
func (l *Lease) Context() context.Context {
	return l.ctx
}

// ResourceName returns the resource this lease holds.
func (l *Lease) ResourceName() string {
	return l.resourceName
}

// FencingToken returns the current fencing token, updated on every
// successful renew.
func (l *Lease) FencingToken() int64 {
	return l.fencingToken.Load()
}

// IsLost reports whether the lease has been observed lost.
func (l *Lease) IsLost() bool {
	return l.lost.Load()
}

// ThrowIfLost raises coreerr.ErrLostLease if the lease has been lost.
func (l *Lease) ThrowIfLost() error {
	if l.lost.Load() {
		return coreerr.ErrLostLease
	}

	return nil
}

// TryRenewNow attempts one renewal immediately, outside the background
// schedule. Returns false if already lost/disposed or if the renewal did
// not succeed; updates the fencing token on success.
func (l *Lease) TryRenewNow() bool {
	if l.lost.Load() {
		return false
	}

	select {
	case <-l.stopRenew:
		return false
	default:
	}

	start := time.Now()

	row, ok, err := l.store.Renew(l.ctx, l.resourceName, l.owner, l.leaseSeconds)

	if l.metrics != nil {
		l.metrics.ObserveLeaseRenewDuration(metrics.Tags{Queue: "lease"}, float64(time.Since(start).Milliseconds()))
	}

	if err != nil || !ok {
		l.markLost(err)

		return false
	}

	l.fencingToken.Store(row.FencingToken)

	return true
}

func (l *Lease) markLost(cause error) {
	if !l.lost.CompareAndSwap(false, true) {
		return
	}

	if cause == nil {
		cause = coreerr.ErrLostLease
	}

	l.cancel(cause)

	if l.logger != nil {
		l.logger.Warn("lease lost", slog.String("resource", l.resourceName), slog.Any("cause", cause))
	}
}

func (l *Lease) renewLoop() {
	defer close(l.renewDone)

	for {
		interval := l.nextRenewInterval()
		timer := time.NewTimer(interval)

		select {
		case <-timer.C:
			if !l.TryRenewNow() {
				return
			}
		case <-l.stopRenew:
			timer.Stop()

			return
		case <-l.ctx.Done():
			timer.Stop()

			return
		}
	}
}

func (l *Lease) nextRenewInterval() time.Duration {
	base := time.Duration(float64(l.leaseSeconds) * l.renewPercent * float64(time.Second))
	jitter := time.Duration(rand.Int64N(int64(maxJitter)))

	return base + jitter
}

// Dispose stops the renewal loop and releases the lease if it was not
// already lost. Errors are logged, never returned — Dispose is always
// best-effort.
func (l *Lease) Dispose() {
	l.closeOnce.Do(func() {
		close(l.stopRenew)
		<-l.renewDone

		if l.lost.Load() {
			return
		}

		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := l.store.Release(releaseCtx, l.resourceName, l.owner); err != nil && l.logger != nil {
			l.logger.Error("lease release failed", slog.String("resource", l.resourceName), slog.Any("error", err))
		}

		l.cancel(nil)
	})
}
