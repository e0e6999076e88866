package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/correlator-io/correlator/internal/ids"
	"github.com/correlator-io/correlator/internal/lease"
	"github.com/correlator-io/correlator/internal/metrics"
	"github.com/correlator-io/correlator/internal/outboxstore"
)

// Dispatcher runs the claim/handle/ack loop for one tenant, guarded by a
// per-tenant lease.
type Dispatcher struct {
	store    outboxstore.Store
	leases   *lease.Manager
	registry *Registry
	cfg      *Config
	logger   *slog.Logger

	// Metrics is optional; set it after construction to have the
	// dispatcher report claim/ack/abandon/fail counts and durations.
	Metrics *metrics.Registry
}

// NewDispatcher builds a Dispatcher. cfg may be nil to use defaults.
func NewDispatcher(store outboxstore.Store, leases *lease.Manager, registry *Registry, cfg *Config, logger *slog.Logger) *Dispatcher {
	if cfg == nil {
		cfg = LoadConfig()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{store: store, leases: leases, registry: registry, cfg: cfg, logger: logger}
}

// Run drives the dispatcher loop for tenant until ctx is cancelled. It
// acquires "outbox:<tenant>", aborts quietly if contended, and otherwise
// loops claim/handle/ack until the lease is lost or ctx ends.
func (d *Dispatcher) Run(ctx context.Context, tenant string) error {
	owner := ids.MustOwnerToken()

	l, err := d.leases.Acquire(ctx, "outbox:"+tenant, owner)
	if err != nil {
		return err
	}

	if l == nil {
		d.logger.Info("outbox dispatcher: lease contended, aborting", slog.String("tenant", tenant))

		return nil
	}
	defer l.Dispose()

	for {
		select {
		case <-l.Context().Done():
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		n := d.runOnce(l.Context(), owner)
		if n > 0 {
			continue
		}

		if d.sleepUntilNextEvent(l.Context()) {
			return nil
		}
	}
}

// runOnce claims and processes one batch, returning the number of rows
// claimed.
func (d *Dispatcher) runOnce(ctx context.Context, owner string) int {
	start := time.Now()

	rows, err := d.store.ClaimDue(ctx, owner, d.cfg.LeaseSeconds, d.cfg.BatchSize)
	if err != nil {
		d.logger.Error("outbox dispatcher: claim failed", slog.Any("error", err))

		return 0
	}

	if d.Metrics != nil {
		d.Metrics.ObserveClaimDuration(d.tags(""), float64(time.Since(start).Milliseconds()))

		if len(rows) > 0 {
			d.Metrics.Claimed(d.tags(""), len(rows))
		}
	}

	for _, row := range rows {
		d.handleRow(ctx, owner, row)
	}

	return len(rows)
}

func (d *Dispatcher) handleRow(ctx context.Context, owner string, row outboxstore.Row) {
	start := time.Now()
	handler, err := d.registry.Lookup(row.Topic)

	var handleErr error
	if err != nil {
		handleErr = err
	} else {
		handleErr = handler(ctx, rowToMessage(row))
	}

	if d.Metrics != nil {
		d.Metrics.ObserveProcessingDuration(d.tags(""), float64(time.Since(start).Milliseconds()))
	}

	if handleErr == nil {
		ackStart := time.Now()

		if _, err := d.store.MarkDispatched(ctx, row.ID, owner); err != nil {
			d.logger.Error("outbox dispatcher: ack failed", slog.Int64("id", row.ID), slog.Any("error", err))
		} else if d.Metrics != nil {
			d.Metrics.Acknowledged(d.tags(""), 1)
			d.Metrics.ObserveAckDuration(d.tags(""), float64(time.Since(ackStart).Milliseconds()))
		}

		return
	}

	if row.Attempts+1 < d.cfg.MaxAttempts {
		delay := backoff(d.cfg.BaseBackoff, d.cfg.MaxBackoff, row.Attempts)
		if _, err := d.store.Reschedule(ctx, row.ID, owner, delay, handleErr.Error()); err != nil {
			d.logger.Error("outbox dispatcher: reschedule failed", slog.Int64("id", row.ID), slog.Any("error", err))
		} else if d.Metrics != nil {
			d.Metrics.Abandoned(d.tags(handleErr.Error()), 1)
		}

		return
	}

	if _, err := d.store.Fail(ctx, row.ID, owner, handleErr.Error()); err != nil {
		d.logger.Error("outbox dispatcher: fail failed", slog.Int64("id", row.ID), slog.Any("error", err))
	} else if d.Metrics != nil {
		d.Metrics.Failed(d.tags(handleErr.Error()), 1)
	}
}

func (d *Dispatcher) tags(reason string) metrics.Tags {
	return metrics.Tags{Queue: "outbox", Reason: reason}
}

// sleepUntilNextEvent sleeps until the earliest ready row is due, or
// idlePoll if there is none, or until the lease context ends. Returns true
// if it returned because the context ended.
func (d *Dispatcher) sleepUntilNextEvent(ctx context.Context) bool {
	wait := d.cfg.IdlePoll

	if next, ok, err := d.store.GetNextEventTime(ctx); err == nil && ok {
		if until := time.Until(next); until > wait {
			wait = until
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return false
	case <-ctx.Done():
		return true
	}
}
