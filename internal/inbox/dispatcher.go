package inbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/correlator-io/correlator/internal/ids"
	"github.com/correlator-io/correlator/internal/inboxstore"
	"github.com/correlator-io/correlator/internal/lease"
	"github.com/correlator-io/correlator/internal/metrics"
)

// Dispatcher runs the claim/handle/ack loop for one tenant, guarded by a
// per-tenant lease.
type Dispatcher struct {
	store    inboxstore.Store
	leases   *lease.Manager
	registry *Registry
	cfg      *Config
	logger   *slog.Logger

	// Metrics is optional; set it after construction to have the
	// dispatcher report claim/ack/abandon/fail counts and durations.
	Metrics *metrics.Registry
}

// NewDispatcher builds a Dispatcher. cfg may be nil to use defaults.
func NewDispatcher(
	store inboxstore.Store, leases *lease.Manager, registry *Registry, cfg *Config, logger *slog.Logger,
) *Dispatcher {
	if cfg == nil {
		cfg = LoadConfig()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{store: store, leases: leases, registry: registry, cfg: cfg, logger: logger}
}

// Run drives the dispatcher loop for tenant until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, tenant string) error {
	owner := ids.MustOwnerToken()

	l, err := d.leases.Acquire(ctx, "inbox:"+tenant, owner)
	if err != nil {
		return err
	}

	if l == nil {
		d.logger.Info("inbox dispatcher: lease contended, aborting", slog.String("tenant", tenant))

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

func (d *Dispatcher) runOnce(ctx context.Context, owner string) int {
	start := time.Now()

	rows, err := d.store.ClaimAsync(ctx, owner, d.cfg.LeaseSeconds, d.cfg.BatchSize)
	if err != nil {
		d.logger.Error("inbox dispatcher: claim failed", slog.Any("error", err))

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

func (d *Dispatcher) handleRow(ctx context.Context, owner string, row inboxstore.Row) {
	handler, lookupErr := d.registry.Lookup(row.Topic)

	start := time.Now()

	var handleErr error
	if lookupErr != nil {
		d.applyMissingHandlerPolicy(ctx, owner, row)

		return
	} else if handleErr = handler(ctx, rowToMessage(row)); handleErr != nil {
		d.handleFailure(ctx, owner, row, handleErr.Error())

		return
	}

	if d.Metrics != nil {
		d.Metrics.ObserveProcessingDuration(d.tags(""), float64(time.Since(start).Milliseconds()))
	}

	ackStart := time.Now()

	if _, err := d.store.Ack(ctx, row.MessageID, owner); err != nil {
		d.logger.Error("inbox dispatcher: ack failed", slog.String("messageId", row.MessageID), slog.Any("error", err))
	} else if d.Metrics != nil {
		d.Metrics.Acknowledged(d.tags(""), 1)
		d.Metrics.ObserveAckDuration(d.tags(""), float64(time.Since(ackStart).Milliseconds()))
	}
}

func (d *Dispatcher) applyMissingHandlerPolicy(ctx context.Context, owner string, row inboxstore.Row) {
	switch d.cfg.MissingHandlerBehavior {
	case PolicyComplete:
		ackStart := time.Now()

		if _, err := d.store.Ack(ctx, row.MessageID, owner); err != nil {
			d.logger.Error("inbox dispatcher: ack failed", slog.String("messageId", row.MessageID), slog.Any("error", err))
		} else if d.Metrics != nil {
			d.Metrics.Acknowledged(d.tags(""), 1)
			d.Metrics.ObserveAckDuration(d.tags(""), float64(time.Since(ackStart).Milliseconds()))
		}
	case PolicyPoison:
		if _, err := d.store.Fail(ctx, row.MessageID, owner, ErrNoHandlerForTopic.Error()); err != nil {
			d.logger.Error("inbox dispatcher: fail failed", slog.String("messageId", row.MessageID), slog.Any("error", err))
		} else if d.Metrics != nil {
			d.Metrics.Failed(d.tags(ErrNoHandlerForTopic.Error()), 1)
		}
	case PolicyRetry:
		fallthrough
	default:
		d.handleFailure(ctx, owner, row, ErrNoHandlerForTopic.Error())
	}
}

func (d *Dispatcher) handleFailure(ctx context.Context, owner string, row inboxstore.Row, lastError string) {
	if row.Attempts+1 < d.cfg.MaxAttempts {
		delay := backoff(d.cfg.BaseBackoff, d.cfg.MaxBackoff, row.Attempts)
		if _, err := d.store.Abandon(ctx, row.MessageID, owner, delay, lastError); err != nil {
			d.logger.Error("inbox dispatcher: abandon failed", slog.String("messageId", row.MessageID), slog.Any("error", err))
		} else if d.Metrics != nil {
			d.Metrics.Abandoned(d.tags(lastError), 1)
		}

		return
	}

	if _, err := d.store.Fail(ctx, row.MessageID, owner, lastError); err != nil {
		d.logger.Error("inbox dispatcher: fail failed", slog.String("messageId", row.MessageID), slog.Any("error", err))
	} else if d.Metrics != nil {
		d.Metrics.Failed(d.tags(lastError), 1)
	}
}

func (d *Dispatcher) tags(reason string) metrics.Tags {
	return metrics.Tags{Queue: "inbox", Reason: reason}
}

// reapExpired reclaims Processing rows whose lock expired without ever
// being claimed again, so the Reaped metric reflects lease loss even
// when ClaimAsync's own inline reclaim hasn't run across them yet.
func (d *Dispatcher) reapExpired(ctx context.Context) {
	n, err := d.store.ReapExpired(ctx)
	if err != nil {
		d.logger.Error("inbox dispatcher: reap failed", slog.Any("error", err))

		return
	}

	if n > 0 && d.Metrics != nil {
		d.Metrics.Reaped(d.tags(""), n)
	}
}

func (d *Dispatcher) sleepUntilNextEvent(ctx context.Context) bool {
	d.reapExpired(ctx)

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
