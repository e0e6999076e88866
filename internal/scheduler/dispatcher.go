package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/correlator-io/correlator/internal/ids"
	"github.com/correlator-io/correlator/internal/lease"
	"github.com/correlator-io/correlator/internal/metrics"
	"github.com/correlator-io/correlator/internal/outboxstore"
	"github.com/correlator-io/correlator/internal/schedulerstore"
)

// TimerRunDispatcher claims due timers and job-runs and enqueues them
// into the outbox with a synthetic topic, then acks the scheduler row,
// so timer fires ride the same at-least-once path as other outbox
// traffic.
type TimerRunDispatcher struct {
	scheduler schedulerstore.Store
	outbox    outboxstore.Store
	leases    *lease.Manager
	cfg       *Config
	logger    *slog.Logger

	// Metrics is optional; set it after construction to report
	// claimed/acknowledged counts for timer and job-run dispatch.
	Metrics *metrics.Registry
}

// NewTimerRunDispatcher builds a TimerRunDispatcher. cfg may be nil.
func NewTimerRunDispatcher(
	schedulerStore schedulerstore.Store, outboxStore outboxstore.Store, leases *lease.Manager, cfg *Config, logger *slog.Logger,
) *TimerRunDispatcher {
	if cfg == nil {
		cfg = LoadConfig()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &TimerRunDispatcher{scheduler: schedulerStore, outbox: outboxStore, leases: leases, cfg: cfg, logger: logger}
}

// Run drives the timer/run dispatcher loop for tenant until ctx ends.
func (d *TimerRunDispatcher) Run(ctx context.Context, tenant string) error {
	owner := ids.MustOwnerToken()

	l, err := d.leases.Acquire(ctx, "scheduler:dispatch:"+tenant, owner)
	if err != nil {
		return err
	}

	if l == nil {
		d.logger.Info("scheduler dispatcher: lease contended, aborting", slog.String("tenant", tenant))

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

func (d *TimerRunDispatcher) runOnce(ctx context.Context, owner string) int {
	n := 0
	n += d.dispatchTimers(ctx, owner)
	n += d.dispatchJobRuns(ctx, owner)

	return n
}

func (d *TimerRunDispatcher) dispatchTimers(ctx context.Context, owner string) int {
	timers, err := d.scheduler.ClaimTimers(ctx, owner, d.cfg.LeaseSeconds, d.cfg.BatchSize)
	if err != nil {
		d.logger.Error("scheduler dispatcher: claim timers failed", slog.Any("error", err))

		return 0
	}

	var acked []string

	for _, t := range timers {
		topic := "timer." + t.Topic
		if _, err := d.outbox.Enqueue(ctx, topic, t.Payload, t.TimerID, nil); err != nil {
			d.logger.Error("scheduler dispatcher: enqueue timer failed", slog.String("timerId", t.TimerID), slog.Any("error", err))

			continue
		}

		acked = append(acked, t.TimerID)
	}

	if len(acked) > 0 {
		if _, err := d.scheduler.AckTimers(ctx, owner, acked); err != nil {
			d.logger.Error("scheduler dispatcher: ack timers failed", slog.Any("error", err))
		} else if d.Metrics != nil {
			d.Metrics.Acknowledged(metrics.Tags{Queue: "scheduler.timers"}, len(acked))
		}
	}

	if len(timers) > 0 && d.Metrics != nil {
		d.Metrics.Claimed(metrics.Tags{Queue: "scheduler.timers"}, len(timers))
	}

	return len(timers)
}

func (d *TimerRunDispatcher) dispatchJobRuns(ctx context.Context, owner string) int {
	runs, err := d.scheduler.ClaimJobRuns(ctx, owner, d.cfg.LeaseSeconds, d.cfg.BatchSize)
	if err != nil {
		d.logger.Error("scheduler dispatcher: claim job runs failed", slog.Any("error", err))

		return 0
	}

	var acked []string

	for _, r := range runs {
		topic := "job." + r.Topic
		if _, err := d.outbox.Enqueue(ctx, topic, r.Payload, r.RunID, nil); err != nil {
			d.logger.Error("scheduler dispatcher: enqueue job run failed", slog.String("runId", r.RunID), slog.Any("error", err))

			continue
		}

		acked = append(acked, r.RunID)
	}

	if len(acked) > 0 {
		if _, err := d.scheduler.AckJobRuns(ctx, owner, acked); err != nil {
			d.logger.Error("scheduler dispatcher: ack job runs failed", slog.Any("error", err))
		} else if d.Metrics != nil {
			d.Metrics.Acknowledged(metrics.Tags{Queue: "scheduler.jobruns"}, len(acked))
		}
	}

	if len(runs) > 0 && d.Metrics != nil {
		d.Metrics.Claimed(metrics.Tags{Queue: "scheduler.jobruns"}, len(runs))
	}

	return len(runs)
}

func (d *TimerRunDispatcher) sleepUntilNextEvent(ctx context.Context) bool {
	wait := d.cfg.IdlePoll

	if next, ok, err := d.scheduler.GetNextEventTime(ctx); err == nil && ok {
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
