package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/correlator-io/correlator/internal/ids"
	"github.com/correlator-io/correlator/internal/lease"
	"github.com/correlator-io/correlator/internal/metrics"
	"github.com/correlator-io/correlator/internal/schedulerstore"
)

// Materialiser holds "scheduler:materialise:<tenant>" and periodically
// promotes due cron jobs into Ready job-runs.
type Materialiser struct {
	store  schedulerstore.Store
	leases *lease.Manager
	cfg    *Config
	logger *slog.Logger

	// Metrics is optional; set it after construction to report
	// materialised-run and reaped-timer counts.
	Metrics *metrics.Registry
}

// NewMaterialiser builds a Materialiser. cfg may be nil to use defaults.
func NewMaterialiser(store schedulerstore.Store, leases *lease.Manager, cfg *Config, logger *slog.Logger) *Materialiser {
	if cfg == nil {
		cfg = LoadConfig()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Materialiser{store: store, leases: leases, cfg: cfg, logger: logger}
}

// Run drives the materialiser loop for tenant until ctx is cancelled.
func (m *Materialiser) Run(ctx context.Context, tenant string) error {
	resourceName := "scheduler:materialise:" + tenant
	owner := ids.MustOwnerToken()

	l, err := m.leases.Acquire(ctx, resourceName, owner)
	if err != nil {
		return err
	}

	if l == nil {
		m.logger.Info("materialiser: lease contended, aborting", slog.String("tenant", tenant))

		return nil
	}
	defer l.Dispose()

	ticker := time.NewTicker(m.cfg.MaterialiseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.Context().Done():
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.materialiseOnce(l.Context(), resourceName, l.FencingToken())
			m.reapExpiredTimers(l.Context())
		}
	}
}

func (m *Materialiser) materialiseOnce(ctx context.Context, resourceName string, fencingToken int64) {
	held := schedulerstore.LeaseToken{ResourceName: resourceName, FencingToken: fencingToken}

	created, err := m.store.CreateJobRunsFromDueJobs(ctx, held, m.cfg.BatchSize, Next)
	if err != nil {
		m.logger.Error("materialiser: create job runs failed", slog.Any("error", err))

		return
	}

	if len(created) > 0 {
		m.logger.Info("materialiser: job runs created", slog.Int("count", len(created)))

		if m.Metrics != nil {
			m.Metrics.Claimed(metrics.Tags{Queue: "scheduler"}, len(created))
		}
	}
}

// reapExpiredTimers reclaims timer rows whose claim lock expired without
// being reclaimed by a later ClaimTimers call.
func (m *Materialiser) reapExpiredTimers(ctx context.Context) {
	n, err := m.store.ReapExpiredTimers(ctx)
	if err != nil {
		m.logger.Error("materialiser: reap expired timers failed", slog.Any("error", err))

		return
	}

	if n > 0 && m.Metrics != nil {
		m.Metrics.Reaped(metrics.Tags{Queue: "scheduler"}, n)
	}
}
