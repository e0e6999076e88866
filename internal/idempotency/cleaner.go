// Package idempotency runs the periodic retention sweep over completed
// and failed idempotency rows, guarded by the same system-lease pattern
// every other background loop in the messaging core uses.
package idempotency

import (
	"context"
	"log/slog"
	"time"

	"github.com/correlator-io/correlator/internal/config"
	"github.com/correlator-io/correlator/internal/idempotencystore"
	"github.com/correlator-io/correlator/internal/ids"
	"github.com/correlator-io/correlator/internal/lease"
	"github.com/correlator-io/correlator/internal/metrics"
)

// Config tunes the cleaner loop. NewCleaner uses LoadConfig when cfg is
// nil; the fields of a non-nil Config are used as given.
type Config struct {
	// Interval is how often the cleaner checks for rows to delete. It
	// must be positive.
	Interval time.Duration

	// RetentionPeriod is how long a Completed or Failed row survives
	// before Cleanup removes it.
	RetentionPeriod time.Duration
}

const (
	defaultInterval        = time.Hour
	defaultRetentionPeriod = 7 * 24 * time.Hour
)

// LoadConfig builds a Config from IDEMPOTENCY_CLEANER_* environment
// variables, defaulting to an hourly sweep with a week of retention.
func LoadConfig() *Config {
	return &Config{
		Interval:        config.GetEnvDuration("IDEMPOTENCY_CLEANER_INTERVAL", defaultInterval),
		RetentionPeriod: config.GetEnvDuration("IDEMPOTENCY_CLEANER_RETENTION_PERIOD", defaultRetentionPeriod),
	}
}

// Cleaner holds "idempotency:cleanup:<tenant>" and periodically deletes
// expired idempotency rows.
type Cleaner struct {
	store  idempotencystore.Store
	leases *lease.Manager
	cfg    *Config
	logger *slog.Logger

	// Metrics is optional; set it after construction to report the
	// number of rows removed per sweep.
	Metrics *metrics.Registry
}

// NewCleaner builds a Cleaner. cfg may be nil to use defaults.
func NewCleaner(store idempotencystore.Store, leases *lease.Manager, cfg *Config, logger *slog.Logger) *Cleaner {
	if cfg == nil {
		cfg = LoadConfig()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Cleaner{store: store, leases: leases, cfg: cfg, logger: logger}
}

// Run drives the cleaner loop for tenant until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context, tenant string) error {
	resourceName := "idempotency:cleanup:" + tenant
	owner := ids.MustOwnerToken()

	l, err := c.leases.Acquire(ctx, resourceName, owner)
	if err != nil {
		return err
	}

	if l == nil {
		c.logger.Info("idempotency cleaner: lease contended, aborting", slog.String("tenant", tenant))

		return nil
	}
	defer l.Dispose()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.Context().Done():
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.cleanOnce(l.Context())
		}
	}
}

func (c *Cleaner) cleanOnce(ctx context.Context) {
	removed, err := c.store.Cleanup(ctx, c.cfg.RetentionPeriod)
	if err != nil {
		c.logger.Error("idempotency cleaner: cleanup failed", slog.Any("error", err))

		return
	}

	if removed > 0 {
		c.logger.Info("idempotency cleaner: rows removed", slog.Int("count", removed))

		if c.Metrics != nil {
			c.Metrics.Reaped(metrics.Tags{Queue: "idempotency"}, removed)
		}
	}
}
