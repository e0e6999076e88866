package lease

import (
	"context"
	"log/slog"
	"time"

	"github.com/correlator-io/correlator/internal/leasestore"
	"github.com/correlator-io/correlator/internal/metrics"
)

// Manager acquires named leases against a leasestore.Store, applying an
// optional process-local gate.
type Manager struct {
	store  leasestore.Store
	cfg    *Config
	logger *slog.Logger
	gate   *gate

	// Metrics is optional; set it after construction to have every
	// lease issued by this Manager report renew durations.
	Metrics *metrics.Registry
}

// NewManager builds a Manager. cfg may be nil to use defaults.
func NewManager(store leasestore.Store, cfg *Config, logger *slog.Logger) *Manager {
	if cfg == nil {
		cfg = LoadConfig()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{store: store, cfg: cfg, logger: logger, gate: newGate()}
}

// Acquire attempts to acquire resourceName for owner. Returns (nil, nil)
// both when the process-local gate is contended and when the underlying
// store reports the resource is already held by someone else — callers
// must treat both identically: "didn't get it, try later".
func (m *Manager) Acquire(ctx context.Context, resourceName, owner string) (*Lease, error) {
	return m.AcquireFor(ctx, resourceName, owner, m.cfg.DefaultLeaseDuration, "")
}

// AcquireFor is Acquire with an explicit lease duration and context JSON.
func (m *Manager) AcquireFor(
	ctx context.Context, resourceName, owner string, duration time.Duration, contextJSON string,
) (*Lease, error) {
	if m.cfg.UseGate {
		unlock, ok := m.gate.tryLock(ctx, resourceName, m.cfg.GateTimeout)
		if !ok {
			return nil, nil
		}

		defer unlock()
	}

	leaseSeconds := int(duration.Seconds())
	if leaseSeconds <= 0 {
		leaseSeconds = int(m.cfg.DefaultLeaseDuration.Seconds())
	}

	// The store counts whole seconds; a sub-second duration holds for one.
	if leaseSeconds <= 0 {
		leaseSeconds = 1
	}

	row, ok, err := m.store.Acquire(ctx, resourceName, owner, leaseSeconds, contextJSON)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, nil
	}

	return newLease(ctx, m.store, m.logger, resourceName, owner, leaseSeconds, m.cfg.RenewPercent, row.FencingToken, m.Metrics), nil
}
