package idempotency_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/correlator-io/correlator/internal/idempotency"
	"github.com/correlator-io/correlator/internal/idempotencystore"
	"github.com/correlator-io/correlator/internal/lease"
	"github.com/correlator-io/correlator/internal/leasestore"
)

func testLeaseManager() *lease.Manager {
	return lease.NewManager(leasestore.NewMemoryStore(), &lease.Config{
		DefaultLeaseDuration: 2 * time.Second,
		RenewPercent:         0.5,
	}, nil)
}

func TestCleanerRemovesExpiredRows(t *testing.T) {
	store := idempotencystore.NewMemoryStore()
	ctx := context.Background()

	ok, err := store.TryBegin(ctx, "job-1", "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.Complete(ctx, "job-1", "owner-a"))

	cfg := idempotency.LoadConfig()
	cfg.Interval = 10 * time.Millisecond
	cfg.RetentionPeriod = 0

	c := idempotency.NewCleaner(store, testLeaseManager(), cfg, nil)

	runCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	require.NoError(t, c.Run(runCtx, "tenant-a"))

	_, found, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.False(t, found, "cleaner should have removed the completed row")
}
