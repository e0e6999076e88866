package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/correlator-io/correlator/internal/lease"
	"github.com/correlator-io/correlator/internal/leasestore"
	"github.com/correlator-io/correlator/internal/outboxstore"
	"github.com/correlator-io/correlator/internal/scheduler"
	"github.com/correlator-io/correlator/internal/schedulerstore"
)

func TestNextComputesFollowingMinute(t *testing.T) {
	from := time.Date(2026, 7, 31, 10, 0, 30, 0, time.UTC)

	next, err := scheduler.Next("0 * * * * *", from)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 7, 31, 10, 1, 0, 0, time.UTC), next)
}

func TestNextComputesFollowingSecond(t *testing.T) {
	from := time.Date(2026, 7, 31, 10, 0, 30, 0, time.UTC)

	next, err := scheduler.Next("*/1 * * * * *", from)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 7, 31, 10, 0, 31, 0, time.UTC), next)
}

func TestNextRejectsInvalidSpec(t *testing.T) {
	_, err := scheduler.Next("not a cron spec", time.Now())
	require.Error(t, err)
}

func TestNextRejectsFiveFieldSpec(t *testing.T) {
	_, err := scheduler.Next("* * * * *", time.Now())
	require.Error(t, err, "five-field specs lack the seconds field this scheduler requires")
}

func testLeaseManager() *lease.Manager {
	return lease.NewManager(leasestore.NewMemoryStore(), &lease.Config{
		DefaultLeaseDuration: 2 * time.Second,
		RenewPercent:         0.5,
	}, nil)
}

func TestMaterialiserCreatesJobRuns(t *testing.T) {
	store := schedulerstore.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateOrUpdateJob(ctx, "job-a", "job.a", "0 * * * * *", []byte("p"), time.Now().UTC().Add(-time.Minute)))

	cfg := scheduler.LoadConfig()
	cfg.MaterialiseInterval = 10 * time.Millisecond

	m := scheduler.NewMaterialiser(store, testLeaseManager(), cfg, nil)

	runCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	require.NoError(t, m.Run(runCtx, "tenant-a"))

	job, ok, err := store.GetJob(ctx, "job-a")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, job.NextDueUTC.After(time.Now().UTC()), "materialiser should advance nextDueUtc past now")
}

func TestTimerRunDispatcherEnqueuesIntoOutbox(t *testing.T) {
	schedStore := schedulerstore.NewMemoryStore()
	outboxStore := outboxstore.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, schedStore.ScheduleTimer(ctx, "timer-1", "t.fired", []byte("p"), time.Now().UTC().Add(-time.Second)))

	cfg := scheduler.LoadConfig()
	cfg.IdlePoll = 10 * time.Millisecond

	d := scheduler.NewTimerRunDispatcher(schedStore, outboxStore, testLeaseManager(), cfg, nil)

	runCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	require.NoError(t, d.Run(runCtx, "tenant-a"))

	row, ok, err := outboxStore.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "timer.t.fired", row.Topic)
}
