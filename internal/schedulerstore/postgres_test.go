package schedulerstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/correlator-io/correlator/internal/config"
	"github.com/correlator-io/correlator/internal/schedulerstore"
)

func TestPostgresStoreScheduleClaimAckTimer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	store := schedulerstore.NewPostgresStore(testDB.Connection, config.TestSchema, nil)

	due := time.Now().UTC().Add(-time.Second)
	require.NoError(t, store.ScheduleTimer(ctx, "timer-1", "reminders.due", []byte("payload"), due))

	rows, err := store.ClaimTimers(ctx, "owner-1", 30, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "timer-1", rows[0].TimerID)

	n, err := store.AckTimers(ctx, "owner-1", []string{"timer-1"})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	empty, err := store.ClaimTimers(ctx, "owner-2", 30, 10)
	require.NoError(t, err)
	require.Empty(t, empty)
}
