package outboxstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/correlator-io/correlator/internal/outboxstore"
)

func TestMemoryStoreEnqueueAndClaim(t *testing.T) {
	store := outboxstore.NewMemoryStore()
	ctx := context.Background()

	id, err := store.Enqueue(ctx, "o.t", []byte("p"), "corr-1", nil)
	require.NoError(t, err)
	require.Positive(t, id)

	rows, err := store.ClaimDue(ctx, "owner-1", 30, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, outboxstore.StatusClaimed, rows[0].Status)
	require.Equal(t, "owner-1", rows[0].OwnerToken)

	rows, err = store.ClaimDue(ctx, "owner-2", 30, 10)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestMemoryStoreMarkDispatched(t *testing.T) {
	store := outboxstore.NewMemoryStore()
	ctx := context.Background()

	id, err := store.Enqueue(ctx, "o.t", []byte("p"), "", nil)
	require.NoError(t, err)

	rows, err := store.ClaimDue(ctx, "owner-1", 30, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	applied, err := store.MarkDispatched(ctx, id, "wrong-owner")
	require.NoError(t, err)
	require.False(t, applied)

	applied, err = store.MarkDispatched(ctx, id, "owner-1")
	require.NoError(t, err)
	require.True(t, applied)

	row, ok, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, outboxstore.StatusDone, row.Status)
}

func TestMemoryStoreRescheduleBumpsAttempts(t *testing.T) {
	store := outboxstore.NewMemoryStore()
	ctx := context.Background()

	id, err := store.Enqueue(ctx, "o.t", []byte("p"), "", nil)
	require.NoError(t, err)

	rows, err := store.ClaimDue(ctx, "owner-1", 30, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	applied, err := store.Reschedule(ctx, id, "owner-1", time.Second, "boom")
	require.NoError(t, err)
	require.True(t, applied)

	row, ok, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, outboxstore.StatusReady, row.Status)
	require.Equal(t, 1, row.Attempts)
	require.Equal(t, "boom", row.LastError)
}

func TestMemoryStoreFailIsTerminal(t *testing.T) {
	store := outboxstore.NewMemoryStore()
	ctx := context.Background()

	id, err := store.Enqueue(ctx, "o.t", []byte("p"), "", nil)
	require.NoError(t, err)

	_, err = store.ClaimDue(ctx, "owner-1", 30, 10)
	require.NoError(t, err)

	applied, err := store.Fail(ctx, id, "owner-1", "unrecoverable")
	require.NoError(t, err)
	require.True(t, applied)

	rows, err := store.ClaimDue(ctx, "owner-2", 30, 10)
	require.NoError(t, err)
	require.Empty(t, rows, "terminal rows are never re-claimed")
}

func TestMemoryStoreGetNextEventTime(t *testing.T) {
	store := outboxstore.NewMemoryStore()
	ctx := context.Background()

	_, ok, err := store.GetNextEventTime(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	due := time.Now().UTC().Add(time.Hour)
	_, err = store.Enqueue(ctx, "o.t", []byte("p"), "", &due)
	require.NoError(t, err)

	next, ok, err := store.GetNextEventTime(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.WithinDuration(t, due, next, time.Second)
}
