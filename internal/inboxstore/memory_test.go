package inboxstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/correlator-io/correlator/internal/inboxstore"
)

func TestMemoryStoreAlreadyProcessedDedupe(t *testing.T) {
	store := inboxstore.NewMemoryStore()
	ctx := context.Background()

	alreadyDone, err := store.AlreadyProcessed(ctx, "msg-1", "provider-a", "hash-1")
	require.NoError(t, err)
	require.False(t, alreadyDone)

	require.NoError(t, store.Enqueue(ctx, "i.t", "provider-a", "msg-1", []byte("p"), "hash-1", nil))

	rows, err := store.ClaimAsync(ctx, "owner-1", 30, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	applied, err := store.Ack(ctx, "msg-1", "owner-1")
	require.NoError(t, err)
	require.True(t, applied)

	alreadyDone, err = store.AlreadyProcessed(ctx, "msg-1", "provider-a", "hash-1")
	require.NoError(t, err)
	require.True(t, alreadyDone, "duplicate ingest of a Done message must report already-processed")
}

func TestMemoryStoreReviveDeadRow(t *testing.T) {
	store := inboxstore.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, "i.t", "provider-a", "msg-1", []byte("p"), "", nil))

	rows, err := store.ClaimAsync(ctx, "owner-1", 30, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	applied, err := store.Fail(ctx, "msg-1", "owner-1", "unrecoverable")
	require.NoError(t, err)
	require.True(t, applied)

	row, ok, err := store.Get(ctx, "msg-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, inboxstore.StatusDead, row.Status)

	applied, err = store.Revive(ctx, "msg-1", 0)
	require.NoError(t, err)
	require.True(t, applied)

	row, ok, err = store.Get(ctx, "msg-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, inboxstore.StatusSeen, row.Status)
}

func TestMemoryStoreReapExpired(t *testing.T) {
	store := inboxstore.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, "i.t", "provider-a", "msg-1", []byte("p"), "", nil))

	// Claim with a lease that's already expired.
	_, err := store.ClaimAsync(ctx, "owner-1", 0, 10)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	n, err := store.ReapExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	row, ok, err := store.Get(ctx, "msg-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, inboxstore.StatusSeen, row.Status)
}
