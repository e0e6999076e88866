package idempotencystore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/correlator-io/correlator/internal/idempotencystore"
)

func TestTryBeginCompletedIsTerminal(t *testing.T) {
	store := idempotencystore.NewMemoryStore()
	ctx := context.Background()

	ok, err := store.TryBegin(ctx, "op-1", "owner-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Complete(ctx, "op-1", "owner-1"))

	ok, err = store.TryBegin(ctx, "op-1", "owner-2", time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "completed keys never reopen")
}

func TestTryBeginLockContention(t *testing.T) {
	store := idempotencystore.NewMemoryStore()
	ctx := context.Background()

	ok, err := store.TryBegin(ctx, "op-1", "owner-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.TryBegin(ctx, "op-1", "owner-2", time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "a live foreign lock blocks a second owner")
}

func TestTryBeginReopensAfterFail(t *testing.T) {
	store := idempotencystore.NewMemoryStore()
	ctx := context.Background()

	ok, err := store.TryBegin(ctx, "op-1", "owner-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Fail(ctx, "op-1", "owner-1"))

	ok, err = store.TryBegin(ctx, "op-1", "owner-2", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "failed keys are reopenable")
}

func TestCleanupRemovesOldTerminalRows(t *testing.T) {
	store := idempotencystore.NewMemoryStore()
	ctx := context.Background()

	ok, err := store.TryBegin(ctx, "op-1", "owner-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.Complete(ctx, "op-1", "owner-1"))

	time.Sleep(2 * time.Millisecond)

	n, err := store.Cleanup(ctx, time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, ok, err = store.Get(ctx, "op-1")
	require.NoError(t, err)
	require.False(t, ok)
}
