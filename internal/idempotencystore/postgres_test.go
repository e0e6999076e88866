package idempotencystore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/correlator-io/correlator/internal/config"
	"github.com/correlator-io/correlator/internal/idempotencystore"
)

func TestPostgresStoreTryBeginCompleteCleanup(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	store := idempotencystore.NewPostgresStore(testDB.Connection, config.TestSchema, nil)

	began, err := store.TryBegin(ctx, "op-1", "owner-1", time.Minute)
	require.NoError(t, err)
	require.True(t, began)

	againOtherOwner, err := store.TryBegin(ctx, "op-1", "owner-2", time.Minute)
	require.NoError(t, err)
	require.False(t, againOtherOwner)

	require.NoError(t, store.Complete(ctx, "op-1", "owner-1"))

	row, found, err := store.Get(ctx, "op-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, idempotencystore.StatusCompleted, row.Status)

	removed, err := store.Cleanup(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, found, err = store.Get(ctx, "op-1")
	require.NoError(t, err)
	require.False(t, found)
}
