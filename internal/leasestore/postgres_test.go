package leasestore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/correlator-io/correlator/internal/config"
	"github.com/correlator-io/correlator/internal/leasestore"
)

func TestPostgresStoreAcquireRenewRelease(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	store := leasestore.NewPostgresStore(testDB.Connection, config.TestSchema, nil)

	row, ok, err := store.Acquire(ctx, "outbox:tenant-a", "owner-1", 30, "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), row.FencingToken)

	_, contended, err := store.Acquire(ctx, "outbox:tenant-a", "owner-2", 30, "")
	require.NoError(t, err)
	require.False(t, contended)

	renewed, ok, err := store.Renew(ctx, "outbox:tenant-a", "owner-1", 30)
	require.NoError(t, err)
	require.True(t, ok)
	require.Greater(t, renewed.FencingToken, row.FencingToken)

	require.NoError(t, store.Release(ctx, "outbox:tenant-a", "owner-1"))

	got, found, err := store.Get(ctx, "outbox:tenant-a")
	require.NoError(t, err)
	require.True(t, found)
	require.Empty(t, got.OwnerToken)
}
