package outboxstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/correlator-io/correlator/internal/config"
	"github.com/correlator-io/correlator/internal/outboxstore"
)

func TestPostgresStoreEnqueueClaimAck(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	store := outboxstore.NewPostgresStore(testDB.Connection, config.TestSchema, nil)

	id, err := store.Enqueue(ctx, "orders.created", []byte(`{"id":1}`), "corr-1", nil)
	require.NoError(t, err)
	require.NotZero(t, id)

	rows, err := store.ClaimDue(ctx, "owner-1", 30, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, id, rows[0].ID)
	require.Equal(t, "orders.created", rows[0].Topic)

	ok, err := store.MarkDispatched(ctx, id, "owner-1")
	require.NoError(t, err)
	require.True(t, ok)

	row, found, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "done", row.Status)

	again, err := store.ClaimDue(ctx, "owner-2", 30, 10)
	require.NoError(t, err)
	require.Empty(t, again)
}
