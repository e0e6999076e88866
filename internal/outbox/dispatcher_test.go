package outbox_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/correlator-io/correlator/internal/lease"
	"github.com/correlator-io/correlator/internal/leasestore"
	"github.com/correlator-io/correlator/internal/outbox"
	"github.com/correlator-io/correlator/internal/outboxstore"
)

func testLeaseManager() *lease.Manager {
	return lease.NewManager(leasestore.NewMemoryStore(), &lease.Config{
		DefaultLeaseDuration: 2 * time.Second,
		RenewPercent:         0.5,
	}, nil)
}

// TestDispatcherRoundTrip asserts the basic enqueue, dispatch, ack path.
func TestDispatcherRoundTrip(t *testing.T) {
	store := outboxstore.NewMemoryStore()
	ctx := context.Background()

	_, err := store.Enqueue(ctx, "o.t", []byte("p"), "", nil)
	require.NoError(t, err)

	var handled atomic.Bool

	registry := outbox.NewRegistry()
	registry.Register("o.t", func(_ context.Context, msg outbox.Message) error {
		handled.Store(true)
		require.Equal(t, []byte("p"), msg.Payload)

		return nil
	})

	cfg := outbox.LoadConfig()
	cfg.IdlePoll = 20 * time.Millisecond

	d := outbox.NewDispatcher(store, testLeaseManager(), registry, cfg, nil)

	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	require.NoError(t, d.Run(runCtx, "tenant-a"))
	require.True(t, handled.Load())
}

// TestDispatcherRescheduleThenFail asserts that a handler which always
// fails exhausts maxAttempts and reaches Failed.
func TestDispatcherRescheduleThenFail(t *testing.T) {
	store := outboxstore.NewMemoryStore()
	ctx := context.Background()

	id, err := store.Enqueue(ctx, "o.t", []byte("p"), "", nil)
	require.NoError(t, err)

	registry := outbox.NewRegistry()
	registry.Register("o.t", func(context.Context, outbox.Message) error {
		return errors.New("boom")
	})

	cfg := outbox.LoadConfig()
	cfg.MaxAttempts = 2
	cfg.BaseBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.IdlePoll = 5 * time.Millisecond

	d := outbox.NewDispatcher(store, testLeaseManager(), registry, cfg, nil)

	runCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()

	require.NoError(t, d.Run(runCtx, "tenant-a"))

	row, ok, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, outboxstore.StatusFailed, row.Status)
}

// TestDispatcherMissingHandler asserts the stable no-handler-for-topic
// error string is recorded as lastError.
func TestDispatcherMissingHandler(t *testing.T) {
	store := outboxstore.NewMemoryStore()
	ctx := context.Background()

	id, err := store.Enqueue(ctx, "unknown.topic", []byte("p"), "", nil)
	require.NoError(t, err)

	cfg := outbox.LoadConfig()
	cfg.MaxAttempts = 1
	cfg.IdlePoll = 5 * time.Millisecond

	d := outbox.NewDispatcher(store, testLeaseManager(), outbox.NewRegistry(), cfg, nil)

	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	require.NoError(t, d.Run(runCtx, "tenant-a"))

	row, ok, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, outboxstore.StatusFailed, row.Status)
	require.Equal(t, outbox.ErrNoHandlerForTopic.Error(), row.LastError)
}
