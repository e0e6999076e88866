package webhook_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/correlator-io/correlator/internal/inboxstore"
	"github.com/correlator-io/correlator/internal/lease"
	"github.com/correlator-io/correlator/internal/leasestore"
	"github.com/correlator-io/correlator/internal/webhook"
)

func testLeaseManager() *lease.Manager {
	return lease.NewManager(leasestore.NewMemoryStore(), &lease.Config{
		DefaultLeaseDuration: 2 * time.Second,
		RenewPercent:         0.5,
	}, nil)
}

func TestProcessorDispatchesToProviderHandler(t *testing.T) {
	store := inboxstore.NewMemoryStore()
	ctx := context.Background()

	var handled atomic.Bool

	provider := &webhook.Provider{
		Name: "github",
		Handlers: map[string]webhook.EventHandler{
			"pull_request": func(_ context.Context, record webhook.EventRecord) error {
				handled.Store(true)
				require.Equal(t, "github", record.Provider)

				return nil
			},
		},
	}

	payload, err := json.Marshal(webhook.EventRecord{Provider: "github", EventType: "pull_request"})
	require.NoError(t, err)
	require.NoError(t, store.Enqueue(ctx, "pull_request", "github", "github:evt-1", payload, "", nil))

	cfg := &webhook.Config{MaxAttempts: 5, LeaseSeconds: 30, BatchSize: 10, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	d := webhook.NewProcessor(store, testLeaseManager(), []*webhook.Provider{provider}, cfg, nil)

	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	require.NoError(t, d.Run(runCtx, "tenant-a"))
	require.True(t, handled.Load())

	row, ok, err := store.Get(ctx, "github:evt-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, inboxstore.StatusDone, row.Status)
}

func TestProcessorCarriesAttemptSnapshotInContext(t *testing.T) {
	store := inboxstore.NewMemoryStore()
	ctx := context.Background()

	var gotSnapshot webhook.AttemptSnapshot

	var gotOK bool

	provider := &webhook.Provider{
		Name: "github",
		Handlers: map[string]webhook.EventHandler{
			"pull_request": func(handlerCtx context.Context, _ webhook.EventRecord) error {
				gotSnapshot, gotOK = webhook.AttemptFromContext(handlerCtx)

				return nil
			},
		},
	}

	payload, err := json.Marshal(webhook.EventRecord{Provider: "github", EventType: "pull_request"})
	require.NoError(t, err)
	require.NoError(t, store.Enqueue(ctx, "pull_request", "github", "github:evt-2", payload, "", nil))

	cfg := &webhook.Config{MaxAttempts: 5, LeaseSeconds: 30, BatchSize: 10, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	d := webhook.NewProcessor(store, testLeaseManager(), []*webhook.Provider{provider}, cfg, nil)

	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	require.NoError(t, d.Run(runCtx, "tenant-a"))
	require.True(t, gotOK)
	require.Equal(t, 0, gotSnapshot.Count)
}
