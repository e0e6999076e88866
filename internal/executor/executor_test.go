package executor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/correlator-io/correlator/internal/executor"
	"github.com/correlator-io/correlator/internal/idempotencystore"
	"github.com/correlator-io/correlator/internal/lease"
	"github.com/correlator-io/correlator/internal/leasestore"
	"github.com/correlator-io/correlator/internal/outboxstore"
)

func newExecutor() (*executor.Executor, *outboxstore.MemoryStore) {
	leases := lease.NewManager(leasestore.NewMemoryStore(), &lease.Config{
		DefaultLeaseDuration: 2 * time.Second,
		RenewPercent:         0.5,
	}, nil)
	outbox := outboxstore.NewMemoryStore()
	idempotency := idempotencystore.NewMemoryStore()

	return executor.New(leases, idempotency, outbox, time.Minute, nil), outbox
}

func TestExecuteSucceedsAndEnqueuesSideEffects(t *testing.T) {
	e, outbox := newExecutor()
	ctx := context.Background()

	outcome, err := e.Execute(ctx, "op-1", func(context.Context) ([]executor.SideEffect, error) {
		return []executor.SideEffect{{Topic: "o.t", Payload: []byte("p")}}, nil
	})
	require.NoError(t, err)
	require.Equal(t, executor.OutcomeSucceeded, outcome)

	row, ok, err := outbox.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "o.t", row.Topic)
}

func TestExecuteSkipsOnSecondConcurrentCall(t *testing.T) {
	e, _ := newExecutor()
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _ = e.Execute(ctx, "op-1", func(context.Context) ([]executor.SideEffect, error) {
			close(started)
			<-release

			return nil, nil
		})
	}()

	<-started

	outcome, err := e.Execute(ctx, "op-1", func(context.Context) ([]executor.SideEffect, error) {
		t.Fatal("handler must not run while the first execution holds the lease")

		return nil, nil
	})
	require.NoError(t, err)
	require.Equal(t, executor.OutcomeSkipped, outcome)

	close(release)
}

func TestExecuteFailurePropagatesErrorWithoutEnqueue(t *testing.T) {
	e, outbox := newExecutor()
	ctx := context.Background()
	boom := errors.New("boom")

	outcome, err := e.Execute(ctx, "op-1", func(context.Context) ([]executor.SideEffect, error) {
		return []executor.SideEffect{{Topic: "o.t", Payload: []byte("p")}}, boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, executor.OutcomeFailed, outcome)

	_, ok, err := outbox.Get(ctx, 1)
	require.NoError(t, err)
	require.False(t, ok, "side effects must not be enqueued on handler failure")
}
