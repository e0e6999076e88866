// Package executor composes the lease, idempotency, and outbox primitives
// into a single exactly-once execution contract.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/correlator-io/correlator/internal/idempotencystore"
	"github.com/correlator-io/correlator/internal/ids"
	"github.com/correlator-io/correlator/internal/lease"
	"github.com/correlator-io/correlator/internal/outboxstore"
)

// Outcome reports what Execute actually did, distinguishing "ran" from
// "skipped because someone else already owns this operation or already
// completed it".
type Outcome int

const (
	// OutcomeSkipped means the lease or the idempotency lock was not
	// acquired; the caller did nothing.
	OutcomeSkipped Outcome = iota
	// OutcomeSucceeded means the handler ran and completed.
	OutcomeSucceeded
	// OutcomeFailed means the handler ran and returned an error.
	OutcomeFailed
)

// SideEffect is one message the handler wants published alongside
// completion. Execute enqueues each side effect with its own
// outboxstore.Enqueue call before calling idempotencystore.Complete; the
// enqueues and the completion do not share a database transaction.
type SideEffect struct {
	Topic         string
	Payload       []byte
	CorrelationID string
	DueTimeUTC    *time.Time
}

// Handler is the exactly-once unit of work. It returns the side effects
// to enqueue on success.
type Handler func(ctx context.Context) ([]SideEffect, error)

// TransactionalOutbox is the outbox store the executor enqueues side
// effects into. It is outboxstore.Store with nothing added: Execute calls
// Enqueue and then idempotencystore.Complete as separate statements, so
// with the Postgres backends a crash between them leaves side effects
// enqueued for a key that never reaches Completed; see DESIGN.md.
type TransactionalOutbox interface {
	outboxstore.Store
}

// Executor composes lease.Manager, idempotencystore.Store, and
// outboxstore.Store into one exactly-once operation.
type Executor struct {
	leases       *lease.Manager
	idempotency  idempotencystore.Store
	outbox       TransactionalOutbox
	lockDuration time.Duration
	logger       *slog.Logger
}

// New builds an Executor. lockDuration governs the idempotency lock TTL.
func New(
	leases *lease.Manager, idempotency idempotencystore.Store, outbox TransactionalOutbox,
	lockDuration time.Duration, logger *slog.Logger,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{leases: leases, idempotency: idempotency, outbox: outbox, lockDuration: lockDuration, logger: logger}
}

// Execute runs handler under the exactly-once contract for key:
//  1. acquire a lease named after key; skip if contended.
//  2. TryBegin the idempotency lock; skip if already in progress or done.
//  3. run handler; on success enqueue its side effects and Complete;
//     on failure call Fail without enqueuing.
//  4. release the lease on exit.
func (e *Executor) Execute(ctx context.Context, key string, handler Handler) (Outcome, error) {
	owner := ids.MustOwnerToken()

	l, err := e.leases.Acquire(ctx, "exec:"+key, owner)
	if err != nil {
		return OutcomeSkipped, err
	}

	if l == nil {
		return OutcomeSkipped, nil
	}
	defer l.Dispose()

	began, err := e.idempotency.TryBegin(l.Context(), key, owner, e.lockDuration)
	if err != nil {
		return OutcomeSkipped, err
	}

	if !began {
		return OutcomeSkipped, nil
	}

	effects, err := handler(l.Context())
	if err != nil {
		if failErr := e.idempotency.Fail(l.Context(), key, owner); failErr != nil {
			e.logger.Error("executor: mark failed failed", slog.String("key", key), slog.Any("error", failErr))
		}

		return OutcomeFailed, err
	}

	for _, effect := range effects {
		if _, enqueueErr := e.outbox.Enqueue(l.Context(), effect.Topic, effect.Payload, effect.CorrelationID, effect.DueTimeUTC); enqueueErr != nil {
			return OutcomeFailed, enqueueErr
		}
	}

	if err := e.idempotency.Complete(l.Context(), key, owner); err != nil {
		return OutcomeFailed, err
	}

	return OutcomeSucceeded, nil
}
