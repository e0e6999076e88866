// Package outboxstore defines the row-level contract for the
// transactional outbox.
package outboxstore

import (
	"context"
	"time"
)

// Status is the lifecycle state of an outbox row.
type Status string

const (
	StatusReady   Status = "ready"
	StatusClaimed Status = "claimed"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Row is a snapshot of one outbox row.
type Row struct {
	ID            int64
	Topic         string
	Payload       []byte
	CorrelationID string // empty when absent
	DueTimeUTC    *time.Time
	Status        Status
	OwnerToken    string
	LockedUntil   *time.Time
	Attempts      int
	LastError     string
}

// Store is the abstract contract for outbox persistence. The owner-scoped
// transitions (MarkDispatched, Reschedule, Fail) return (applied bool,
// err error): applied is false when the row didn't exist, was already
// terminal, or was owned by someone else — never an error.
type Store interface {
	// Enqueue inserts a Ready row. dueTimeUTC may be nil for "due now".
	Enqueue(ctx context.Context, topic string, payload []byte, correlationID string, dueTimeUTC *time.Time) (int64, error)

	// ClaimDue returns up to limit rows that are Ready and due now or
	// earlier, or Claimed with an expired lock, skipping rows locked by
	// concurrent claimants, atomically transitioning them to Claimed with
	// owner/lockedUntil stamped. Ordered FIFO by (dueTimeUtc, insertion
	// order). limit<=0 is InvalidArgument.
	ClaimDue(ctx context.Context, owner string, leaseSeconds, limit int) ([]Row, error)

	// MarkDispatched transitions a claimed row to terminal Done.
	MarkDispatched(ctx context.Context, id int64, owner string) (bool, error)

	// Reschedule returns a claimed row to Ready, bumping attempts and
	// setting dueTimeUtc = now + delay.
	Reschedule(ctx context.Context, id int64, owner string, delay time.Duration, lastError string) (bool, error)

	// Fail transitions a claimed row to terminal Failed.
	Fail(ctx context.Context, id int64, owner string, lastError string) (bool, error)

	// GetNextEventTime returns the earliest dueTimeUtc among Ready rows,
	// or ok=false if there are none — used by the dispatcher's idle-poll
	// sleep calculation.
	GetNextEventTime(ctx context.Context) (t time.Time, ok bool, err error)

	// Get returns a single row by id, for tests and observability.
	Get(ctx context.Context, id int64) (Row, bool, error)
}
