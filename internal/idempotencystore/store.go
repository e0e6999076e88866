// Package idempotencystore defines the row-level contract for the
// idempotency lock backing the exactly-once executor.
package idempotencystore

import (
	"context"
	"time"
)

// Status is the lifecycle state of an idempotency row.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Row is a snapshot of one idempotency row.
type Row struct {
	Key          string
	Status       Status
	LockedUntil  *time.Time
	LockedBy     string
	FailureCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

// Store is the abstract contract for idempotency locking. TryBegin opens
// a serializable transaction reading the row for update: it returns false
// if the key is already Completed, or a non-expired foreign lock is held;
// otherwise it upserts InProgress with the caller's owner and a lock
// expiry.
type Store interface {
	// TryBegin attempts to acquire the idempotency lock for key, held by
	// owner for lockDuration. Returns false if Completed (terminal) or
	// locked by someone else and not yet expired.
	TryBegin(ctx context.Context, key, owner string, lockDuration time.Duration) (bool, error)

	// Complete transitions key to terminal Completed.
	Complete(ctx context.Context, key, owner string) error

	// Fail transitions key to Failed, reopenable by a later TryBegin.
	Fail(ctx context.Context, key, owner string) error

	// Cleanup deletes Completed or Failed rows older than retentionPeriod,
	// returning the count removed.
	Cleanup(ctx context.Context, retentionPeriod time.Duration) (int, error)

	// Get returns a single row by key, for tests and observability.
	Get(ctx context.Context, key string) (Row, bool, error)
}
