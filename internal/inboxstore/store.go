// Package inboxstore defines the row-level contract for the at-most-once
// ingestion inbox. It mirrors outboxstore but adds dedupe-on-ingest and
// operator-visible transitions
// independent of claim ownership.
package inboxstore

import (
	"context"
	"time"
)

// Status is the lifecycle state of an inbox row.
type Status string

const (
	StatusSeen       Status = "seen"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusDead       Status = "dead"
)

// Row is a snapshot of one inbox row.
type Row struct {
	MessageID    string
	Source       string
	Topic        string
	Payload      []byte
	Hash         string // empty when absent
	Status       Status
	OwnerToken   string
	LockedUntil  *time.Time
	DueTimeUTC   *time.Time
	FirstSeenUTC time.Time
	LastSeenUTC  time.Time
	ProcessedUTC *time.Time
	Attempts     int
	LastError    string
}

// Store is the abstract contract for inbox persistence. As with
// outboxstore, mutating methods return (applied bool, err error): owner
// mismatches and missing rows are never errors.
type Store interface {
	// AlreadyProcessed upserts (messageId, source, hash) as Seen,
	// incrementing attempts, and reports whether it is already Done.
	AlreadyProcessed(ctx context.Context, messageID, source, hash string) (alreadyDone bool, err error)

	// Enqueue upserts a row for processing. Duplicate enqueues before the
	// row is processed retain the earliest-seen payload and dueTimeUtc.
	Enqueue(
		ctx context.Context, topic, source, messageID string, payload []byte, hash string, dueTimeUTC *time.Time,
	) error

	// MarkProcessing/MarkProcessed/MarkDead are operator-visible
	// transitions independent of claim ownership.
	MarkProcessing(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID string) (bool, error)
	MarkDead(ctx context.Context, messageID string, lastError string) (bool, error)

	// ClaimAsync claims rows Seen or Processing-with-expired-lock whose
	// dueTimeUtc has been reached, up to batchSize, FIFO ordered.
	ClaimAsync(ctx context.Context, owner string, leaseSeconds, batchSize int) ([]Row, error)

	// Ack transitions a claimed row to terminal Done.
	Ack(ctx context.Context, messageID, owner string) (bool, error)

	// Abandon returns a claimed row to Seen, optionally delaying the next
	// due time, and records lastError.
	Abandon(ctx context.Context, messageID, owner string, delay time.Duration, lastError string) (bool, error)

	// Fail transitions a claimed row to terminal Dead.
	Fail(ctx context.Context, messageID, owner string, lastError string) (bool, error)

	// Revive requeues a Dead row back to Seen with an optional delay.
	Revive(ctx context.Context, messageID string, delay time.Duration) (bool, error)

	// ReapExpired transitions abandoned Processing rows whose lockedUntil
	// has expired back to Seen, returning the count reaped.
	ReapExpired(ctx context.Context) (int, error)

	// GetNextEventTime returns the earliest dueTimeUtc among claimable
	// rows, or ok=false if there are none.
	GetNextEventTime(ctx context.Context) (t time.Time, ok bool, err error)

	// Get returns a single row by messageId, for tests and observability.
	Get(ctx context.Context, messageID string) (Row, bool, error)
}
