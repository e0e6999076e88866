// Package leasestore defines the row-level contract for fenced, named
// leases and the two reference implementations: PostgreSQL and in-memory.
package leasestore

import (
	"context"
	"time"
)

// Row is a snapshot of a lease's durable state.
type Row struct {
	ResourceName  string
	OwnerToken    string // empty when free
	LeaseUntilUTC time.Time
	FencingToken  int64
	ContextJSON   string
}

// Held reports whether the row currently has a live (non-expired) owner.
func (r Row) Held(now time.Time) bool {
	return r.OwnerToken != "" && now.Before(r.LeaseUntilUTC)
}

// Store is the abstract contract every backend (Postgres, in-memory) must
// satisfy for lease acquisition, renewal, and release.
//
// Acquire succeeds iff the row is free, expired, or already owned by the
// caller; on success the fencing token strictly increases. Renew succeeds
// iff the row is still owned by the caller and not expired; the fencing
// token strictly increases again. Release nulls ownership fields
// unconditionally when the caller matches, and is a silent no-op
// otherwise.
type Store interface {
	// Acquire attempts to take ownership of resourceName for leaseSeconds.
	// Returns (row, true, nil) on success, (zero, false, nil) when another
	// live owner holds it, or a non-nil error for invalid arguments or
	// transient store failures.
	Acquire(ctx context.Context, resourceName, owner string, leaseSeconds int, contextJSON string) (Row, bool, error)

	// Renew extends an existing lease the caller still owns.
	// Returns (row, true, nil) on success; (zero, false, nil) if the
	// caller no longer owns the row or it has expired.
	Renew(ctx context.Context, resourceName, owner string, leaseSeconds int) (Row, bool, error)

	// Release nulls ownership fields if owner currently holds the lease.
	// Never returns an error for a non-owning caller; this is a no-op.
	Release(ctx context.Context, resourceName, owner string) error

	// Get returns the current row for observability/testing. ok is false
	// if the resource has never been acquired.
	Get(ctx context.Context, resourceName string) (Row, bool, error)
}
