package leasestore

import (
	"context"
	"sync"
	"time"

	"github.com/correlator-io/correlator/internal/coreerr"
)

// MemoryStore is a thread-safe in-memory Store, the in-memory reference
// implementation. Shape follows the teacher's
// InMemoryKeyStore: one mutex guarding one map, copies in and out.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]Row
}

// NewMemoryStore creates an empty in-memory lease store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]Row)}
}

func (s *MemoryStore) Acquire(
	_ context.Context, resourceName, owner string, leaseSeconds int, contextJSON string,
) (Row, bool, error) {
	if resourceName == "" || owner == "" {
		return Row{}, false, coreerr.NewInvalidArgument("resourceName/owner", "must not be empty")
	}

	if leaseSeconds <= 0 {
		return Row{}, false, coreerr.NewInvalidArgument("leaseSeconds", "must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	row, exists := s.rows[resourceName]
	if exists && row.Held(now) && row.OwnerToken != owner {
		return Row{}, false, nil
	}

	row = Row{
		ResourceName:  resourceName,
		OwnerToken:    owner,
		LeaseUntilUTC: now.Add(time.Duration(leaseSeconds) * time.Second),
		FencingToken:  row.FencingToken + 1,
		ContextJSON:   contextJSON,
	}
	s.rows[resourceName] = row

	return row, true, nil
}

func (s *MemoryStore) Renew(_ context.Context, resourceName, owner string, leaseSeconds int) (Row, bool, error) {
	if leaseSeconds <= 0 {
		return Row{}, false, coreerr.NewInvalidArgument("leaseSeconds", "must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	row, exists := s.rows[resourceName]
	if !exists || row.OwnerToken != owner || !row.Held(now) {
		return Row{}, false, nil
	}

	row.LeaseUntilUTC = now.Add(time.Duration(leaseSeconds) * time.Second)
	row.FencingToken++
	s.rows[resourceName] = row

	return row, true, nil
}

func (s *MemoryStore) Release(_ context.Context, resourceName, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, exists := s.rows[resourceName]
	if !exists || row.OwnerToken != owner {
		return nil // owner mismatch or already free: silent no-op
	}

	row.OwnerToken = ""
	row.ContextJSON = ""
	s.rows[resourceName] = row

	return nil
}

func (s *MemoryStore) Get(_ context.Context, resourceName string) (Row, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, exists := s.rows[resourceName]

	return row, exists, nil
}
