package outboxstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/correlator-io/correlator/internal/coreerr"
)

// MemoryStore is the in-memory reference implementation of Store.
type MemoryStore struct {
	mu     sync.Mutex
	rows   map[int64]*Row
	nextID int64
}

// NewMemoryStore creates an empty in-memory outbox store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[int64]*Row)}
}

func (s *MemoryStore) Enqueue(
	_ context.Context, topic string, payload []byte, correlationID string, dueTimeUTC *time.Time,
) (int64, error) {
	if topic == "" {
		return 0, coreerr.NewInvalidArgument("topic", "must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID

	s.rows[id] = &Row{
		ID:            id,
		Topic:         topic,
		Payload:       payload,
		CorrelationID: correlationID,
		DueTimeUTC:    dueTimeUTC,
		Status:        StatusReady,
	}

	return id, nil
}

func (s *MemoryStore) ClaimDue(_ context.Context, owner string, leaseSeconds, limit int) ([]Row, error) {
	if limit <= 0 {
		return nil, coreerr.NewInvalidArgument("limit", "must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	var candidates []*Row

	for _, r := range s.rows {
		if r.Status == StatusReady && (r.DueTimeUTC == nil || !r.DueTimeUTC.After(now)) {
			candidates = append(candidates, r)
		} else if r.Status == StatusClaimed && r.LockedUntil != nil && r.LockedUntil.Before(now) {
			candidates = append(candidates, r) // expired claim, reclaimable
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		di, dj := dueOrMin(candidates[i]), dueOrMin(candidates[j])
		if di.Equal(dj) {
			return candidates[i].ID < candidates[j].ID
		}

		return di.Before(dj)
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	lockedUntil := now.Add(time.Duration(leaseSeconds) * time.Second)
	result := make([]Row, 0, len(candidates))

	for _, r := range candidates {
		r.Status = StatusClaimed
		r.OwnerToken = owner
		r.LockedUntil = &lockedUntil
		result = append(result, *r)
	}

	return result, nil
}

func dueOrMin(r *Row) time.Time {
	if r.DueTimeUTC == nil {
		return time.Time{}
	}

	return *r.DueTimeUTC
}

func (s *MemoryStore) MarkDispatched(_ context.Context, id int64, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.rows[id]
	if !exists || r.Status != StatusClaimed || r.OwnerToken != owner {
		return false, nil
	}

	r.Status = StatusDone
	r.OwnerToken = ""
	r.LockedUntil = nil

	return true, nil
}

func (s *MemoryStore) Reschedule(
	_ context.Context, id int64, owner string, delay time.Duration, lastError string,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.rows[id]
	if !exists || r.Status != StatusClaimed || r.OwnerToken != owner {
		return false, nil
	}

	due := time.Now().UTC().Add(delay)
	r.Status = StatusReady
	r.OwnerToken = ""
	r.LockedUntil = nil
	r.DueTimeUTC = &due
	r.Attempts++
	r.LastError = lastError

	return true, nil
}

func (s *MemoryStore) Fail(_ context.Context, id int64, owner string, lastError string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.rows[id]
	if !exists || r.Status != StatusClaimed || r.OwnerToken != owner {
		return false, nil
	}

	r.Status = StatusFailed
	r.OwnerToken = ""
	r.LockedUntil = nil
	r.LastError = lastError

	return true, nil
}

func (s *MemoryStore) GetNextEventTime(_ context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		best  time.Time
		found bool
	)

	for _, r := range s.rows {
		if r.Status != StatusReady {
			continue
		}

		due := dueOrMin(r)
		if !found || due.Before(best) {
			best = due
			found = true
		}
	}

	return best, found, nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (Row, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.rows[id]
	if !exists {
		return Row{}, false, nil
	}

	return *r, true, nil
}
