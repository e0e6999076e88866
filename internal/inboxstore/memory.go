package inboxstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/correlator-io/correlator/internal/coreerr"
)

// MemoryStore is the in-memory reference implementation of Store.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]*Row
}

// NewMemoryStore creates an empty in-memory inbox store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*Row)}
}

func (s *MemoryStore) AlreadyProcessed(_ context.Context, messageID, source, hash string) (bool, error) {
	if messageID == "" {
		return false, coreerr.NewInvalidArgument("messageID", "must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	r, exists := s.rows[messageID]
	if !exists {
		s.rows[messageID] = &Row{
			MessageID:    messageID,
			Source:       source,
			Hash:         hash,
			Status:       StatusSeen,
			FirstSeenUTC: now,
			LastSeenUTC:  now,
			Attempts:     1,
		}

		return false, nil
	}

	r.LastSeenUTC = now
	r.Attempts++

	return r.Status == StatusDone, nil
}

func (s *MemoryStore) Enqueue(
	_ context.Context, topic, source, messageID string, payload []byte, hash string, dueTimeUTC *time.Time,
) error {
	if messageID == "" {
		return coreerr.NewInvalidArgument("messageID", "must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	r, exists := s.rows[messageID]
	if !exists {
		s.rows[messageID] = &Row{
			MessageID:    messageID,
			Source:       source,
			Topic:        topic,
			Payload:      payload,
			Hash:         hash,
			Status:       StatusSeen,
			DueTimeUTC:   dueTimeUTC,
			FirstSeenUTC: now,
			LastSeenUTC:  now,
		}

		return nil
	}

	r.LastSeenUTC = now

	if r.Status == StatusSeen {
		// Retain earliest-seen payload/topic/due time until processed.
		if r.Topic == "" {
			r.Topic = topic
		}

		if r.Payload == nil {
			r.Payload = payload
		}

		if r.DueTimeUTC == nil {
			r.DueTimeUTC = dueTimeUTC
		}
	}

	return nil
}

func (s *MemoryStore) MarkProcessing(_ context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.rows[messageID]
	if !exists {
		return false, nil
	}

	r.Status = StatusProcessing

	return true, nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.rows[messageID]
	if !exists {
		return false, nil
	}

	now := time.Now().UTC()
	r.Status = StatusDone
	r.ProcessedUTC = &now

	return true, nil
}

func (s *MemoryStore) MarkDead(_ context.Context, messageID string, lastError string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.rows[messageID]
	if !exists {
		return false, nil
	}

	r.Status = StatusDead
	r.LastError = lastError

	return true, nil
}

func (s *MemoryStore) ClaimAsync(_ context.Context, owner string, leaseSeconds, batchSize int) ([]Row, error) {
	if batchSize <= 0 {
		return nil, coreerr.NewInvalidArgument("batchSize", "must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	var candidates []*Row

	for _, r := range s.rows {
		if !claimable(r, now) {
			continue
		}

		candidates = append(candidates, r)
	}

	sort.Slice(candidates, func(i, j int) bool {
		di, dj := dueOrMin(candidates[i]), dueOrMin(candidates[j])
		if di.Equal(dj) {
			return candidates[i].MessageID < candidates[j].MessageID
		}

		return di.Before(dj)
	})

	if len(candidates) > batchSize {
		candidates = candidates[:batchSize]
	}

	lockedUntil := now.Add(time.Duration(leaseSeconds) * time.Second)
	result := make([]Row, 0, len(candidates))

	for _, r := range candidates {
		r.Status = StatusProcessing
		r.OwnerToken = owner
		r.LockedUntil = &lockedUntil
		result = append(result, *r)
	}

	return result, nil
}

func claimable(r *Row, now time.Time) bool {
	if r.DueTimeUTC != nil && r.DueTimeUTC.After(now) {
		return false
	}

	switch r.Status {
	case StatusSeen:
		return true
	case StatusProcessing:
		return r.LockedUntil == nil || r.LockedUntil.Before(now)
	default:
		return false
	}
}

func dueOrMin(r *Row) time.Time {
	if r.DueTimeUTC == nil {
		return time.Time{}
	}

	return *r.DueTimeUTC
}

func (s *MemoryStore) Ack(_ context.Context, messageID, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.rows[messageID]
	if !exists || r.Status != StatusProcessing || r.OwnerToken != owner {
		return false, nil
	}

	now := time.Now().UTC()
	r.Status = StatusDone
	r.ProcessedUTC = &now
	r.OwnerToken = ""
	r.LockedUntil = nil

	return true, nil
}

func (s *MemoryStore) Abandon(
	_ context.Context, messageID, owner string, delay time.Duration, lastError string,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.rows[messageID]
	if !exists || r.Status != StatusProcessing || r.OwnerToken != owner {
		return false, nil
	}

	due := time.Now().UTC().Add(delay)
	r.Status = StatusSeen
	r.OwnerToken = ""
	r.LockedUntil = nil
	r.DueTimeUTC = &due
	r.Attempts++
	r.LastError = lastError

	return true, nil
}

func (s *MemoryStore) Fail(_ context.Context, messageID, owner string, lastError string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.rows[messageID]
	if !exists || r.Status != StatusProcessing || r.OwnerToken != owner {
		return false, nil
	}

	r.Status = StatusDead
	r.OwnerToken = ""
	r.LockedUntil = nil
	r.LastError = lastError

	return true, nil
}

func (s *MemoryStore) Revive(_ context.Context, messageID string, delay time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.rows[messageID]
	if !exists || r.Status != StatusDead {
		return false, nil
	}

	due := time.Now().UTC().Add(delay)
	r.Status = StatusSeen
	r.DueTimeUTC = &due
	r.LastError = ""

	return true, nil
}

func (s *MemoryStore) ReapExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	count := 0

	for _, r := range s.rows {
		if r.Status == StatusProcessing && r.LockedUntil != nil && r.LockedUntil.Before(now) {
			r.Status = StatusSeen
			r.OwnerToken = ""
			r.LockedUntil = nil
			count++
		}
	}

	return count, nil
}

func (s *MemoryStore) GetNextEventTime(_ context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		best  time.Time
		found bool
	)

	for _, r := range s.rows {
		if r.Status != StatusSeen {
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

func (s *MemoryStore) Get(_ context.Context, messageID string) (Row, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.rows[messageID]
	if !exists {
		return Row{}, false, nil
	}

	return *r, true, nil
}
