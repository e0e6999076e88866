package schedulerstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/correlator-io/correlator/internal/coreerr"
	"github.com/correlator-io/correlator/internal/ids"
)

// MemoryStore is the in-memory reference implementation of Store.
type MemoryStore struct {
	mu      sync.Mutex
	timers  map[string]*TimerRow
	jobs    map[string]*JobRow
	runs    map[string]*JobRunRow
	fencing map[string]int64 // last fencing token observed per resource
}

// NewMemoryStore creates an empty in-memory scheduler store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		timers:  make(map[string]*TimerRow),
		jobs:    make(map[string]*JobRow),
		runs:    make(map[string]*JobRunRow),
		fencing: make(map[string]int64),
	}
}

func (s *MemoryStore) ScheduleTimer(_ context.Context, timerID, topic string, payload []byte, dueTimeUTC time.Time) error {
	if timerID == "" {
		return coreerr.NewInvalidArgument("timerID", "must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.timers[timerID] = &TimerRow{
		TimerID:    timerID,
		Topic:      topic,
		Payload:    payload,
		DueTimeUTC: dueTimeUTC,
		Status:     StatusReady,
	}

	return nil
}

func (s *MemoryStore) ClaimTimers(_ context.Context, owner string, leaseSeconds, limit int) ([]TimerRow, error) {
	if limit <= 0 {
		return nil, coreerr.NewInvalidArgument("limit", "must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	var candidates []*TimerRow

	for _, t := range s.timers {
		if t.Status == StatusReady && !t.DueTimeUTC.After(now) {
			candidates = append(candidates, t)
		} else if t.Status == StatusClaimed && t.LockedUntil != nil && t.LockedUntil.Before(now) {
			candidates = append(candidates, t)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].DueTimeUTC.Equal(candidates[j].DueTimeUTC) {
			return candidates[i].TimerID < candidates[j].TimerID
		}

		return candidates[i].DueTimeUTC.Before(candidates[j].DueTimeUTC)
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	lockedUntil := now.Add(time.Duration(leaseSeconds) * time.Second)
	result := make([]TimerRow, 0, len(candidates))

	for _, t := range candidates {
		t.Status = StatusClaimed
		t.OwnerToken = owner
		t.LockedUntil = &lockedUntil
		result = append(result, *t)
	}

	return result, nil
}

func (s *MemoryStore) AckTimers(_ context.Context, owner string, timerIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0

	for _, id := range timerIDs {
		t, exists := s.timers[id]
		if !exists || t.Status != StatusClaimed || t.OwnerToken != owner {
			continue
		}

		t.Status = StatusDone
		t.OwnerToken = ""
		t.LockedUntil = nil
		count++
	}

	return count, nil
}

func (s *MemoryStore) AbandonTimers(_ context.Context, owner string, timerIDs []string, delay time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0

	for _, id := range timerIDs {
		t, exists := s.timers[id]
		if !exists || t.Status != StatusClaimed || t.OwnerToken != owner {
			continue
		}

		t.Status = StatusReady
		t.OwnerToken = ""
		t.LockedUntil = nil
		t.DueTimeUTC = time.Now().UTC().Add(delay)
		count++
	}

	return count, nil
}

func (s *MemoryStore) ReapExpiredTimers(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	count := 0

	for _, t := range s.timers {
		if t.Status == StatusClaimed && t.LockedUntil != nil && t.LockedUntil.Before(now) {
			t.Status = StatusReady
			t.OwnerToken = ""
			t.LockedUntil = nil
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

	consider := func(t time.Time) {
		if !found || t.Before(best) {
			best = t
			found = true
		}
	}

	for _, t := range s.timers {
		if t.Status == StatusReady {
			consider(t.DueTimeUTC)
		}
	}

	for _, r := range s.runs {
		if r.Status == StatusReady {
			consider(r.DueTimeUTC)
		}
	}

	return best, found, nil
}

func (s *MemoryStore) CreateOrUpdateJob(
	_ context.Context, jobName, topic, cronSpec string, payload []byte, nextDueUTC time.Time,
) error {
	if jobName == "" {
		return coreerr.NewInvalidArgument("jobName", "must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[jobName] = &JobRow{
		JobName:    jobName,
		Topic:      topic,
		CronSpec:   cronSpec,
		Payload:    payload,
		NextDueUTC: nextDueUTC,
	}

	return nil
}

func (s *MemoryStore) TriggerJob(_ context.Context, jobName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobName]
	if !exists {
		return "", coreerr.ErrNotFound
	}

	runID := ids.NewRunID()
	s.runs[runID] = &JobRunRow{
		RunID:      runID,
		JobName:    jobName,
		Topic:      job.Topic,
		Payload:    job.Payload,
		DueTimeUTC: time.Now().UTC(),
		Status:     StatusReady,
	}

	return runID, nil
}

func (s *MemoryStore) DeleteJob(_ context.Context, jobName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, jobName)

	for id, r := range s.runs {
		if r.JobName == jobName && r.Status == StatusReady {
			delete(s.runs, id)
		}
	}

	return nil
}

func (s *MemoryStore) CreateJobRunsFromDueJobs(
	_ context.Context, held LeaseToken, limit int, next func(cronSpec string, fromUTC time.Time) (time.Time, error),
) ([]JobRunRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.fencing[held.ResourceName]; ok && held.FencingToken < last {
		return nil, coreerr.ErrLostLease
	}

	s.fencing[held.ResourceName] = held.FencingToken

	now := time.Now().UTC()

	var due []*JobRow

	for _, j := range s.jobs {
		if !j.NextDueUTC.After(now) {
			due = append(due, j)
		}
	}

	sort.Slice(due, func(i, j int) bool { return due[i].JobName < due[j].JobName })

	if len(due) > limit {
		due = due[:limit]
	}

	var created []JobRunRow

	for _, j := range due {
		nextFire, err := next(j.CronSpec, j.NextDueUTC)
		if err != nil {
			j.NextDueUTC = now.Add(JobQuarantinePeriod)

			continue
		}

		runID := ids.NewRunID()
		run := JobRunRow{
			RunID:      runID,
			JobName:    j.JobName,
			Topic:      j.Topic,
			Payload:    j.Payload,
			DueTimeUTC: j.NextDueUTC,
			Status:     StatusReady,
		}
		s.runs[runID] = &run
		created = append(created, run)

		j.NextDueUTC = nextFire
	}

	return created, nil
}

func (s *MemoryStore) ClaimJobRuns(_ context.Context, owner string, leaseSeconds, limit int) ([]JobRunRow, error) {
	if limit <= 0 {
		return nil, coreerr.NewInvalidArgument("limit", "must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	var candidates []*JobRunRow

	for _, r := range s.runs {
		if r.Status == StatusReady || (r.Status == StatusClaimed && r.LockedUntil != nil && r.LockedUntil.Before(now)) {
			candidates = append(candidates, r)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].DueTimeUTC.Equal(candidates[j].DueTimeUTC) {
			return candidates[i].RunID < candidates[j].RunID
		}

		return candidates[i].DueTimeUTC.Before(candidates[j].DueTimeUTC)
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	lockedUntil := now.Add(time.Duration(leaseSeconds) * time.Second)
	result := make([]JobRunRow, 0, len(candidates))

	for _, r := range candidates {
		r.Status = StatusClaimed
		r.OwnerToken = owner
		r.LockedUntil = &lockedUntil
		result = append(result, *r)
	}

	return result, nil
}

func (s *MemoryStore) AckJobRuns(_ context.Context, owner string, runIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0

	for _, id := range runIDs {
		r, exists := s.runs[id]
		if !exists || r.Status != StatusClaimed || r.OwnerToken != owner {
			continue
		}

		r.Status = StatusDone
		r.OwnerToken = ""
		r.LockedUntil = nil
		count++
	}

	return count, nil
}

func (s *MemoryStore) GetJob(_ context.Context, jobName string) (JobRow, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, exists := s.jobs[jobName]
	if !exists {
		return JobRow{}, false, nil
	}

	return *j, true, nil
}
