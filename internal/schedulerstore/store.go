// Package schedulerstore defines the row-level contracts for timers and
// cron jobs, and for the materialiser that turns due jobs into job-runs.
package schedulerstore

import (
	"context"
	"time"
)

// Status is the lifecycle state shared by timer and job-run rows.
type Status string

const (
	StatusReady   Status = "ready"
	StatusClaimed Status = "claimed"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// JobQuarantinePeriod is how far a job's next_due_utc is pushed out when
// its cron spec fails to parse, so a bad spec is parked instead of
// re-materialising a run on every single materialiser tick.
const JobQuarantinePeriod = 24 * time.Hour

// TimerRow is a snapshot of one one-shot timer row.
type TimerRow struct {
	TimerID     string
	Topic       string
	Payload     []byte
	DueTimeUTC  time.Time
	Status      Status
	OwnerToken  string
	LockedUntil *time.Time
}

// JobRow is a snapshot of one cron job definition.
type JobRow struct {
	JobName    string
	Topic      string
	CronSpec   string
	Payload    []byte
	NextDueUTC time.Time
}

// JobRunRow is a snapshot of one materialised job run.
type JobRunRow struct {
	RunID       string
	JobName     string
	Topic       string
	Payload     []byte
	DueTimeUTC  time.Time
	Status      Status
	OwnerToken  string
	LockedUntil *time.Time
}

// LeaseToken is the minimal shape the store needs from a held lease, to
// assert fencing against concurrent materialisers without importing the
// lease package (avoids a dependency cycle; internal/scheduler supplies
// it from a *lease.Lease).
type LeaseToken struct {
	ResourceName string
	FencingToken int64
}

// Store is the abstract contract for scheduler persistence.
type Store interface {
	// ScheduleTimer inserts a Ready timer row, due at dueTimeUTC.
	ScheduleTimer(ctx context.Context, timerID, topic string, payload []byte, dueTimeUTC time.Time) error

	// ClaimTimers returns up to limit Ready-or-expired-claim timer rows
	// due now or earlier, atomically transitioning them to Claimed.
	ClaimTimers(ctx context.Context, owner string, leaseSeconds, limit int) ([]TimerRow, error)

	// AckTimers transitions claimed timer rows to terminal Done.
	AckTimers(ctx context.Context, owner string, timerIDs []string) (int, error)

	// AbandonTimers returns claimed timer rows to Ready.
	AbandonTimers(ctx context.Context, owner string, timerIDs []string, delay time.Duration) (int, error)

	// ReapExpiredTimers reclaims Claimed timer rows whose lock expired.
	ReapExpiredTimers(ctx context.Context) (int, error)

	// GetNextEventTime returns the earliest due time among Ready timer
	// rows and Ready job-runs, or ok=false if there are none.
	GetNextEventTime(ctx context.Context) (t time.Time, ok bool, err error)

	// CreateOrUpdateJob upserts a job definition by name. Updating an
	// existing job replaces the topic/payload used by future runs.
	CreateOrUpdateJob(ctx context.Context, jobName, topic, cronSpec string, payload []byte, nextDueUTC time.Time) error

	// TriggerJob creates an immediately-due job run for jobName.
	TriggerJob(ctx context.Context, jobName string) (runID string, err error)

	// DeleteJob removes a job and all of its pending runs.
	DeleteJob(ctx context.Context, jobName string) error

	// CreateJobRunsFromDueJobs materialises at most one Ready run per
	// (jobName, nextDueUtc) and advances nextDueUtc to the following fire
	// time; a job whose cron spec next rejects gets no run and has
	// nextDueUtc pushed JobQuarantinePeriod past now. next
	// computes the following fire time for a cron spec given the current
	// nextDueUtc. Requires a held lease token so the store may refuse the
	// advance if fencing has moved on.
	CreateJobRunsFromDueJobs(
		ctx context.Context, held LeaseToken, limit int, next func(cronSpec string, fromUTC time.Time) (time.Time, error),
	) ([]JobRunRow, error)

	// ClaimJobRuns returns up to limit Ready job runs, transitioning them
	// to Claimed.
	ClaimJobRuns(ctx context.Context, owner string, leaseSeconds, limit int) ([]JobRunRow, error)

	// AckJobRuns transitions claimed job runs to terminal Done.
	AckJobRuns(ctx context.Context, owner string, runIDs []string) (int, error)

	// GetJob returns a single job definition by name.
	GetJob(ctx context.Context, jobName string) (JobRow, bool, error)
}
