// Package scheduler implements the timer and cron-job primitive: a
// materialiser loop that promotes due jobs into Ready job-runs, and a
// timer/run dispatcher that enqueues fired timers and runs into the
// outbox.
package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

// secondsParser accepts the seconds-first six-field form (e.g.
// "*/1 * * * * *") spec.md requires for seconds-precision fire times.
var secondsParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Next computes the next UTC fire time for cronSpec strictly after
// fromUTC, at seconds precision. It is the pure next(cronSpec, fromUtc)
// -> utc contract the materialiser relies on — only robfig/cron's
// expression parser is used, never its background Cron runner.
func Next(cronSpec string, fromUTC time.Time) (time.Time, error) {
	schedule, err := secondsParser.Parse(cronSpec)
	if err != nil {
		return time.Time{}, err
	}

	return schedule.Next(fromUTC).UTC(), nil
}
