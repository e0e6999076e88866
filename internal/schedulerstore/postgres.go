package schedulerstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/correlator-io/correlator/internal/coreerr"
	"github.com/correlator-io/correlator/internal/dbconn"
	"github.com/correlator-io/correlator/internal/ids"
)

// PostgresStore is the Postgres-backed Store implementation. Timer and
// job-run claims reuse the SELECT ... FOR UPDATE SKIP LOCKED shape used
// throughout this module's stores; job materialisation mirrors the
// claim-then-advance-next_run_at transaction pattern used for cron
// schedules elsewhere in the pack.
type PostgresStore struct {
	conn   *dbconn.Connection
	schema string
	logger *slog.Logger
}

// NewPostgresStore builds a PostgresStore against the given schema.
func NewPostgresStore(conn *dbconn.Connection, schema string, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresStore{conn: conn, schema: schema, logger: logger}
}

func (s *PostgresStore) timersTable() string  { return s.schema + ".timers" }
func (s *PostgresStore) jobsTable() string    { return s.schema + ".jobs" }
func (s *PostgresStore) jobRunsTable() string { return s.schema + ".job_runs" }

func (s *PostgresStore) ScheduleTimer(ctx context.Context, timerID, topic string, payload []byte, dueTimeUTC time.Time) error {
	if timerID == "" {
		return coreerr.NewInvalidArgument("timerID", "must not be empty")
	}

	query := `
		INSERT INTO ` + s.timersTable() + ` (timer_id, topic, payload, due_time_utc, status)
		VALUES ($1, $2, $3, $4, 'ready')
		ON CONFLICT (timer_id) DO NOTHING`

	_, err := s.conn.ExecContext(ctx, query, timerID, topic, payload, dueTimeUTC)

	return err
}

func (s *PostgresStore) ClaimTimers(ctx context.Context, owner string, leaseSeconds, limit int) ([]TimerRow, error) {
	if limit <= 0 {
		return nil, coreerr.NewInvalidArgument("limit", "must be positive")
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	selectQuery := `
		SELECT timer_id FROM ` + s.timersTable() + `
		WHERE (status = 'ready' AND due_time_utc <= now())
		   OR (status = 'claimed' AND locked_until < now())
		ORDER BY due_time_utc ASC, timer_id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	timerIDs, err := queryStringIDs(ctx, tx, selectQuery, limit)
	if err != nil {
		return nil, err
	}

	if len(timerIDs) == 0 {
		return nil, tx.Commit()
	}

	updateQuery := `
		UPDATE ` + s.timersTable() + `
		SET status = 'claimed', owner_token = $1, locked_until = now() + ($2 || ' seconds')::interval
		WHERE timer_id = ANY($3)
		RETURNING timer_id, topic, payload, due_time_utc, status, owner_token, locked_until`

	rows, err := tx.QueryContext(ctx, updateQuery, owner, leaseSeconds, pq.Array(timerIDs))
	if err != nil {
		return nil, err
	}

	var result []TimerRow

	for rows.Next() {
		var t TimerRow
		if scanErr := rows.Scan(&t.TimerID, &t.Topic, &t.Payload, &t.DueTimeUTC, &t.Status, &t.OwnerToken, &t.LockedUntil); scanErr != nil {
			rows.Close() //nolint:errcheck

			return nil, scanErr
		}

		result = append(result, t)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, closeErr
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return result, tx.Commit()
}

func queryStringIDs(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}

		out = append(out, id)
	}

	return out, rows.Err()
}

func (s *PostgresStore) AckTimers(ctx context.Context, owner string, timerIDs []string) (int, error) {
	query := `
		UPDATE ` + s.timersTable() + `
		SET status = 'done', owner_token = NULL, locked_until = NULL
		WHERE timer_id = ANY($1) AND owner_token = $2 AND status = 'claimed'`

	return s.execAffected(ctx, query, pq.Array(timerIDs), owner)
}

func (s *PostgresStore) AbandonTimers(ctx context.Context, owner string, timerIDs []string, delay time.Duration) (int, error) {
	query := `
		UPDATE ` + s.timersTable() + `
		SET status = 'ready', owner_token = NULL, locked_until = NULL,
			due_time_utc = now() + ($3 || ' microseconds')::interval
		WHERE timer_id = ANY($1) AND owner_token = $2 AND status = 'claimed'`

	return s.execAffected(ctx, query, pq.Array(timerIDs), owner, delay.Microseconds())
}

func (s *PostgresStore) ReapExpiredTimers(ctx context.Context) (int, error) {
	query := `
		UPDATE ` + s.timersTable() + `
		SET status = 'ready', owner_token = NULL, locked_until = NULL
		WHERE status = 'claimed' AND locked_until < now()`

	return s.execAffected(ctx, query)
}

func (s *PostgresStore) execAffected(ctx context.Context, query string, args ...any) (int, error) {
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(n), nil
}

func (s *PostgresStore) GetNextEventTime(ctx context.Context) (time.Time, bool, error) {
	query := `
		SELECT MIN(t) FROM (
			SELECT MIN(due_time_utc) AS t FROM ` + s.timersTable() + ` WHERE status = 'ready'
			UNION ALL
			SELECT MIN(due_time_utc) AS t FROM ` + s.jobRunsTable() + ` WHERE status = 'ready'
		) combined`

	var t sql.NullTime

	if err := s.conn.QueryRowContext(ctx, query).Scan(&t); err != nil {
		return time.Time{}, false, err
	}

	if !t.Valid {
		return time.Time{}, false, nil
	}

	return t.Time, true, nil
}

func (s *PostgresStore) CreateOrUpdateJob(
	ctx context.Context, jobName, topic, cronSpec string, payload []byte, nextDueUTC time.Time,
) error {
	if jobName == "" {
		return coreerr.NewInvalidArgument("jobName", "must not be empty")
	}

	query := `
		INSERT INTO ` + s.jobsTable() + ` (job_name, topic, cron_spec, payload, next_due_utc)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_name) DO UPDATE SET
			topic = EXCLUDED.topic, cron_spec = EXCLUDED.cron_spec,
			payload = EXCLUDED.payload, next_due_utc = EXCLUDED.next_due_utc`

	_, err := s.conn.ExecContext(ctx, query, jobName, topic, cronSpec, payload, nextDueUTC)

	return err
}

func (s *PostgresStore) TriggerJob(ctx context.Context, jobName string) (string, error) {
	var (
		topic   string
		payload []byte
	)

	err := s.conn.QueryRowContext(
		ctx, `SELECT topic, payload FROM `+s.jobsTable()+` WHERE job_name = $1`, jobName,
	).Scan(&topic, &payload)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", coreerr.ErrNotFound
	case err != nil:
		return "", err
	}

	runID := ids.NewRunID()

	insertQuery := `
		INSERT INTO ` + s.jobRunsTable() + ` (run_id, job_name, topic, payload, due_time_utc, status)
		VALUES ($1, $2, $3, $4, now(), 'ready')`

	if _, err := s.conn.ExecContext(ctx, insertQuery, runID, jobName, topic, payload); err != nil {
		return "", err
	}

	return runID, nil
}

func (s *PostgresStore) DeleteJob(ctx context.Context, jobName string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+s.jobRunsTable()+` WHERE job_name = $1 AND status = 'ready'`, jobName); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+s.jobsTable()+` WHERE job_name = $1`, jobName); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *PostgresStore) CreateJobRunsFromDueJobs(
	ctx context.Context, held LeaseToken, limit int, next func(cronSpec string, fromUTC time.Time) (time.Time, error),
) ([]JobRunRow, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	var fencingToken int64

	err = tx.QueryRowContext(ctx, `SELECT fencing_token FROM `+s.schema+`.lease WHERE resource_name = $1 FOR UPDATE`, held.ResourceName).
		Scan(&fencingToken)
	if err != nil {
		return nil, fmt.Errorf("%w: read lease fencing token: %v", coreerr.ErrTransientStore, err)
	}

	if fencingToken != held.FencingToken {
		return nil, coreerr.ErrLostLease
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT job_name, topic, cron_spec, payload, next_due_utc FROM `+s.jobsTable()+`
		WHERE next_due_utc <= now()
		ORDER BY job_name ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}

	var dueJobs []JobRow

	for rows.Next() {
		var j JobRow
		if scanErr := rows.Scan(&j.JobName, &j.Topic, &j.CronSpec, &j.Payload, &j.NextDueUTC); scanErr != nil {
			rows.Close() //nolint:errcheck

			return nil, scanErr
		}

		dueJobs = append(dueJobs, j)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, closeErr
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	var created []JobRunRow

	for _, j := range dueJobs {
		nextFire, err := next(j.CronSpec, j.NextDueUTC)
		if err != nil {
			s.logger.Error("compute next cron fire failed, quarantining job",
				slog.String("job", j.JobName), slog.Any("error", err))

			if _, updateErr := tx.ExecContext(
				ctx, `UPDATE `+s.jobsTable()+` SET next_due_utc = $2 WHERE job_name = $1`,
				j.JobName, time.Now().UTC().Add(JobQuarantinePeriod),
			); updateErr != nil {
				return nil, updateErr
			}

			continue
		}

		runID := ids.NewRunID()

		// job_runs_due_fire_idx (job_name, due_time_utc) makes this
		// clause load-bearing: a retried materialise tick for the same
		// due job never double-inserts a run.
		insertQuery := `
			INSERT INTO ` + s.jobRunsTable() + ` (run_id, job_name, topic, payload, due_time_utc, status)
			VALUES ($1, $2, $3, $4, $5, 'ready')
			ON CONFLICT (job_name, due_time_utc) DO NOTHING`

		res, err := tx.ExecContext(ctx, insertQuery, runID, j.JobName, j.Topic, j.Payload, j.NextDueUTC)
		if err != nil {
			return nil, err
		}

		if n, err := res.RowsAffected(); err != nil {
			return nil, err
		} else if n > 0 {
			created = append(created, JobRunRow{
				RunID: runID, JobName: j.JobName, Topic: j.Topic, Payload: j.Payload,
				DueTimeUTC: j.NextDueUTC, Status: StatusReady,
			})
		}

		if _, err := tx.ExecContext(
			ctx, `UPDATE `+s.jobsTable()+` SET next_due_utc = $2 WHERE job_name = $1`, j.JobName, nextFire,
		); err != nil {
			return nil, err
		}
	}

	return created, tx.Commit()
}

func (s *PostgresStore) ClaimJobRuns(ctx context.Context, owner string, leaseSeconds, limit int) ([]JobRunRow, error) {
	if limit <= 0 {
		return nil, coreerr.NewInvalidArgument("limit", "must be positive")
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	selectQuery := `
		SELECT run_id FROM ` + s.jobRunsTable() + `
		WHERE (status = 'ready' AND due_time_utc <= now())
		   OR (status = 'claimed' AND locked_until < now())
		ORDER BY due_time_utc ASC, run_id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	runIDs, err := queryStringIDs(ctx, tx, selectQuery, limit)
	if err != nil {
		return nil, err
	}

	if len(runIDs) == 0 {
		return nil, tx.Commit()
	}

	updateQuery := `
		UPDATE ` + s.jobRunsTable() + `
		SET status = 'claimed', owner_token = $1, locked_until = now() + ($2 || ' seconds')::interval
		WHERE run_id = ANY($3)
		RETURNING run_id, job_name, topic, payload, due_time_utc, status, owner_token, locked_until`

	rows, err := tx.QueryContext(ctx, updateQuery, owner, leaseSeconds, pq.Array(runIDs))
	if err != nil {
		return nil, err
	}

	var result []JobRunRow

	for rows.Next() {
		var r JobRunRow
		if scanErr := rows.Scan(
			&r.RunID, &r.JobName, &r.Topic, &r.Payload, &r.DueTimeUTC, &r.Status, &r.OwnerToken, &r.LockedUntil,
		); scanErr != nil {
			rows.Close() //nolint:errcheck

			return nil, scanErr
		}

		result = append(result, r)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, closeErr
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return result, tx.Commit()
}

func (s *PostgresStore) AckJobRuns(ctx context.Context, owner string, runIDs []string) (int, error) {
	query := `
		UPDATE ` + s.jobRunsTable() + `
		SET status = 'done', owner_token = NULL, locked_until = NULL
		WHERE run_id = ANY($1) AND owner_token = $2 AND status = 'claimed'`

	return s.execAffected(ctx, query, pq.Array(runIDs), owner)
}

func (s *PostgresStore) GetJob(ctx context.Context, jobName string) (JobRow, bool, error) {
	query := `SELECT job_name, topic, cron_spec, payload, next_due_utc FROM ` + s.jobsTable() + ` WHERE job_name = $1`

	var j JobRow

	err := s.conn.QueryRowContext(ctx, query, jobName).Scan(&j.JobName, &j.Topic, &j.CronSpec, &j.Payload, &j.NextDueUTC)
	if errors.Is(err, sql.ErrNoRows) {
		return JobRow{}, false, nil
	}

	if err != nil {
		return JobRow{}, false, err
	}

	return j, true, nil
}
