package idempotencystore

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/correlator-io/correlator/internal/dbconn"
)

// PostgresStore is the Postgres-backed Store implementation. TryBegin
// reads the row FOR UPDATE inside a serializable transaction so the
// Completed-check and the InProgress upsert happen atomically.
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

func (s *PostgresStore) table() string {
	return s.schema + ".idempotency"
}

func (s *PostgresStore) TryBegin(ctx context.Context, key, owner string, lockDuration time.Duration) (bool, error) {
	tx, err := s.conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return false, err
	}
	defer tx.Rollback() //nolint:errcheck

	var (
		status      Status
		lockedUntil sql.NullTime
		lockedBy    string
	)

	selectQuery := `SELECT status, locked_until, COALESCE(locked_by, '') FROM ` + s.table() + ` WHERE key = $1 FOR UPDATE`

	err = tx.QueryRowContext(ctx, selectQuery, key).Scan(&status, &lockedUntil, &lockedBy)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		insertQuery := `
			INSERT INTO ` + s.table() + ` (key, status, locked_until, locked_by, failure_count, created_at, updated_at)
			VALUES ($1, 'in_progress', now() + ($2 || ' microseconds')::interval, $3, 0, now(), now())`

		if _, err := tx.ExecContext(ctx, insertQuery, key, lockDuration.Microseconds(), owner); err != nil {
			return false, err
		}

		return true, tx.Commit()
	case err != nil:
		return false, err
	}

	now := time.Now().UTC()

	if status == StatusCompleted {
		return false, nil
	}

	if status == StatusInProgress && lockedBy != owner && lockedUntil.Valid && lockedUntil.Time.After(now) {
		return false, nil
	}

	updateQuery := `
		UPDATE ` + s.table() + `
		SET status = 'in_progress', locked_until = now() + ($2 || ' microseconds')::interval,
			locked_by = $3, updated_at = now()
		WHERE key = $1`

	if _, err := tx.ExecContext(ctx, updateQuery, key, lockDuration.Microseconds(), owner); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

func (s *PostgresStore) Complete(ctx context.Context, key, owner string) error {
	query := `
		UPDATE ` + s.table() + `
		SET status = 'completed', completed_at = now(), updated_at = now()
		WHERE key = $1 AND locked_by = $2`

	_, err := s.conn.ExecContext(ctx, query, key, owner)

	return err
}

func (s *PostgresStore) Fail(ctx context.Context, key, owner string) error {
	query := `
		UPDATE ` + s.table() + `
		SET status = 'failed', failure_count = failure_count + 1, updated_at = now()
		WHERE key = $1 AND locked_by = $2`

	_, err := s.conn.ExecContext(ctx, query, key, owner)

	return err
}

func (s *PostgresStore) Cleanup(ctx context.Context, retentionPeriod time.Duration) (int, error) {
	query := `
		DELETE FROM ` + s.table() + `
		WHERE status IN ('completed', 'failed') AND updated_at < now() - ($1 || ' microseconds')::interval`

	res, err := s.conn.ExecContext(ctx, query, retentionPeriod.Microseconds())
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(n), nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (Row, bool, error) {
	query := `
		SELECT key, status, locked_until, COALESCE(locked_by, ''), failure_count, created_at, updated_at, completed_at
		FROM ` + s.table() + ` WHERE key = $1`

	var r Row

	err := s.conn.QueryRowContext(ctx, query, key).Scan(
		&r.Key, &r.Status, &r.LockedUntil, &r.LockedBy, &r.FailureCount, &r.CreatedAt, &r.UpdatedAt, &r.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, false, nil
	}

	if err != nil {
		return Row{}, false, err
	}

	return r, true, nil
}
