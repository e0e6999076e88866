package outboxstore

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/correlator-io/correlator/internal/coreerr"
	"github.com/correlator-io/correlator/internal/dbconn"
)

// PostgresStore is the Postgres-backed Store implementation. Claim queries
// use SELECT ... FOR UPDATE SKIP LOCKED inside an explicit transaction so
// concurrent dispatchers never block on, or double-claim, the same row.
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
	return s.schema + ".outbox"
}

func (s *PostgresStore) Enqueue(
	ctx context.Context, topic string, payload []byte, correlationID string, dueTimeUTC *time.Time,
) (int64, error) {
	if topic == "" {
		return 0, coreerr.NewInvalidArgument("topic", "must not be empty")
	}

	query := `
		INSERT INTO ` + s.table() + ` (topic, payload, correlation_id, due_time_utc, status, attempts)
		VALUES ($1, $2, NULLIF($3, ''), COALESCE($4, now()), 'ready', 0)
		RETURNING id`

	var id int64

	err := s.conn.QueryRowContext(ctx, query, topic, payload, correlationID, dueTimeUTC).Scan(&id)
	if err != nil {
		return 0, err
	}

	return id, nil
}

func (s *PostgresStore) ClaimDue(ctx context.Context, owner string, leaseSeconds, limit int) ([]Row, error) {
	if limit <= 0 {
		return nil, coreerr.NewInvalidArgument("limit", "must be positive")
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	selectQuery := `
		SELECT id FROM ` + s.table() + `
		WHERE (status = 'ready' AND due_time_utc <= now())
		   OR (status = 'claimed' AND locked_until < now())
		ORDER BY due_time_utc ASC, id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	rows, err := tx.QueryContext(ctx, selectQuery, limit)
	if err != nil {
		return nil, err
	}

	var ids []int64

	for rows.Next() {
		var id int64
		if scanErr := rows.Scan(&id); scanErr != nil {
			rows.Close() //nolint:errcheck

			return nil, scanErr
		}

		ids = append(ids, id)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, closeErr
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	updateQuery := `
		UPDATE ` + s.table() + `
		SET status = 'claimed', owner_token = $1, locked_until = now() + ($2 || ' seconds')::interval
		WHERE id = ANY($3)
		RETURNING id, topic, payload, COALESCE(correlation_id, ''), due_time_utc, status,
			owner_token, locked_until, attempts, COALESCE(last_error, '')`

	updated, err := tx.QueryContext(ctx, updateQuery, owner, leaseSeconds, pq.Array(ids))
	if err != nil {
		return nil, err
	}

	result, err := scanRows(updated)

	if closeErr := updated.Close(); closeErr != nil {
		return nil, closeErr
	}

	if err != nil {
		return nil, err
	}

	return result, tx.Commit()
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	var result []Row

	for rows.Next() {
		var r Row

		if err := rows.Scan(
			&r.ID, &r.Topic, &r.Payload, &r.CorrelationID, &r.DueTimeUTC, &r.Status,
			&r.OwnerToken, &r.LockedUntil, &r.Attempts, &r.LastError,
		); err != nil {
			return nil, err
		}

		result = append(result, r)
	}

	return result, rows.Err()
}

func (s *PostgresStore) MarkDispatched(ctx context.Context, id int64, owner string) (bool, error) {
	query := `
		UPDATE ` + s.table() + `
		SET status = 'done', owner_token = NULL, locked_until = NULL
		WHERE id = $1 AND owner_token = $2 AND status = 'claimed'`

	return s.execApplied(ctx, query, id, owner)
}

func (s *PostgresStore) Reschedule(
	ctx context.Context, id int64, owner string, delay time.Duration, lastError string,
) (bool, error) {
	query := `
		UPDATE ` + s.table() + `
		SET status = 'ready', owner_token = NULL, locked_until = NULL,
			due_time_utc = now() + ($3 || ' microseconds')::interval,
			attempts = attempts + 1, last_error = $4
		WHERE id = $1 AND owner_token = $2 AND status = 'claimed'`

	return s.execApplied(ctx, query, id, owner, delay.Microseconds(), lastError)
}

func (s *PostgresStore) Fail(ctx context.Context, id int64, owner string, lastError string) (bool, error) {
	query := `
		UPDATE ` + s.table() + `
		SET status = 'failed', owner_token = NULL, locked_until = NULL, last_error = $3
		WHERE id = $1 AND owner_token = $2 AND status = 'claimed'`

	return s.execApplied(ctx, query, id, owner, lastError)
}

func (s *PostgresStore) execApplied(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (s *PostgresStore) GetNextEventTime(ctx context.Context) (time.Time, bool, error) {
	query := `SELECT MIN(due_time_utc) FROM ` + s.table() + ` WHERE status = 'ready'`

	var t sql.NullTime

	if err := s.conn.QueryRowContext(ctx, query).Scan(&t); err != nil {
		return time.Time{}, false, err
	}

	if !t.Valid {
		return time.Time{}, false, nil
	}

	return t.Time, true, nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (Row, bool, error) {
	query := `
		SELECT id, topic, payload, COALESCE(correlation_id, ''), due_time_utc, status,
			COALESCE(owner_token, ''), locked_until, attempts, COALESCE(last_error, '')
		FROM ` + s.table() + ` WHERE id = $1`

	var r Row

	err := s.conn.QueryRowContext(ctx, query, id).Scan(
		&r.ID, &r.Topic, &r.Payload, &r.CorrelationID, &r.DueTimeUTC, &r.Status,
		&r.OwnerToken, &r.LockedUntil, &r.Attempts, &r.LastError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, false, nil
	}

	if err != nil {
		return Row{}, false, err
	}

	return r, true, nil
}
