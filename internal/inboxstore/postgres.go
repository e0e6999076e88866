package inboxstore

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

// PostgresStore is the Postgres-backed Store implementation, reusing the
// same SELECT ... FOR UPDATE SKIP LOCKED claim shape as outboxstore.
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
	return s.schema + ".inbox"
}

func (s *PostgresStore) AlreadyProcessed(ctx context.Context, messageID, source, hash string) (bool, error) {
	if messageID == "" {
		return false, coreerr.NewInvalidArgument("messageID", "must not be empty")
	}

	query := `
		INSERT INTO ` + s.table() + ` (message_id, source, hash, status, first_seen_utc, last_seen_utc, attempts)
		VALUES ($1, $2, NULLIF($3, ''), 'seen', now(), now(), 1)
		ON CONFLICT (message_id) DO UPDATE SET
			last_seen_utc = now(),
			attempts = ` + s.table() + `.attempts + 1
		RETURNING status = 'done'`

	var alreadyDone bool

	err := s.conn.QueryRowContext(ctx, query, messageID, source, hash).Scan(&alreadyDone)
	if err != nil {
		return false, err
	}

	return alreadyDone, nil
}

func (s *PostgresStore) Enqueue(
	ctx context.Context, topic, source, messageID string, payload []byte, hash string, dueTimeUTC *time.Time,
) error {
	if messageID == "" {
		return coreerr.NewInvalidArgument("messageID", "must not be empty")
	}

	query := `
		INSERT INTO ` + s.table() + ` (message_id, source, topic, payload, hash, status, due_time_utc,
			first_seen_utc, last_seen_utc, attempts)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), 'seen', $6, now(), now(), 0)
		ON CONFLICT (message_id) DO UPDATE SET
			last_seen_utc = now(),
			topic = COALESCE(` + s.table() + `.topic, EXCLUDED.topic),
			payload = COALESCE(` + s.table() + `.payload, EXCLUDED.payload),
			due_time_utc = COALESCE(` + s.table() + `.due_time_utc, EXCLUDED.due_time_utc)
		WHERE ` + s.table() + `.status = 'seen'`

	_, err := s.conn.ExecContext(ctx, query, messageID, source, topic, payload, hash, dueTimeUTC)

	return err
}

func (s *PostgresStore) MarkProcessing(ctx context.Context, messageID string) (bool, error) {
	return s.execApplied(ctx, `UPDATE `+s.table()+` SET status = 'processing' WHERE message_id = $1`, messageID)
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, messageID string) (bool, error) {
	query := `UPDATE ` + s.table() + ` SET status = 'done', processed_utc = now() WHERE message_id = $1`

	return s.execApplied(ctx, query, messageID)
}

func (s *PostgresStore) MarkDead(ctx context.Context, messageID string, lastError string) (bool, error) {
	query := `UPDATE ` + s.table() + ` SET status = 'dead', last_error = $2 WHERE message_id = $1`

	return s.execApplied(ctx, query, messageID, lastError)
}

func (s *PostgresStore) ClaimAsync(ctx context.Context, owner string, leaseSeconds, batchSize int) ([]Row, error) {
	if batchSize <= 0 {
		return nil, coreerr.NewInvalidArgument("batchSize", "must be positive")
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	selectQuery := `
		SELECT message_id FROM ` + s.table() + `
		WHERE (due_time_utc IS NULL OR due_time_utc <= now())
		  AND (status = 'seen' OR (status = 'processing' AND (locked_until IS NULL OR locked_until < now())))
		ORDER BY due_time_utc ASC NULLS FIRST, message_id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	rows, err := tx.QueryContext(ctx, selectQuery, batchSize)
	if err != nil {
		return nil, err
	}

	var ids []string

	for rows.Next() {
		var id string
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
		SET status = 'processing', owner_token = $1, locked_until = now() + ($2 || ' seconds')::interval
		WHERE message_id = ANY($3)
		RETURNING message_id, source, topic, payload, COALESCE(hash, ''), status, owner_token, locked_until,
			due_time_utc, first_seen_utc, last_seen_utc, processed_utc, attempts, COALESCE(last_error, '')`

	updated, err := tx.QueryContext(ctx, updateQuery, owner, leaseSeconds, pq.Array(ids))
	if err != nil {
		return nil, err
	}

	result, err := scanInboxRows(updated)

	if closeErr := updated.Close(); closeErr != nil {
		return nil, closeErr
	}

	if err != nil {
		return nil, err
	}

	return result, tx.Commit()
}

func scanInboxRows(rows *sql.Rows) ([]Row, error) {
	var result []Row

	for rows.Next() {
		var r Row

		if err := rows.Scan(
			&r.MessageID, &r.Source, &r.Topic, &r.Payload, &r.Hash, &r.Status, &r.OwnerToken, &r.LockedUntil,
			&r.DueTimeUTC, &r.FirstSeenUTC, &r.LastSeenUTC, &r.ProcessedUTC, &r.Attempts, &r.LastError,
		); err != nil {
			return nil, err
		}

		result = append(result, r)
	}

	return result, rows.Err()
}

func (s *PostgresStore) Ack(ctx context.Context, messageID, owner string) (bool, error) {
	query := `
		UPDATE ` + s.table() + `
		SET status = 'done', processed_utc = now(), owner_token = NULL, locked_until = NULL
		WHERE message_id = $1 AND owner_token = $2 AND status = 'processing'`

	return s.execApplied(ctx, query, messageID, owner)
}

func (s *PostgresStore) Abandon(
	ctx context.Context, messageID, owner string, delay time.Duration, lastError string,
) (bool, error) {
	query := `
		UPDATE ` + s.table() + `
		SET status = 'seen', owner_token = NULL, locked_until = NULL,
			due_time_utc = now() + ($3 || ' microseconds')::interval,
			attempts = attempts + 1, last_error = $4
		WHERE message_id = $1 AND owner_token = $2 AND status = 'processing'`

	return s.execApplied(ctx, query, messageID, owner, delay.Microseconds(), lastError)
}

func (s *PostgresStore) Fail(ctx context.Context, messageID, owner string, lastError string) (bool, error) {
	query := `
		UPDATE ` + s.table() + `
		SET status = 'dead', owner_token = NULL, locked_until = NULL, last_error = $3
		WHERE message_id = $1 AND owner_token = $2 AND status = 'processing'`

	return s.execApplied(ctx, query, messageID, owner, lastError)
}

func (s *PostgresStore) Revive(ctx context.Context, messageID string, delay time.Duration) (bool, error) {
	query := `
		UPDATE ` + s.table() + `
		SET status = 'seen', due_time_utc = now() + ($2 || ' microseconds')::interval, last_error = ''
		WHERE message_id = $1 AND status = 'dead'`

	return s.execApplied(ctx, query, messageID, delay.Microseconds())
}

func (s *PostgresStore) ReapExpired(ctx context.Context) (int, error) {
	query := `
		UPDATE ` + s.table() + `
		SET status = 'seen', owner_token = NULL, locked_until = NULL
		WHERE status = 'processing' AND locked_until < now()`

	res, err := s.conn.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(n), nil
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
	query := `SELECT MIN(due_time_utc) FROM ` + s.table() + ` WHERE status = 'seen'`

	var t sql.NullTime

	if err := s.conn.QueryRowContext(ctx, query).Scan(&t); err != nil {
		return time.Time{}, false, err
	}

	if !t.Valid {
		return time.Time{}, false, nil
	}

	return t.Time, true, nil
}

func (s *PostgresStore) Get(ctx context.Context, messageID string) (Row, bool, error) {
	query := `
		SELECT message_id, source, topic, payload, COALESCE(hash, ''), status, COALESCE(owner_token, ''),
			locked_until, due_time_utc, first_seen_utc, last_seen_utc, processed_utc, attempts,
			COALESCE(last_error, '')
		FROM ` + s.table() + ` WHERE message_id = $1`

	var r Row

	err := s.conn.QueryRowContext(ctx, query, messageID).Scan(
		&r.MessageID, &r.Source, &r.Topic, &r.Payload, &r.Hash, &r.Status, &r.OwnerToken, &r.LockedUntil,
		&r.DueTimeUTC, &r.FirstSeenUTC, &r.LastSeenUTC, &r.ProcessedUTC, &r.Attempts, &r.LastError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, false, nil
	}

	if err != nil {
		return Row{}, false, err
	}

	return r, true, nil
}
