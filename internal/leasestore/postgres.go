package leasestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/correlator-io/correlator/internal/coreerr"
	"github.com/correlator-io/correlator/internal/dbconn"
)

const defaultSchema = "infra"

// PostgresStore implements Store with a PostgreSQL backend. Acquire is a
// single INSERT ... ON CONFLICT DO UPDATE guarded by an ownership/expiry
// WHERE clause, and Renew a single conditional UPDATE, so the fencing-token bump and ownership check happen atomically without
// a separate SELECT ... FOR UPDATE round trip, following the same
// single-statement-does-the-locking shape as the teacher's claim queries.
type PostgresStore struct {
	conn   *dbconn.Connection
	schema string
	logger *slog.Logger
}

// NewPostgresStore creates a PostgreSQL-backed lease store against the
// given schema (defaults to "infra").
func NewPostgresStore(conn *dbconn.Connection, schema string, logger *slog.Logger) *PostgresStore {
	if schema == "" {
		schema = defaultSchema
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresStore{conn: conn, schema: schema, logger: logger}
}

func (s *PostgresStore) table() string {
	return s.schema + ".lease"
}

func (s *PostgresStore) Acquire(
	ctx context.Context, resourceName, owner string, leaseSeconds int, contextJSON string,
) (Row, bool, error) {
	if resourceName == "" || owner == "" {
		return Row{}, false, coreerr.NewInvalidArgument("resourceName/owner", "must not be empty")
	}

	if leaseSeconds <= 0 {
		return Row{}, false, coreerr.NewInvalidArgument("leaseSeconds", "must be positive")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (resource_name, owner_token, lease_until_utc, fencing_token, context_json)
VALUES ($1, $2, now() + make_interval(secs => $3), 1, $4)
ON CONFLICT (resource_name) DO UPDATE SET
    owner_token = EXCLUDED.owner_token,
    lease_until_utc = EXCLUDED.lease_until_utc,
    fencing_token = %s.fencing_token + 1,
    context_json = EXCLUDED.context_json
WHERE %s.owner_token IS NULL
   OR %s.lease_until_utc <= now()
   OR %s.owner_token = $2
RETURNING owner_token, lease_until_utc, fencing_token, context_json`, s.table(), s.table(), s.table(), s.table(), s.table())

	var row Row

	row.ResourceName = resourceName

	err := s.conn.QueryRowContext(ctx, query, resourceName, owner, leaseSeconds, contextJSON).Scan(
		&row.OwnerToken, &row.LeaseUntilUTC, &row.FencingToken, &row.ContextJSON,
	)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Row{}, false, nil
	case err != nil:
		return Row{}, false, fmt.Errorf("%w: acquire lease %q: %v", coreerr.ErrTransientStore, resourceName, err)
	default:
		return row, true, nil
	}
}

func (s *PostgresStore) Renew(ctx context.Context, resourceName, owner string, leaseSeconds int) (Row, bool, error) {
	if leaseSeconds <= 0 {
		return Row{}, false, coreerr.NewInvalidArgument("leaseSeconds", "must be positive")
	}

	query := fmt.Sprintf(`
UPDATE %s
SET lease_until_utc = now() + make_interval(secs => $3),
    fencing_token = fencing_token + 1
WHERE resource_name = $1 AND owner_token = $2 AND lease_until_utc > now()
RETURNING owner_token, lease_until_utc, fencing_token, context_json`, s.table())

	var row Row

	row.ResourceName = resourceName

	err := s.conn.QueryRowContext(ctx, query, resourceName, owner, leaseSeconds).Scan(
		&row.OwnerToken, &row.LeaseUntilUTC, &row.FencingToken, &row.ContextJSON,
	)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Row{}, false, nil
	case err != nil:
		return Row{}, false, fmt.Errorf("%w: renew lease %q: %v", coreerr.ErrTransientStore, resourceName, err)
	default:
		return row, true, nil
	}
}

func (s *PostgresStore) Release(ctx context.Context, resourceName, owner string) error {
	query := fmt.Sprintf(`
UPDATE %s SET owner_token = NULL, lease_until_utc = NULL, context_json = NULL
WHERE resource_name = $1 AND owner_token = $2`, s.table())

	if _, err := s.conn.ExecContext(ctx, query, resourceName, owner); err != nil {
		return fmt.Errorf("%w: release lease %q: %v", coreerr.ErrTransientStore, resourceName, err)
	}

	return nil // owner mismatch affects zero rows; never an error
}

func (s *PostgresStore) Get(ctx context.Context, resourceName string) (Row, bool, error) {
	query := fmt.Sprintf(`
SELECT resource_name, COALESCE(owner_token, ''), COALESCE(lease_until_utc, to_timestamp(0)),
       fencing_token, COALESCE(context_json, '')
FROM %s WHERE resource_name = $1`, s.table())

	var row Row

	err := s.conn.QueryRowContext(ctx, query, resourceName).Scan(
		&row.ResourceName, &row.OwnerToken, &row.LeaseUntilUTC, &row.FencingToken, &row.ContextJSON,
	)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Row{}, false, nil
	case err != nil:
		return Row{}, false, fmt.Errorf("%w: get lease %q: %v", coreerr.ErrTransientStore, resourceName, err)
	default:
		return row, true, nil
	}
}
