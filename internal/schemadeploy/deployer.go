package schemadeploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/correlator-io/correlator/internal/dbconn"
	"github.com/correlator-io/correlator/internal/discovery"
)

const migrationsTable = "schema_migrations"

// migrateLogger adapts golang-migrate's verbose logger to structured
// logging, matching the rest of the messaging core.
type migrateLogger struct {
	logger *slog.Logger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l *migrateLogger) Verbose() bool { return false }

// Deployer applies the embedded schema to one or more discovered
// databases, each into its own schema namespace.
type Deployer struct {
	migrations *EmbeddedMigrations
	logger     *slog.Logger
}

// NewDeployer validates the embedded migration set and returns a
// Deployer ready to run it against discovered databases.
func NewDeployer(logger *slog.Logger) (*Deployer, error) {
	migrations, err := NewEmbeddedMigrations(nil)
	if err != nil {
		return nil, err
	}

	if err := migrations.Validate(); err != nil {
		return nil, fmt.Errorf("schemadeploy: embedded migrations invalid: %w", err)
	}

	return &Deployer{migrations: migrations, logger: logger}, nil
}

// Deploy brings conn's schema up to the latest embedded migration
// version. It is idempotent: running it against an already current
// schema is a no-op.
func (d *Deployer) Deploy(ctx context.Context, conn *dbconn.Connection, schema string) error {
	if err := d.migrations.Validate(); err != nil {
		return fmt.Errorf("schemadeploy: pre-deploy validation: %w", err)
	}

	driver, err := postgres.WithInstance(conn.DB, &postgres.Config{
		SchemaName:      schema,
		MigrationsTable: migrationsTable,
	})
	if err != nil {
		return fmt.Errorf("schemadeploy: postgres driver for schema %s: %w", schema, err)
	}

	source, err := iofs.New(d.migrations.Source(), ".")
	if err != nil {
		return fmt.Errorf("schemadeploy: embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("schemadeploy: migrate instance for schema %s: %w", schema, err)
	}

	m.Log = &migrateLogger{logger: d.logger.With("schema", schema)}

	defer func() {
		_, _ = m.Close()
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("schemadeploy: applying migrations to schema %s: %w", schema, err)
	}

	return nil
}

// instance builds a migrate.Migrate bound to conn's schema, for callers
// that need direct access to commands Deploy doesn't expose.
func (d *Deployer) instance(conn *dbconn.Connection, schema string) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(conn.DB, &postgres.Config{
		SchemaName:      schema,
		MigrationsTable: migrationsTable,
	})
	if err != nil {
		return nil, fmt.Errorf("schemadeploy: postgres driver for schema %s: %w", schema, err)
	}

	source, err := iofs.New(d.migrations.Source(), ".")
	if err != nil {
		return nil, fmt.Errorf("schemadeploy: embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("schemadeploy: migrate instance for schema %s: %w", schema, err)
	}

	m.Log = &migrateLogger{logger: d.logger.With("schema", schema)}

	return m, nil
}

// Down rolls back the single most recent migration applied to conn's
// schema.
func (d *Deployer) Down(_ context.Context, conn *dbconn.Connection, schema string) error {
	m, err := d.instance(conn, schema)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("schemadeploy: rolling back schema %s: %w", schema, err)
	}

	return nil
}

// Version reports the migration version currently applied to conn's
// schema, and whether the schema was left dirty by a failed migration.
func (d *Deployer) Version(_ context.Context, conn *dbconn.Connection, schema string) (uint, bool, error) {
	m, err := d.instance(conn, schema)
	if err != nil {
		return 0, false, err
	}
	defer func() { _, _ = m.Close() }()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("schemadeploy: reading version for schema %s: %w", schema, err)
	}

	return version, dirty, nil
}

// Drop removes every object golang-migrate knows about from conn's
// schema, including the migrations-tracking table itself.
func (d *Deployer) Drop(_ context.Context, conn *dbconn.Connection, schema string) error {
	m, err := d.instance(conn, schema)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Drop(); err != nil {
		return fmt.Errorf("schemadeploy: dropping schema %s: %w", schema, err)
	}

	return nil
}

// DeployAll deploys the embedded schema into every database the
// registry knows about, one goroutine per database, and returns
// immediately with a channel that closes once every deployment has
// finished. Callers that don't need to wait can discard the channel:
// failures are logged, not returned, so one tenant's broken schema
// never blocks another's dispatcher loops from starting.
func (d *Deployer) DeployAll(ctx context.Context, databases []discovery.Database, registry *discovery.Registry) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)

		var wg sync.WaitGroup

		for _, db := range databases {
			wg.Add(1)

			go func(db discovery.Database) {
				defer wg.Done()

				conn, err := registry.Get(db.Name)
				if err != nil {
					d.logger.Error("schemadeploy: resolving connection", "database", db.Name, "error", err)

					return
				}

				if err := d.Deploy(ctx, conn, db.Schema); err != nil {
					d.logger.Error("schemadeploy: deployment failed", "database", db.Name, "schema", db.Schema, "error", err)

					return
				}

				d.logger.Info("schemadeploy: schema deployed", "database", db.Name, "schema", db.Schema)
			}(db)
		}

		wg.Wait()
	}()

	return done
}
