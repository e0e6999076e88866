// Package config provides configuration and shared test utilities for the messaging core.
package config

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/correlator-io/correlator/internal/dbconn"
	"github.com/correlator-io/correlator/internal/schemadeploy"
)

const (
	occurrenceCount = 2
	startUpTimeOut  = 120 * time.Second

	// TestSchema is the schema every SetupTestDatabase container deploys
	// the embedded migrations into.
	TestSchema = "public"
)

// TestDatabase encapsulates test database resources for cleanup. Used by
// postgres-backed store integration tests across packages to maintain a
// consistent test infrastructure.
type TestDatabase struct {
	Container  *postgres.PostgresContainer
	Connection *dbconn.Connection
}

// SetupTestDatabase creates a PostgreSQL container and deploys the
// embedded schema migrations into it.
//
// Usage:
//
//	func TestMyFeature(t *testing.T) {
//		if testing.Short() {
//			t.Skip("skipping integration test in short mode")
//		}
//		ctx := context.Background()
//		testDB := config.SetupTestDatabase(ctx, t)
//		t.Cleanup(func() {
//			_ = testDB.Connection.Close()
//			_ = testcontainers.TerminateContainer(testDB.Container)
//		})
//		// ... your test code
//	}
//
// Cleanup is the caller's responsibility using t.Cleanup().
func SetupTestDatabase(ctx context.Context, t *testing.T) *TestDatabase {
	t.Helper()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("messaging_core_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(occurrenceCount).
				WithStartupTimeout(startUpTimeOut),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	require.NotNil(t, pgContainer, "postgres container is nil")

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	conn, err := dbconn.New(dbconn.NewConfig(connStr))
	require.NoError(t, err, "failed to open database")

	deployer, err := schemadeploy.NewDeployer(slog.Default())
	require.NoError(t, err, "failed to build deployer")

	if err := deployer.Deploy(ctx, conn, TestSchema); err != nil {
		_ = conn.Close()
		_ = testcontainers.TerminateContainer(pgContainer)

		t.Fatalf("failed to deploy schema: %v", err)
	}

	return &TestDatabase{
		Container:  pgContainer,
		Connection: conn,
	}
}
