package schemadeploy_test

import (
	"fmt"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"

	"github.com/correlator-io/correlator/internal/schemadeploy"
)

func migrationPair(t *testing.T, seq int, name string) fstest.MapFS {
	t.Helper()

	up := fmt.Sprintf("migrations/%03d_%s.up.sql", seq, name)
	down := fmt.Sprintf("migrations/%03d_%s.down.sql", seq, name)

	return fstest.MapFS{
		up:   &fstest.MapFile{Data: []byte("CREATE TABLE " + name + " (id INT);")},
		down: &fstest.MapFile{Data: []byte("DROP TABLE " + name + ";")},
	}
}

func merge(all ...fstest.MapFS) fstest.MapFS {
	out := fstest.MapFS{}

	for _, m := range all {
		for k, v := range m {
			out[k] = v
		}
	}

	return out
}

func TestRealEmbeddedMigrationsValidate(t *testing.T) {
	migrations, err := schemadeploy.NewEmbeddedMigrations(nil)
	require.NoError(t, err)
	require.NoError(t, migrations.Validate())

	files, err := migrations.List()
	require.NoError(t, err)
	require.Contains(t, files, "001_lease.up.sql")
	require.Contains(t, files, "005_idempotency.down.sql")
}

func TestEmbeddedMigrationsChecksum(t *testing.T) {
	migrations, err := schemadeploy.NewEmbeddedMigrations(nil)
	require.NoError(t, err)

	sum, err := migrations.Checksum("001_lease.up.sql")
	require.NoError(t, err)
	require.Len(t, sum, 64)
}

func TestEmbeddedMigrationsRejectsOrphanedMigration(t *testing.T) {
	fs := merge(migrationPair(t, 1, "initial"))
	delete(fs, "migrations/001_initial.down.sql")

	migrations, err := schemadeploy.NewEmbeddedMigrations(fs)
	require.NoError(t, err)
	require.ErrorContains(t, migrations.Validate(), "orphaned")
}

func TestEmbeddedMigrationsRejectsSequenceGap(t *testing.T) {
	fs := merge(migrationPair(t, 1, "initial"), migrationPair(t, 3, "later"))

	migrations, err := schemadeploy.NewEmbeddedMigrations(fs)
	require.NoError(t, err)
	require.ErrorContains(t, migrations.Validate(), "gap")
}

func TestEmbeddedMigrationsRejectsEmptySet(t *testing.T) {
	migrations, err := schemadeploy.NewEmbeddedMigrations(fstest.MapFS{})
	require.NoError(t, err)
	require.Error(t, migrations.Validate())
}
