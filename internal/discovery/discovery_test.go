package discovery_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/correlator-io/correlator/internal/discovery"
)

func TestStaticSourceReturnsCopy(t *testing.T) {
	source := discovery.NewStaticSource([]discovery.Database{{Name: "a", Connection: "postgres://a", Schema: "infra"}})

	got, err := source.DiscoverDatabases(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0].Name)
}

func TestEnvListSourceReadsPerNameVars(t *testing.T) {
	t.Setenv("DISCOVERY_DATABASES", "tenant-a")
	t.Setenv("DISCOVERY_TENANT_A_DATABASE_URL", "postgres://tenant-a")
	t.Setenv("DISCOVERY_TENANT_A_SCHEMA", "tenant_a_schema")

	source := discovery.NewEnvListSource("DISCOVERY_DATABASES")

	got, err := source.DiscoverDatabases(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "tenant-a", got[0].Name)
	require.Equal(t, "postgres://tenant-a", got[0].Connection)
	require.Equal(t, "tenant_a_schema", got[0].Schema)
}

func TestEnvListSourceMissingURLErrors(t *testing.T) {
	t.Setenv("DISCOVERY_DATABASES", "tenant-b")

	source := discovery.NewEnvListSource("DISCOVERY_DATABASES")

	_, err := source.DiscoverDatabases(context.Background())
	require.Error(t, err)
}

func TestYAMLSourceParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "databases.yaml")
	content := "databases:\n  - name: tenant-a\n    connection: postgres://tenant-a\n    schema: infra\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	source := discovery.NewYAMLSource(path)

	got, err := source.DiscoverDatabases(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "tenant-a", got[0].Name)
	require.Equal(t, "infra", got[0].Schema)
}

func TestYAMLSourceMissingFileErrors(t *testing.T) {
	source := discovery.NewYAMLSource(filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := source.DiscoverDatabases(context.Background())
	require.Error(t, err)
}

func TestRegistryGetUnknownDatabaseErrors(t *testing.T) {
	registry := discovery.NewRegistry(discovery.NewStaticSource(nil))

	_, err := registry.Get("missing")
	require.Error(t, err)
}

func TestRegistryRefreshPopulatesAll(t *testing.T) {
	source := discovery.NewStaticSource([]discovery.Database{{Name: "a"}, {Name: "b"}})
	registry := discovery.NewRegistry(source)

	_, err := registry.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, registry.All(), 2)
}
