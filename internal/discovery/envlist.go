package discovery

import (
	"context"
	"fmt"

	"github.com/correlator-io/correlator/internal/config"
)

// EnvListSource discovers databases from a comma-separated list of
// names in one environment variable, reading each database's connection
// string and schema from per-name environment variables.
//
//	DISCOVERY_DATABASES=tenant_a,tenant_b
//	DISCOVERY_TENANT_A_DATABASE_URL=postgres://...
//	DISCOVERY_TENANT_A_SCHEMA=infra
type EnvListSource struct {
	listVar string
}

// NewEnvListSource builds an EnvListSource reading the database name
// list from listVar.
func NewEnvListSource(listVar string) *EnvListSource {
	return &EnvListSource{listVar: listVar}
}

// DiscoverDatabases implements Source.
func (s *EnvListSource) DiscoverDatabases(context.Context) ([]Database, error) {
	names := config.ParseCommaSeparatedList(config.GetEnvStr(s.listVar, ""))
	databases := make([]Database, 0, len(names))

	for _, name := range names {
		prefix := envPrefix(name)

		connection := config.GetEnvStr(prefix+"_DATABASE_URL", "")
		if connection == "" {
			return nil, fmt.Errorf("discovery: %s_DATABASE_URL not set for database %q", prefix, name)
		}

		databases = append(databases, Database{
			Name:       name,
			Connection: connection,
			Schema:     config.GetEnvStr(prefix+"_SCHEMA", "infra"),
		})
	}

	return databases, nil
}

func envPrefix(name string) string {
	out := make([]byte, len(name))

	for i := 0; i < len(name); i++ {
		c := name[i]

		switch {
		case c >= 'a' && c <= 'z':
			out[i] = c - 32
		case c == '-':
			out[i] = '_'
		default:
			out[i] = c
		}
	}

	return "DISCOVERY_" + string(out)
}
