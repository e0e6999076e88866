package discovery

import "context"

// StaticSource returns a fixed, in-memory list of databases. The
// simplest Source, used for tests and single-tenant deployments.
type StaticSource struct {
	databases []Database
}

// NewStaticSource builds a StaticSource over databases.
func NewStaticSource(databases []Database) *StaticSource {
	return &StaticSource{databases: databases}
}

// DiscoverDatabases implements Source.
func (s *StaticSource) DiscoverDatabases(context.Context) ([]Database, error) {
	out := make([]Database, len(s.databases))
	copy(out, s.databases)

	return out, nil
}
