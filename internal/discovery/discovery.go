// Package discovery resolves the set of tenant databases the messaging
// core operates against, and memoises one pooled connection per
// database behind a single initialisation barrier.
package discovery

import "context"

// Database is one discovered tenant database: a name, its connection
// string, and the schema its tables live under.
type Database struct {
	Name       string
	Connection string
	Schema     string
}

// Source resolves the current set of databases the core should operate
// against. Implementations may read a static list, an environment
// variable, or a YAML file.
type Source interface {
	DiscoverDatabases(ctx context.Context) ([]Database, error)
}
