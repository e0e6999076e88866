package discovery

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/correlator-io/correlator/internal/dbconn"
)

// Registry memoises one *dbconn.Connection per discovered database name,
// behind a singleflight barrier so concurrent first-lookups for the same
// name open exactly one pooled connection.
type Registry struct {
	source Source

	group singleflight.Group

	mu    sync.RWMutex
	conns map[string]*dbconn.Connection
	dbs   map[string]Database
}

// NewRegistry builds a Registry backed by source.
func NewRegistry(source Source) *Registry {
	return &Registry{source: source, conns: make(map[string]*dbconn.Connection), dbs: make(map[string]Database)}
}

// Refresh re-runs discovery and caches the result's Database records.
// It does not open connections; those are opened lazily by Get.
func (r *Registry) Refresh(ctx context.Context) ([]Database, error) {
	databases, err := r.source.DiscoverDatabases(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovery: refresh: %w", err)
	}

	r.mu.Lock()
	for _, d := range databases {
		r.dbs[d.Name] = d
	}
	r.mu.Unlock()

	return databases, nil
}

// Get returns the pooled connection for name, opening it on first use.
// Concurrent calls for the same name share one dbconn.New.
func (r *Registry) Get(name string) (*dbconn.Connection, error) {
	r.mu.RLock()
	if conn, ok := r.conns[name]; ok {
		r.mu.RUnlock()

		return conn, nil
	}
	db, known := r.dbs[name]
	r.mu.RUnlock()

	if !known {
		return nil, fmt.Errorf("discovery: unknown database %q", name)
	}

	result, err, _ := r.group.Do(name, func() (interface{}, error) {
		r.mu.RLock()
		if conn, ok := r.conns[name]; ok {
			r.mu.RUnlock()

			return conn, nil
		}
		r.mu.RUnlock()

		conn, err := dbconn.New(dbconn.NewConfig(db.Connection))
		if err != nil {
			return nil, fmt.Errorf("discovery: open %q: %w", name, err)
		}

		r.mu.Lock()
		r.conns[name] = conn
		r.mu.Unlock()

		return conn, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*dbconn.Connection), nil
}

// All returns every known Database record, cached from the last Refresh.
func (r *Registry) All() []Database {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Database, 0, len(r.dbs))
	for _, d := range r.dbs {
		out = append(out, d)
	}

	return out
}

// Close closes every open connection.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error

	for name, conn := range r.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("discovery: close %q: %w", name, err)
		}
	}

	return firstErr
}
