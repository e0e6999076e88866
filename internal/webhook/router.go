package webhook

import "github.com/correlator-io/correlator/internal/inboxstore"

// PartitionRouter resolves a partition key to the inbox store that owns
// it, falling back to a default inbox when the key is absent or unknown.
type PartitionRouter struct {
	defaultInbox inboxstore.Store
	partitions   map[string]inboxstore.Store
}

// NewPartitionRouter builds a router with the given default inbox.
func NewPartitionRouter(defaultInbox inboxstore.Store) *PartitionRouter {
	return &PartitionRouter{defaultInbox: defaultInbox, partitions: make(map[string]inboxstore.Store)}
}

// Register binds a partition key to a dedicated inbox store.
func (r *PartitionRouter) Register(partitionKey string, store inboxstore.Store) {
	r.partitions[partitionKey] = store
}

// Resolve returns the inbox store for partitionKey, or the default inbox
// if partitionKey is empty or unregistered.
func (r *PartitionRouter) Resolve(partitionKey string) inboxstore.Store {
	if partitionKey == "" {
		return r.defaultInbox
	}

	if store, ok := r.partitions[partitionKey]; ok {
		return store
	}

	return r.defaultInbox
}
