// Package persistence defines the key-addressed document store the
// coordinator consumes for checkpointing and historical queries, and a
// bbolt-backed implementation of it.
package persistence

import "time"

// SortField names the fields Query can order on.
type SortField string

const (
	SortTimestamp SortField = "timestamp"
	SortAccessed  SortField = "accessed"
	SortSize      SortField = "size"
	SortPriority  SortField = "priority"
	SortName      SortField = "name"
)

// SortOrder is ascending or descending.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// Record is a single stored document returned by Query.
type Record struct {
	Key       string
	Namespace string
	Category  string
	Tags      []string
	Value     []byte
	CreatedAt time.Time
	AccessedAt time.Time
	ExpiresAt  time.Time // zero means no TTL
}

// QueryOptions filters and orders a Query call. Zero-value fields are
// treated as unset and excluded from the AND filter.
type QueryOptions struct {
	Namespace string
	Category  string
	Tags      []string
	Limit     int
	Sort      SortField
	Order     SortOrder
}

// Store is the key-addressed document store the coordinator persists
// agent registrations, topology snapshots, task outcomes, failure and
// resolution records, load-balancer state, and checkpoints to.
//
// TTLs are best-effort: an implementation must not return an entry whose
// ExpiresAt has passed, but is not required to eagerly evict it.
type Store interface {
	// Put is an idempotent upsert. A zero ttl means the entry never expires.
	Put(key, namespace, category string, value []byte, tags []string, ttl time.Duration) error

	// Get returns the most recent value for key in namespace, or
	// swarmerr.ErrNotFound if absent or expired.
	Get(key, namespace string) ([]byte, error)

	// Query filters stored records by the AND of the set fields in opts.
	Query(opts QueryOptions) ([]Record, error)

	// Delete removes key from namespace. It reports whether a record was
	// actually removed.
	Delete(key, namespace string) (bool, error)

	// Close releases the underlying storage handle.
	Close() error
}
