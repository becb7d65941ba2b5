package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/swarmd/pkg/swarmerr"
	bolt "go.etcd.io/bbolt"
)

// envelope is the on-disk representation of one Put call: the caller's
// value plus the bookkeeping fields Query filters and sorts on.
type envelope struct {
	Category   string    `json:"category"`
	Tags       []string  `json:"tags"`
	Value      []byte    `json:"value"`
	CreatedAt  time.Time `json:"created_at"`
	AccessedAt time.Time `json:"accessed_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (e *envelope) expired() bool {
	return !e.ExpiresAt.IsZero() && time.Now().After(e.ExpiresAt)
}

func (e *envelope) hasTags(want []string) bool {
	if len(want) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(e.Tags))
	for _, t := range e.Tags {
		have[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := have[t]; !ok {
			return false
		}
	}
	return true
}

// BoltStore is a bbolt-backed implementation of Store. Each namespace maps
// to one top-level bucket; keys within a namespace hold a JSON-encoded
// envelope.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a bbolt database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "swarmd.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open persistence database: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) bucket(tx *bolt.Tx, namespace string, create bool) (*bolt.Bucket, error) {
	if create {
		return tx.CreateBucketIfNotExists([]byte(namespace))
	}
	return tx.Bucket([]byte(namespace)), nil
}

// Put is an idempotent upsert.
func (s *BoltStore) Put(key, namespace, category string, value []byte, tags []string, ttl time.Duration) error {
	now := time.Now()
	env := envelope{
		Category:   category,
		Tags:       tags,
		Value:      value,
		CreatedAt:  now,
		AccessedAt: now,
	}
	if ttl > 0 {
		env.ExpiresAt = now.Add(ttl)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := s.bucket(tx, namespace, true)
		if err != nil {
			return fmt.Errorf("open namespace bucket %q: %w", namespace, err)
		}

		// Preserve CreatedAt across an upsert of an existing, unexpired key.
		if existing := b.Get([]byte(key)); existing != nil {
			var prev envelope
			if err := json.Unmarshal(existing, &prev); err == nil && !prev.expired() {
				env.CreatedAt = prev.CreatedAt
			}
		}

		data, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("marshal record %q: %w", key, err)
		}
		return b.Put([]byte(key), data)
	})
}

// Get returns the most recent value for key in namespace.
func (s *BoltStore) Get(key, namespace string) ([]byte, error) {
	var value []byte

	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := s.bucket(tx, namespace, false)
		if err != nil {
			return err
		}
		if b == nil {
			return fmt.Errorf("namespace %q: %w", namespace, swarmerr.ErrNotFound)
		}

		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("key %q: %w", key, swarmerr.ErrNotFound)
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("unmarshal record %q: %w", key, err)
		}
		if env.expired() {
			return fmt.Errorf("key %q: %w", key, swarmerr.ErrNotFound)
		}

		env.AccessedAt = time.Now()
		if updated, err := json.Marshal(env); err == nil {
			_ = b.Put([]byte(key), updated)
		}

		value = env.Value
		return nil
	})

	return value, err
}

// Query filters stored records by the AND of the set fields in opts.
func (s *BoltStore) Query(opts QueryOptions) ([]Record, error) {
	var records []Record

	err := s.db.View(func(tx *bolt.Tx) error {
		namespaces := [][]byte{}
		if opts.Namespace != "" {
			namespaces = append(namespaces, []byte(opts.Namespace))
		} else {
			if err := tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
				namespaces = append(namespaces, bytes.Clone(name))
				return nil
			}); err != nil {
				return err
			}
		}

		for _, ns := range namespaces {
			b := tx.Bucket(ns)
			if b == nil {
				continue
			}

			if err := b.ForEach(func(k, v []byte) error {
				var env envelope
				if err := json.Unmarshal(v, &env); err != nil {
					return nil // skip malformed records rather than fail the whole query
				}
				if env.expired() {
					return nil
				}
				if opts.Category != "" && env.Category != opts.Category {
					return nil
				}
				if !env.hasTags(opts.Tags) {
					return nil
				}

				records = append(records, Record{
					Key:        string(k),
					Namespace:  string(ns),
					Category:   env.Category,
					Tags:       env.Tags,
					Value:      env.Value,
					CreatedAt:  env.CreatedAt,
					AccessedAt: env.AccessedAt,
					ExpiresAt:  env.ExpiresAt,
				})
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortRecords(records, opts.Sort, opts.Order)

	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[:opts.Limit]
	}

	return records, nil
}

func sortRecords(records []Record, field SortField, order SortOrder) {
	if field == "" {
		field = SortTimestamp
	}

	less := func(i, j int) bool {
		a, b := records[i], records[j]
		switch field {
		case SortAccessed:
			return a.AccessedAt.Before(b.AccessedAt)
		case SortSize:
			return len(a.Value) < len(b.Value)
		case SortName:
			return a.Key < b.Key
		case SortPriority:
			// Priority has no dedicated column; records carry it in their
			// marshaled value, so fall back to recency ordering.
			return a.CreatedAt.Before(b.CreatedAt)
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		if order == OrderDesc {
			return less(j, i)
		}
		return less(i, j)
	})
}

// Delete removes key from namespace, reporting whether it existed.
func (s *BoltStore) Delete(key, namespace string) (bool, error) {
	var existed bool

	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := s.bucket(tx, namespace, false)
		if err != nil {
			return err
		}
		if b == nil {
			return nil
		}
		if b.Get([]byte(key)) != nil {
			existed = true
		}
		return b.Delete([]byte(key))
	})

	return existed, err
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
