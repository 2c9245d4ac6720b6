// Key-value storage used for content, the moderation queue, and the audit log.
//
// The contract is deliberately small (get, put with optional TTL, delete, and list by key prefix) and has no multi-key transactions, so callers must order their writes to tolerate partial failure. Implementations are provided for in-process memory, redis, and SQL databases (via gorm).
package kvstore

import (
	"context"
	"errors"
	"time"
)

// Returned by Get when a key does not exist or has expired.
var ErrNotFound = errors.New("key not found")

type Entry struct {
	Key   string
	Value []byte
}

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Writes a value, replacing any existing one. A zero ttl means the key does not expire.
	Put(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Returns non-expired entries whose key starts with prefix, sorted by key. A limit of zero or less means no limit.
	List(ctx context.Context, prefix string, limit int) ([]Entry, error)
}
