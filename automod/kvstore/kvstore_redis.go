package kvstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisKVPrefix string = "sieve/kv/"

// Store backed by redis. Listing uses SCAN, which is a full keyspace walk; it is bounded by the caller's limit only after scanning.
type RedisStore struct {
	Client *redis.Client
	// number of keys requested per SCAN round-trip
	ScanBatch int64
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		Client:    client,
		ScanBatch: 500,
	}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.Client.Get(ctx, redisKVPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return val, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return s.Client.Set(ctx, redisKVPrefix+key, val, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.Client.Del(ctx, redisKVPrefix+key).Err()
}

func (s *RedisStore) List(ctx context.Context, prefix string, limit int) ([]Entry, error) {
	match := escapeGlob(redisKVPrefix+prefix) + "*"

	keys := []string{}
	iter := s.Client.Scan(ctx, 0, match, s.ScanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	// SCAN may return a key more than once
	sort.Strings(keys)
	keys = compactSorted(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	if len(keys) == 0 {
		return []Entry{}, nil
	}

	vals, err := s.Client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(keys))
	for i, v := range vals {
		// expired or deleted since the scan
		str, ok := v.(string)
		if !ok {
			continue
		}
		out = append(out, Entry{Key: strings.TrimPrefix(keys[i], redisKVPrefix), Value: []byte(str)})
	}
	return out, nil
}

func compactSorted(keys []string) []string {
	out := keys[:0]
	for i, k := range keys {
		if i > 0 && k == keys[i-1] {
			continue
		}
		out = append(out, k)
	}
	return out
}

// Escapes redis glob-style pattern characters.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\', '^':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
