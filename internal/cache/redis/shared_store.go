package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
)

const scanBatch = 200

// SharedStore implements domain.SharedStore with plain string keys.
//
// Key schema:
//
//	{namespace}:{cache key} - JSON-encoded quotecache entry, with EX set
type SharedStore struct {
	c *Client
}

// NewSharedStore creates a SharedStore backed by the given Client.
func NewSharedStore(c *Client) *SharedStore {
	return &SharedStore{c: c}
}

// Get returns domain.ErrNotFound when the key does not exist.
func (s *SharedStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.c.rdb.Get(ctx, s.c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return data, nil
}

// Put stores value with the given expiration. A zero ttl keeps the key
// until it is deleted.
func (s *SharedStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.c.rdb.Set(ctx, s.c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: put %s: %w", key, err)
	}
	return nil
}

func (s *SharedStore) Delete(ctx context.Context, key string) error {
	if err := s.c.rdb.Del(ctx, s.c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis: delete %s: %w", key, err)
	}
	return nil
}

// List walks the keyspace with SCAN and returns un-namespaced keys.
func (s *SharedStore) List(ctx context.Context, prefix string) ([]string, error) {
	pattern := s.c.key(escapeGlob(prefix)) + "*"
	strip := s.c.key("")

	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.c.rdb.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: scan %s: %w", prefix, err)
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, strip))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

var globReplacer = strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}

var _ domain.SharedStore = (*SharedStore)(nil)
