package quotecache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Fetch is the typed form of GetOrFetch: fn's result is JSON-encoded on the
// way in and decoded into T on the way out.
func Fetch[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	raw, err := c.GetOrFetch(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, err
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("quotecache: decode %s: %w", key, err)
	}
	return out, nil
}

// Wrap returns fn with caching applied at the call site. keyFn derives the
// cache key from the argument.
func Wrap[A, T any](c *Cache, ttl time.Duration, keyFn func(A) string, fn func(context.Context, A) (T, error)) func(context.Context, A) (T, error) {
	return func(ctx context.Context, arg A) (T, error) {
		return Fetch(ctx, c, keyFn(arg), ttl, func(ctx context.Context) (T, error) {
			return fn(ctx, arg)
		})
	}
}
