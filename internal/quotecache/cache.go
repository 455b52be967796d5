// Package quotecache implements the tiered read-through cache that fronts
// provider quotes: a process-local ristretto tier, a shared store (Redis in
// production), and finally the upstream fetch.
package quotecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
	"github.com/alanyoungcy/yieldrouter/internal/metrics"
)

// Entry is the stored form of a cached value.
type Entry struct {
	Data        json.RawMessage `json:"data"`
	FetchedAtMs int64           `json:"fetchedAtMs"`
	TTLMs       int64           `json:"ttlMs"`
}

// Valid reports whether the entry is still fresh at now.
func (e Entry) Valid(now time.Time) bool {
	return now.UnixMilli()-e.FetchedAtMs < e.TTLMs
}

func (e Entry) remaining(now time.Time) time.Duration {
	return time.Duration(e.FetchedAtMs+e.TTLMs-now.UnixMilli()) * time.Millisecond
}

// FetchFunc loads a value from upstream and returns it JSON-encoded.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Config tunes the cache.
type Config struct {
	LocalMaxCost     int64
	LocalNumCounters int64
	// FetchTimeout bounds every upstream call.
	FetchTimeout time.Duration
	// StaleWindow is how long the shared tier keeps an entry past its TTL so
	// it can still be served when upstream fails.
	StaleWindow       time.Duration
	WarmUpConcurrency int
}

func (c Config) withDefaults() Config {
	if c.LocalMaxCost <= 0 {
		c.LocalMaxCost = 64 << 20
	}
	if c.LocalNumCounters <= 0 {
		c.LocalNumCounters = 100_000
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 5 * time.Second
	}
	if c.StaleWindow < 0 {
		c.StaleWindow = 0
	}
	if c.WarmUpConcurrency <= 0 {
		c.WarmUpConcurrency = 8
	}
	return c
}

// Cache is the tiered quote cache. It is safe for concurrent use.
type Cache struct {
	cfg     Config
	local   *localTier
	shared  domain.SharedStore
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Cache over the given shared store.
func New(cfg Config, shared domain.SharedStore, m *metrics.Metrics, logger *slog.Logger) (*Cache, error) {
	cfg = cfg.withDefaults()
	local, err := newLocalTier(cfg.LocalMaxCost, cfg.LocalNumCounters)
	if err != nil {
		return nil, err
	}
	return &Cache{
		cfg:     cfg,
		local:   local,
		shared:  shared,
		metrics: m,
		logger:  logger.With(slog.String("component", "quote_cache")),
		now:     time.Now,
	}, nil
}

// Close releases the local tier.
func (c *Cache) Close() {
	c.local.close()
}

// GetOrFetch returns the value for key, trying the local tier, then the
// shared tier, then fetch. Concurrent misses on the same key share a single
// fetch. When fetch fails the last shared value is served even if expired.
// A caller whose ctx ends while waiting gets ctx.Err() and no value.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) (json.RawMessage, error) {
	now := c.now()

	if e, ok := c.local.get(key); ok && e.Valid(now) {
		c.metrics.CacheLookup("local", "hit")
		return e.Data, nil
	}
	c.metrics.CacheLookup("local", "miss")

	stale := c.readShared(ctx, key)
	if stale != nil && stale.Valid(now) {
		c.metrics.CacheLookup("shared", "hit")
		c.local.set(key, *stale, stale.remaining(now))
		return stale.Data, nil
	}
	c.metrics.CacheLookup("shared", "miss")

	ch := c.group.DoChan(key, func() (any, error) {
		return c.fetchAndStore(ctx, key, ttl, fetch)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
		if res.Err == nil {
			return res.Val.(json.RawMessage), nil
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("quotecache: fetch %s: %w", key, ctx.Err())
	}
	err := res.Err

	if stale != nil {
		c.metrics.StaleServe()
		c.logger.WarnContext(ctx, "serving stale cache entry",
			slog.String("key", key),
			slog.Duration("age", now.Sub(time.UnixMilli(stale.FetchedAtMs))),
			slog.String("error", err.Error()),
		)
		return stale.Data, nil
	}
	return nil, fmt.Errorf("quotecache: fetch %s: %w: %w", key, domain.ErrProviderUnavailable, err)
}

// fetchAndStore runs fetch under the configured timeout, detached from the
// caller's cancellation so that other waiters on the same key are not failed
// by one caller going away.
func (c *Cache) fetchAndStore(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) (json.RawMessage, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.FetchTimeout)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		d, err := fetch(fctx)
		done <- result{data: d, err: err}
	}()

	var raw []byte
	select {
	case r := <-done:
		if r.err != nil {
			c.metrics.FetchError()
			return nil, r.err
		}
		raw = r.data
	case <-fctx.Done():
		c.metrics.FetchError()
		return nil, fmt.Errorf("upstream timed out after %s: %w", c.cfg.FetchTimeout, fctx.Err())
	}

	if !json.Valid(raw) {
		c.metrics.FetchError()
		return nil, fmt.Errorf("upstream returned invalid JSON for %s", key)
	}

	entry := Entry{
		Data:        json.RawMessage(raw),
		FetchedAtMs: c.now().UnixMilli(),
		TTLMs:       ttl.Milliseconds(),
	}
	c.store(fctx, key, entry, ttl)
	return entry.Data, nil
}

// Set writes value to both tiers as if it had just been fetched.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("quotecache: marshal %s: %w", key, err)
	}
	entry := Entry{Data: raw, FetchedAtMs: c.now().UnixMilli(), TTLMs: ttl.Milliseconds()}
	c.local.set(key, entry, ttl)
	if err := c.putShared(ctx, key, entry, ttl); err != nil {
		return fmt.Errorf("quotecache: set %s: %w", key, err)
	}
	return nil
}

// Delete removes key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.local.del(key)
	if err := c.shared.Delete(ctx, key); err != nil {
		return fmt.Errorf("quotecache: delete %s: %w", key, err)
	}
	return nil
}

// ClearPrefix removes every key that starts with prefix from both tiers and
// returns how many distinct keys were removed.
func (c *Cache) ClearPrefix(ctx context.Context, prefix string) (int, error) {
	removed := make(map[string]struct{})
	for _, k := range c.local.keysWithPrefix(prefix) {
		c.local.del(k)
		removed[k] = struct{}{}
	}

	keys, err := c.shared.List(ctx, prefix)
	if err != nil {
		return len(removed), fmt.Errorf("quotecache: list prefix %s: %w", prefix, err)
	}
	var errs []error
	for _, k := range keys {
		c.local.del(k)
		if err := c.shared.Delete(ctx, k); err != nil {
			errs = append(errs, err)
			continue
		}
		removed[k] = struct{}{}
	}
	if len(errs) > 0 {
		return len(removed), fmt.Errorf("quotecache: clear prefix %s: %w", prefix, errors.Join(errs...))
	}
	return len(removed), nil
}

func (c *Cache) store(ctx context.Context, key string, entry Entry, ttl time.Duration) {
	c.local.set(key, entry, ttl)
	if err := c.putShared(ctx, key, entry, ttl); err != nil {
		c.logger.WarnContext(ctx, "shared cache write failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Cache) putShared(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.shared.Put(ctx, key, raw, ttl+c.cfg.StaleWindow)
}

// readShared returns the shared entry regardless of freshness, or nil.
func (c *Cache) readShared(ctx context.Context, key string) *Entry {
	raw, err := c.shared.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.WarnContext(ctx, "shared cache read failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.WarnContext(ctx, "shared cache entry corrupt",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return &e
}
