package quotecache

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// indexPruneThreshold bounds the key index before dead keys are swept.
const indexPruneThreshold = 10_000

// localTier is the process-local tier. Ristretto holds the entries; a side
// index of keys makes prefix invalidation possible since ristretto only keeps
// key hashes.
type localTier struct {
	cache *ristretto.Cache

	mu   sync.Mutex
	keys map[string]struct{}
}

func newLocalTier(maxCost, numCounters int64) (*localTier, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        numCounters,
		MaxCost:            maxCost,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("quotecache: create local tier: %w", err)
	}
	return &localTier{
		cache: c,
		keys:  make(map[string]struct{}),
	}, nil
}

func (l *localTier) get(key string) (Entry, bool) {
	v, ok := l.cache.Get(key)
	if !ok {
		return Entry{}, false
	}
	e, ok := v.(Entry)
	return e, ok
}

func (l *localTier) set(key string, e Entry, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	l.cache.SetWithTTL(key, e, int64(len(e.Data))+1, ttl)
	// Make the write visible to the next Get.
	l.cache.Wait()

	l.mu.Lock()
	l.keys[key] = struct{}{}
	if len(l.keys) > indexPruneThreshold {
		l.pruneLocked()
	}
	l.mu.Unlock()
}

func (l *localTier) del(key string) {
	l.cache.Del(key)
	l.mu.Lock()
	delete(l.keys, key)
	l.mu.Unlock()
}

// keysWithPrefix returns indexed keys starting with prefix.
func (l *localTier) keysWithPrefix(prefix string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []string
	for k := range l.keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

// pruneLocked drops index entries whose values ristretto already evicted.
func (l *localTier) pruneLocked() {
	for k := range l.keys {
		if _, ok := l.cache.Get(k); !ok {
			delete(l.keys, k)
		}
	}
}

func (l *localTier) close() {
	l.cache.Close()
}
