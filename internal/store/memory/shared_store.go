// Package memory provides in-process implementations of the domain stores.
// They back the "memory" storage mode and the test suites.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
)

type sharedItem struct {
	value     []byte
	expiresAt time.Time
}

// SharedStore implements domain.SharedStore with a TTL map.
type SharedStore struct {
	mu    sync.RWMutex
	items map[string]sharedItem
	now   func() time.Time
}

// NewSharedStore creates an empty SharedStore.
func NewSharedStore() *SharedStore {
	return &SharedStore{
		items: make(map[string]sharedItem),
		now:   time.Now,
	}
}

func (s *SharedStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	it, ok := s.items[key]
	s.mu.RUnlock()
	if !ok || s.expired(it) {
		return nil, domain.ErrNotFound
	}
	out := make([]byte, len(it.value))
	copy(out, it.value)
	return out, nil
}

func (s *SharedStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	it := sharedItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.items[key] = it
	s.mu.Unlock()
	return nil
}

func (s *SharedStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// List returns live keys with the given prefix in sorted order.
func (s *SharedStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for k, it := range s.items {
		if s.expired(it) {
			delete(s.items, k)
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *SharedStore) expired(it sharedItem) bool {
	return !it.expiresAt.IsZero() && !s.now().Before(it.expiresAt)
}

var _ domain.SharedStore = (*SharedStore)(nil)
