package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
)

// PositionStore implements domain.PositionStore with version checks that
// mirror the Postgres store.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[domain.PositionKey]domain.Position
}

// NewPositionStore creates an empty PositionStore.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[domain.PositionKey]domain.Position)}
}

func (s *PositionStore) Get(_ context.Context, key domain.PositionKey) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[key]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

// ListByUser returns the user's positions, optionally narrowed to one asset,
// ordered by asset then provider.
func (s *PositionStore) ListByUser(_ context.Context, user, asset string) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Position
	for k, p := range s.positions {
		if k.UserAddress != user {
			continue
		}
		if asset != "" && k.Asset != asset {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Asset != out[j].Asset {
			return out[i].Asset < out[j].Asset
		}
		return out[i].ProviderID < out[j].ProviderID
	})
	return out, nil
}

func (s *PositionStore) Insert(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[p.PositionKey]; ok {
		return domain.ErrAlreadyExists
	}
	now := time.Now().UTC()
	p.Version = 1
	p.CreatedAt = now
	p.UpdatedAt = now
	s.positions[p.PositionKey] = p
	return nil
}

func (s *PositionStore) Update(_ context.Context, p domain.Position, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.positions[p.PositionKey]
	if !ok || cur.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	p.Version = expectedVersion + 1
	p.CreatedAt = cur.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	s.positions[p.PositionKey] = p
	return nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
