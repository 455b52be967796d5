package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
)

// TransactionStore implements domain.TransactionStore.
type TransactionStore struct {
	mu      sync.RWMutex
	records map[string]domain.TransactionRecord
}

// NewTransactionStore creates an empty TransactionStore.
func NewTransactionStore() *TransactionStore {
	return &TransactionStore{records: make(map[string]domain.TransactionRecord)}
}

func (s *TransactionStore) Create(_ context.Context, rec domain.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return domain.ErrAlreadyExists
	}
	rec.Metadata = maps.Clone(rec.Metadata)
	s.records[rec.ID] = rec
	return nil
}

func (s *TransactionStore) Get(_ context.Context, id string) (domain.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.TransactionRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *TransactionStore) UpdateStatus(_ context.Context, id string, status domain.TransactionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	s.records[id] = rec
	return nil
}

// ListByUser returns the user's records, newest first.
func (s *TransactionStore) ListByUser(_ context.Context, user string, opts domain.ListOpts) ([]domain.TransactionRecord, error) {
	s.mu.RLock()
	var out []domain.TransactionRecord
	for _, rec := range s.records {
		if rec.UserAddress != user {
			continue
		}
		if opts.Since != nil && rec.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && rec.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, opts), nil
}

// ListBefore returns records created strictly before the cutoff, oldest first.
func (s *TransactionStore) ListBefore(_ context.Context, before time.Time) ([]domain.TransactionRecord, error) {
	s.mu.RLock()
	var out []domain.TransactionRecord
	for _, rec := range s.records {
		if rec.CreatedAt.Before(before) {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

var _ domain.TransactionStore = (*TransactionStore)(nil)
