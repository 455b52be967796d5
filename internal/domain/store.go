package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists ledger positions. Update must fail with
// ErrVersionConflict when the stored version differs from expectedVersion,
// and Insert with ErrAlreadyExists when the key is taken.
type PositionStore interface {
	Get(ctx context.Context, key PositionKey) (Position, error)
	ListByUser(ctx context.Context, user, asset string) ([]Position, error)
	Insert(ctx context.Context, p Position) error
	Update(ctx context.Context, p Position, expectedVersion int64) error
}

// TransactionStore persists transaction records.
type TransactionStore interface {
	Create(ctx context.Context, rec TransactionRecord) error
	Get(ctx context.Context, id string) (TransactionRecord, error)
	UpdateStatus(ctx context.Context, id string, status TransactionStatus) error
	ListByUser(ctx context.Context, user string, opts ListOpts) ([]TransactionRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]TransactionRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AuditStore records an append-only audit trail.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
