package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
)

// Recorder is the append-only transaction log. Records are created pending
// and only their status changes afterwards.
type Recorder struct {
	store  domain.TransactionStore
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a Recorder over store.
func NewRecorder(store domain.TransactionStore, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger.With(slog.String("component", "recorder")),
		now:    time.Now,
	}
}

// RecordTransaction stores req and returns the new record's ID. An empty
// status is stored as pending.
func (r *Recorder) RecordTransaction(ctx context.Context, req domain.TransactionRequest) (string, error) {
	if req.Type != domain.TxDeposit && req.Type != domain.TxWithdraw {
		return "", fmt.Errorf("recorder: unknown transaction type %q", req.Type)
	}
	if req.AmountUSD <= 0 {
		return "", fmt.Errorf("recorder: amount %v: %w", req.AmountUSD, domain.ErrInvalidAmount)
	}
	status := req.Status
	if status == "" {
		status = domain.TxPending
	}
	if !status.Valid() {
		return "", fmt.Errorf("recorder: unknown status %q", status)
	}

	now := r.now().UTC()
	rec := domain.TransactionRecord{
		ID:          uuid.NewString(),
		UserAddress: req.UserAddress,
		Type:        req.Type,
		Asset:       strings.ToUpper(req.Asset),
		AmountUSD:   req.AmountUSD,
		Provider:    req.Provider,
		FeesUSD:     req.FeesUSD,
		Status:      status,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.store.Create(ctx, rec); err != nil {
		return "", fmt.Errorf("recorder: create %s: %w", rec.Type, err)
	}

	r.logger.InfoContext(ctx, "transaction recorded",
		slog.String("id", rec.ID),
		slog.String("user", rec.UserAddress),
		slog.String("type", string(rec.Type)),
		slog.String("provider", rec.Provider),
		slog.Float64("amount_usd", rec.AmountUSD),
	)
	return rec.ID, nil
}

// UpdateStatus moves a record to status. Unknown IDs return
// domain.ErrNotFound.
func (r *Recorder) UpdateStatus(ctx context.Context, id string, status domain.TransactionStatus) error {
	if !status.Valid() {
		return fmt.Errorf("recorder: unknown status %q", status)
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("recorder: transaction %q: %w", id, domain.ErrNotFound)
	}
	if err := r.store.UpdateStatus(ctx, id, status); err != nil {
		return fmt.Errorf("recorder: update %s: %w", id, err)
	}
	return nil
}

// Get returns one record.
func (r *Recorder) Get(ctx context.Context, id string) (domain.TransactionRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("recorder: transaction %q: %w", id, domain.ErrNotFound)
	}
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("recorder: get %s: %w", id, err)
	}
	return rec, nil
}

// History returns the user's records newest first.
func (r *Recorder) History(ctx context.Context, user string, opts domain.ListOpts) ([]domain.TransactionRecord, error) {
	recs, err := r.store.ListByUser(ctx, user, opts)
	if err != nil {
		return nil, fmt.Errorf("recorder: history %s: %w", user, err)
	}
	return recs, nil
}

var _ domain.TransactionRecorder = (*Recorder)(nil)
