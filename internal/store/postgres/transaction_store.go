package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
)

// TransactionStore implements domain.TransactionStore using PostgreSQL.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a new TransactionStore backed by the given connection pool.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

const txSelectCols = `id::text, user_address, type, asset, amount_usd, provider,
	fees_usd, status, metadata, created_at, updated_at`

func scanTransaction(row pgx.Row) (domain.TransactionRecord, error) {
	var (
		rec          domain.TransactionRecord
		typ, status  string
		metadataJSON []byte
	)
	if err := row.Scan(
		&rec.ID, &rec.UserAddress, &typ, &rec.Asset, &rec.AmountUSD, &rec.Provider,
		&rec.FeesUSD, &status, &metadataJSON, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return domain.TransactionRecord{}, err
	}
	rec.Type = domain.TransactionType(typ)
	rec.Status = domain.TransactionStatus(status)
	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
			return domain.TransactionRecord{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return rec, nil
}

func collectTransactions(rows pgx.Rows) ([]domain.TransactionRecord, error) {
	defer rows.Close()
	var out []domain.TransactionRecord
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Create inserts a new record.
func (s *TransactionStore) Create(ctx context.Context, rec domain.TransactionRecord) error {
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal transaction metadata: %w", err)
	}

	const query = `
		INSERT INTO transactions (
			id, user_address, type, asset, amount_usd, provider,
			fees_usd, status, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = s.pool.Exec(ctx, query,
		rec.ID, rec.UserAddress, string(rec.Type), rec.Asset, rec.AmountUSD, rec.Provider,
		rec.FeesUSD, string(rec.Status), metadataJSON, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create transaction %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns domain.ErrNotFound if id does not exist.
func (s *TransactionStore) Get(ctx context.Context, id string) (domain.TransactionRecord, error) {
	query := `SELECT ` + txSelectCols + ` FROM transactions WHERE id = $1`
	rec, err := scanTransaction(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TransactionRecord{}, domain.ErrNotFound
		}
		return domain.TransactionRecord{}, fmt.Errorf("postgres: get transaction %s: %w", id, err)
	}
	return rec, nil
}

// UpdateStatus returns domain.ErrNotFound if id does not exist.
func (s *TransactionStore) UpdateStatus(ctx context.Context, id string, status domain.TransactionStatus) error {
	const query = `UPDATE transactions SET status = $2, updated_at = NOW() WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: update transaction status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByUser returns the user's records newest first.
func (s *TransactionStore) ListByUser(ctx context.Context, user string, opts domain.ListOpts) ([]domain.TransactionRecord, error) {
	query, args := appendListOpts(
		`SELECT `+txSelectCols+` FROM transactions WHERE user_address = $1`,
		[]any{user}, opts, "created_at DESC, id DESC",
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions %s: %w", user, err)
	}
	out, err := collectTransactions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions %s rows: %w", user, err)
	}
	return out, nil
}

// ListBefore returns records created strictly before the cutoff, oldest first.
func (s *TransactionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TransactionRecord, error) {
	query := `SELECT ` + txSelectCols + ` FROM transactions WHERE created_at < $1 ORDER BY created_at`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions before %s: %w", before.Format(time.RFC3339), err)
	}
	out, err := collectTransactions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions before rows: %w", err)
	}
	return out, nil
}

var _ domain.TransactionStore = (*TransactionStore)(nil)
