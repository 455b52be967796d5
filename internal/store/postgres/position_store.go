package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
)

const uniqueViolation = "23505"

// PositionStore implements domain.PositionStore using PostgreSQL. Updates are
// guarded by the version column: a write only lands if the row still carries
// the version the caller read.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `user_address, asset, provider_id,
	shares::text, cost_basis_usd, open_cost_usd,
	total_deposited_usd, total_withdrawn_usd,
	realized_pnl_usd, unrealized_pnl_usd, total_pnl_usd,
	current_value_usd, current_apy,
	total_shares_received::text, total_shares_burned::text,
	deposit_count, withdraw_count, active,
	first_deposit_at, last_activity_at, created_at, updated_at, version`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p                        domain.Position
		shares, received, burned string
	)
	err := row.Scan(
		&p.UserAddress, &p.Asset, &p.ProviderID,
		&shares, &p.CostBasisUSD, &p.OpenCostUSD,
		&p.TotalDepositedUSD, &p.TotalWithdrawnUSD,
		&p.RealizedPnLUSD, &p.UnrealizedPnLUSD, &p.TotalPnLUSD,
		&p.CurrentValueUSD, &p.CurrentAPY,
		&received, &burned,
		&p.DepositCount, &p.WithdrawCount, &p.Active,
		&p.FirstDepositAt, &p.LastActivityAt, &p.CreatedAt, &p.UpdatedAt, &p.Version,
	)
	if err != nil {
		return domain.Position{}, err
	}

	if p.Shares, err = decimal.NewFromString(shares); err != nil {
		return domain.Position{}, fmt.Errorf("parse shares %q: %w", shares, err)
	}
	if p.TotalSharesReceived, err = decimal.NewFromString(received); err != nil {
		return domain.Position{}, fmt.Errorf("parse shares received %q: %w", received, err)
	}
	if p.TotalSharesBurned, err = decimal.NewFromString(burned); err != nil {
		return domain.Position{}, fmt.Errorf("parse shares burned %q: %w", burned, err)
	}
	return p, nil
}

// Get returns domain.ErrNotFound if no row exists for key.
func (s *PositionStore) Get(ctx context.Context, key domain.PositionKey) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions
		WHERE user_address = $1 AND asset = $2 AND provider_id = $3`

	p, err := scanPosition(s.pool.QueryRow(ctx, query, key.UserAddress, key.Asset, key.ProviderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", key, err)
	}
	return p, nil
}

// ListByUser returns every position of user, or only those for asset when it
// is non-empty.
func (s *PositionStore) ListByUser(ctx context.Context, user, asset string) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE user_address = $1`
	args := []any{user}
	if asset != "" {
		query += ` AND asset = $2`
		args = append(args, asset)
	}
	query += ` ORDER BY asset, provider_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions %s: %w", user, err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return out, nil
}

// Insert creates the row at version 1. It returns domain.ErrAlreadyExists if
// another writer created the key first.
func (s *PositionStore) Insert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			user_address, asset, provider_id,
			shares, cost_basis_usd, open_cost_usd,
			total_deposited_usd, total_withdrawn_usd,
			realized_pnl_usd, unrealized_pnl_usd, total_pnl_usd,
			current_value_usd, current_apy,
			total_shares_received, total_shares_burned,
			deposit_count, withdraw_count, active,
			first_deposit_at, last_activity_at, version, created_at, updated_at
		) VALUES (
			$1, $2, $3,
			$4::numeric, $5, $6,
			$7, $8,
			$9, $10, $11,
			$12, $13,
			$14::numeric, $15::numeric,
			$16, $17, $18,
			$19, $20, 1, NOW(), NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.UserAddress, p.Asset, p.ProviderID,
		p.Shares.String(), p.CostBasisUSD, p.OpenCostUSD,
		p.TotalDepositedUSD, p.TotalWithdrawnUSD,
		p.RealizedPnLUSD, p.UnrealizedPnLUSD, p.TotalPnLUSD,
		p.CurrentValueUSD, p.CurrentAPY,
		p.TotalSharesReceived.String(), p.TotalSharesBurned.String(),
		p.DepositCount, p.WithdrawCount, p.Active,
		p.FirstDepositAt, p.LastActivityAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: insert position %s: %w", p.PositionKey, err)
	}
	return nil
}

// Update writes p if the row is still at expectedVersion and bumps the
// version. A missing row or a moved version is reported as
// domain.ErrVersionConflict.
func (s *PositionStore) Update(ctx context.Context, p domain.Position, expectedVersion int64) error {
	const query = `
		UPDATE positions SET
			shares                = $4::numeric,
			cost_basis_usd        = $5,
			open_cost_usd         = $6,
			total_deposited_usd   = $7,
			total_withdrawn_usd   = $8,
			realized_pnl_usd      = $9,
			unrealized_pnl_usd    = $10,
			total_pnl_usd         = $11,
			current_value_usd     = $12,
			current_apy           = $13,
			total_shares_received = $14::numeric,
			total_shares_burned   = $15::numeric,
			deposit_count         = $16,
			withdraw_count        = $17,
			active                = $18,
			last_activity_at      = $19,
			version               = version + 1,
			updated_at            = NOW()
		WHERE user_address = $1 AND asset = $2 AND provider_id = $3 AND version = $20`

	tag, err := s.pool.Exec(ctx, query,
		p.UserAddress, p.Asset, p.ProviderID,
		p.Shares.String(), p.CostBasisUSD, p.OpenCostUSD,
		p.TotalDepositedUSD, p.TotalWithdrawnUSD,
		p.RealizedPnLUSD, p.UnrealizedPnLUSD, p.TotalPnLUSD,
		p.CurrentValueUSD, p.CurrentAPY,
		p.TotalSharesReceived.String(), p.TotalSharesBurned.String(),
		p.DepositCount, p.WithdrawCount, p.Active,
		p.LastActivityAt, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.PositionKey, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
