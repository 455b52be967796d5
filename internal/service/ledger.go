package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
	"github.com/alanyoungcy/yieldrouter/internal/metrics"
)

// LedgerConfig tunes the ledger's write path.
type LedgerConfig struct {
	CostBasis domain.CostBasisMethod
	// MaxRetries is how many times a write is retried after a version
	// conflict before ErrLedgerConflict is returned.
	MaxRetries  int
	BaseBackoff time.Duration
	// LockTTL bounds the distributed lock. Acquisition is retried for at
	// most this long.
	LockTTL time.Duration
}

func (c LedgerConfig) withDefaults() LedgerConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 10 * time.Millisecond
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 5 * time.Second
	}
	return c
}

const lockRetryInterval = 25 * time.Millisecond

// LedgerService owns position state. Every mutation of one key is serialized
// in-process, optionally across processes through the lock manager, and
// written with a version check.
type LedgerService struct {
	cfg     LedgerConfig
	store   domain.PositionStore
	locks   domain.LockManager
	audit   domain.AuditStore
	keys    *keyedMutex
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewLedgerService creates a LedgerService. locks and audit may be nil.
func NewLedgerService(
	cfg LedgerConfig,
	store domain.PositionStore,
	locks domain.LockManager,
	audit domain.AuditStore,
	m *metrics.Metrics,
	logger *slog.Logger,
) *LedgerService {
	return &LedgerService{
		cfg:     cfg.withDefaults(),
		store:   store,
		locks:   locks,
		audit:   audit,
		keys:    newKeyedMutex(),
		metrics: m,
		logger:  logger.With(slog.String("component", "ledger")),
		now:     time.Now,
	}
}

// mutateFunc edits p in place. exists is false when p is a fresh zero row.
type mutateFunc func(p *domain.Position, exists bool, now time.Time) error

func (s *LedgerService) mutate(ctx context.Context, kind string, key domain.PositionKey, fn mutateFunc) (domain.Position, error) {
	unlock := s.keys.Lock(key.String())
	defer unlock()

	if s.locks != nil {
		release, err := s.acquire(ctx, key)
		if err != nil {
			return domain.Position{}, err
		}
		defer release()
	}

	backoff := s.cfg.BaseBackoff
	for attempt := 0; ; attempt++ {
		cur, err := s.store.Get(ctx, key)
		exists := true
		if errors.Is(err, domain.ErrNotFound) {
			exists = false
			cur = domain.Position{PositionKey: key}
		} else if err != nil {
			return domain.Position{}, fmt.Errorf("ledger: load %s: %w", key, err)
		}

		now := s.now().UTC()
		next := cur
		if err := fn(&next, exists, now); err != nil {
			return domain.Position{}, err
		}
		next.UpdatedAt = now

		if exists {
			err = s.store.Update(ctx, next, cur.Version)
			next.Version = cur.Version + 1
		} else {
			next.CreatedAt = now
			err = s.store.Insert(ctx, next)
			next.Version = 1
		}
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) && !errors.Is(err, domain.ErrAlreadyExists) {
			return domain.Position{}, fmt.Errorf("ledger: %s %s: %w", kind, key, err)
		}

		if attempt >= s.cfg.MaxRetries {
			s.metrics.LedgerConflict()
			s.logger.WarnContext(ctx, "ledger write abandoned after retries",
				slog.String("kind", kind),
				slog.String("key", key.String()),
				slog.Int("attempts", attempt+1),
			)
			return domain.Position{}, fmt.Errorf("ledger: %s %s: %w", kind, key, domain.ErrLedgerConflict)
		}
		s.metrics.LedgerRetry()
		if err := sleepCtx(ctx, backoff); err != nil {
			return domain.Position{}, fmt.Errorf("ledger: %s %s: %w", kind, key, err)
		}
		backoff *= 2
	}
}

// acquire takes the distributed lock for key, retrying while it is held by
// another process for up to LockTTL.
func (s *LedgerService) acquire(ctx context.Context, key domain.PositionKey) (func(), error) {
	lockKey := "ledger:" + key.String()
	deadline := s.now().Add(s.cfg.LockTTL)
	for {
		release, err := s.locks.Acquire(ctx, lockKey, s.cfg.LockTTL)
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("ledger: lock %s: %w", key, err)
		}
		if s.now().After(deadline) {
			return nil, fmt.Errorf("ledger: lock %s: %w", key, domain.ErrLedgerConflict)
		}
		if err := sleepCtx(ctx, lockRetryInterval); err != nil {
			return nil, fmt.Errorf("ledger: lock %s: %w", key, err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func positionKey(user, asset, provider string) domain.PositionKey {
	return domain.PositionKey{
		UserAddress: user,
		Asset:       strings.ToUpper(asset),
		ProviderID:  provider,
	}
}

// ApplyDeposit records a confirmed deposit. The first deposit for a key
// creates the position; later ones add to it and reactivate it if closed.
func (s *LedgerService) ApplyDeposit(ctx context.Context, user, asset, provider string, amountUSD float64, sharesReceived decimal.Decimal) (domain.Position, error) {
	if amountUSD <= 0 || sharesReceived.IsNegative() {
		return domain.Position{}, fmt.Errorf("ledger: deposit %v: %w", amountUSD, domain.ErrInvalidAmount)
	}

	key := positionKey(user, asset, provider)
	p, err := s.mutate(ctx, "deposit", key, func(p *domain.Position, exists bool, now time.Time) error {
		if !exists {
			p.FirstDepositAt = now
		}
		p.TotalDepositedUSD += amountUSD
		p.OpenCostUSD += amountUSD
		p.Shares = p.Shares.Add(sharesReceived)
		p.TotalSharesReceived = p.TotalSharesReceived.Add(sharesReceived)
		p.CurrentValueUSD += amountUSD
		p.Active = true
		p.DepositCount++
		p.LastActivityAt = now
		p.Revalue()
		return nil
	})
	s.metrics.LedgerMutation("deposit", err)
	if err != nil {
		return domain.Position{}, err
	}

	s.logAudit(ctx, "ledger.deposit", p, map[string]any{
		"amount_usd": amountUSD,
		"shares":     sharesReceived.String(),
	})
	return p, nil
}

// ApplyWithdraw records a confirmed withdrawal. Realized PnL follows the
// configured cost-basis method.
func (s *LedgerService) ApplyWithdraw(ctx context.Context, user, asset, provider string, amountUSD float64, sharesBurned decimal.Decimal) (domain.Position, error) {
	if amountUSD <= 0 || sharesBurned.IsNegative() {
		return domain.Position{}, fmt.Errorf("ledger: withdraw %v: %w", amountUSD, domain.ErrInvalidAmount)
	}

	key := positionKey(user, asset, provider)
	p, err := s.mutate(ctx, "withdraw", key, func(p *domain.Position, exists bool, now time.Time) error {
		if !exists {
			return &domain.InsufficientBalanceError{Available: 0, Requested: amountUSD}
		}
		if p.Shares.LessThan(sharesBurned) {
			return &domain.InsufficientBalanceError{Available: p.CurrentValueUSD, Requested: amountUSD}
		}

		sharesBefore := p.Shares
		p.TotalWithdrawnUSD += amountUSD
		p.Shares = p.Shares.Sub(sharesBurned)
		p.TotalSharesBurned = p.TotalSharesBurned.Add(sharesBurned)

		switch s.cfg.CostBasis {
		case domain.Proportional:
			flows := p.TotalDepositedUSD + p.TotalWithdrawnUSD
			portion := 0.0
			if flows > 0 {
				portion = p.TotalWithdrawnUSD / flows
			}
			p.RealizedPnLUSD = p.TotalWithdrawnUSD - p.TotalDepositedUSD*portion
		default:
			cost := 0.0
			if sharesBefore.IsPositive() {
				cost = p.OpenCostUSD * sharesBurned.Div(sharesBefore).InexactFloat64()
			}
			p.RealizedPnLUSD += amountUSD - cost
			p.OpenCostUSD -= cost
		}
		if math.Abs(p.RealizedPnLUSD) < domain.AmountEpsilon {
			p.RealizedPnLUSD = 0
		}

		p.CurrentValueUSD = math.Max(0, p.CurrentValueUSD-amountUSD)
		if p.Shares.IsZero() {
			p.CurrentValueUSD = 0
			p.OpenCostUSD = 0
			p.Active = false
		}
		p.WithdrawCount++
		p.LastActivityAt = now
		p.Revalue()
		return nil
	})
	s.metrics.LedgerMutation("withdraw", err)
	if err != nil {
		return domain.Position{}, err
	}

	s.logAudit(ctx, "ledger.withdraw", p, map[string]any{
		"amount_usd":   amountUSD,
		"shares":       sharesBurned.String(),
		"realized_pnl": p.RealizedPnLUSD,
	})
	return p, nil
}

// UpdateValuation marks a position to market. It never touches shares or
// cost basis. A negative apy leaves the stored APY unchanged.
func (s *LedgerService) UpdateValuation(ctx context.Context, user, asset, provider string, currentValueUSD, apy float64) (domain.Position, error) {
	if currentValueUSD < 0 {
		return domain.Position{}, fmt.Errorf("ledger: valuation %v: %w", currentValueUSD, domain.ErrInvalidAmount)
	}

	key := positionKey(user, asset, provider)
	p, err := s.mutate(ctx, "valuation", key, func(p *domain.Position, exists bool, _ time.Time) error {
		if !exists {
			return fmt.Errorf("ledger: valuation %s: %w", key, domain.ErrNotFound)
		}
		p.CurrentValueUSD = currentValueUSD
		if apy >= 0 {
			p.CurrentAPY = apy
		}
		p.Revalue()
		return nil
	})
	s.metrics.LedgerMutation("valuation", err)
	if err != nil {
		return domain.Position{}, err
	}

	s.logAudit(ctx, "ledger.valuation", p, map[string]any{
		"current_value_usd": currentValueUSD,
		"apy":               p.CurrentAPY,
	})
	return p, nil
}

// Positions returns the user's positions, all assets when asset is empty.
func (s *LedgerService) Positions(ctx context.Context, user, asset string) ([]domain.Position, error) {
	ps, err := s.store.ListByUser(ctx, user, strings.ToUpper(asset))
	if err != nil {
		return nil, fmt.Errorf("ledger: positions %s: %w", user, err)
	}
	return ps, nil
}

// Position returns one position or domain.ErrNotFound.
func (s *LedgerService) Position(ctx context.Context, user, asset, provider string) (domain.Position, error) {
	key := positionKey(user, asset, provider)
	p, err := s.store.Get(ctx, key)
	if err != nil {
		return domain.Position{}, fmt.Errorf("ledger: position %s: %w", key, err)
	}
	return p, nil
}

func (s *LedgerService) logAudit(ctx context.Context, event string, p domain.Position, detail map[string]any) {
	detail["user"] = p.UserAddress
	detail["asset"] = p.Asset
	detail["provider"] = p.ProviderID
	detail["version"] = p.Version

	s.logger.InfoContext(ctx, "position updated",
		slog.String("event", event),
		slog.String("key", p.PositionKey.String()),
		slog.Float64("cost_basis_usd", p.CostBasisUSD),
		slog.Float64("current_value_usd", p.CurrentValueUSD),
		slog.Bool("active", p.Active),
	)
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
