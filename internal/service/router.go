package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
	"github.com/alanyoungcy/yieldrouter/internal/quotecache"
)

// TransactionLog is the recorder surface the router needs.
type TransactionLog interface {
	domain.TransactionRecorder
	UpdateStatus(ctx context.Context, id string, status domain.TransactionStatus) error
	History(ctx context.Context, user string, opts domain.ListOpts) ([]domain.TransactionRecord, error)
}

const (
	defaultDepositFeeRate  = 0.001
	depositTimeSeconds     = 30
	healthCheckTimeout     = 5 * time.Second
)

// Router exposes the public operations. It composes the optimizer, ledger,
// planner and recorder, and records a pending transaction for every plan it
// returns.
type Router struct {
	allocation *AllocationService
	ledger     *LedgerService
	planner    *PlannerService
	recorder   TransactionLog
	providers  ProviderSource
	cache      *quotecache.Cache
	events     *eventDedup
	logger     *slog.Logger
}

// NewRouter creates a Router.
func NewRouter(
	allocation *AllocationService,
	ledger *LedgerService,
	planner *PlannerService,
	recorder TransactionLog,
	providers ProviderSource,
	cache *quotecache.Cache,
	logger *slog.Logger,
) *Router {
	return &Router{
		allocation: allocation,
		ledger:     ledger,
		planner:    planner,
		recorder:   recorder,
		providers:  providers,
		cache:      cache,
		events:     newEventDedup(eventDedupTTL),
		logger:     logger.With(slog.String("component", "router")),
	}
}

func requireUser(user string) error {
	if strings.TrimSpace(user) == "" {
		return fmt.Errorf("user address required: %w", domain.ErrInvalidRequest)
	}
	return nil
}

// GetAllocation returns the deposit allocation for amount of asset.
func (r *Router) GetAllocation(ctx context.Context, amount float64, asset string, profile domain.RiskProfile) (domain.AllocationStrategy, error) {
	return r.allocation.Optimize(ctx, amount, asset, profile)
}

// Quotes returns the current positive quotes for asset.
func (r *Router) Quotes(ctx context.Context, asset string) []domain.Quote {
	return r.allocation.Quotes(ctx, asset)
}

// CreateDepositPlan allocates amount, builds the unsigned instruction for the
// chosen provider and records a pending deposit.
func (r *Router) CreateDepositPlan(ctx context.Context, user, asset string, amount float64, profile domain.RiskProfile) (domain.DepositPlan, error) {
	if err := requireUser(user); err != nil {
		return domain.DepositPlan{}, fmt.Errorf("router: deposit plan: %w", err)
	}
	asset = strings.ToUpper(asset)

	alloc, err := r.allocation.Optimize(ctx, amount, asset, profile)
	if err != nil {
		return domain.DepositPlan{}, fmt.Errorf("router: deposit plan: %w", err)
	}
	leg := alloc.Legs[0]

	p, err := r.providers.Get(leg.Provider)
	if err != nil {
		return domain.DepositPlan{}, fmt.Errorf("router: deposit plan: %w: %w", domain.ErrProviderUnavailable, err)
	}
	q, err := r.allocation.Quote(ctx, p, asset)
	if err != nil {
		return domain.DepositPlan{}, fmt.Errorf("router: deposit plan: %w", err)
	}
	if q == nil {
		return domain.DepositPlan{}, fmt.Errorf("router: deposit plan %s: %w", p.ID(), domain.ErrNoOpportunity)
	}
	if q.MinDeposit > 0 && amount < q.MinDeposit {
		return domain.DepositPlan{}, fmt.Errorf("router: deposit %v below minimum %v: %w", amount, q.MinDeposit, domain.ErrInvalidAmount)
	}
	if q.MaxDeposit > 0 && amount > q.MaxDeposit {
		return domain.DepositPlan{}, fmt.Errorf("router: deposit %v above maximum %v: %w", amount, q.MaxDeposit, domain.ErrInvalidAmount)
	}

	preview := depositPreview(amount, p.ID(), leg.ExpectedAPY, q.DepositFeeRate)

	target := asset
	if p.Kind() == domain.ProviderKindVault && q.StrategyID != "" {
		target = q.StrategyID
	}
	ix, err := p.BuildDepositInstruction(ctx, target, amount, user)
	if err != nil {
		return domain.DepositPlan{}, fmt.Errorf("router: build deposit instruction: %w", providerErr(p.ID(), err))
	}

	txID, err := r.recorder.RecordTransaction(ctx, domain.TransactionRequest{
		UserAddress: user,
		Type:        domain.TxDeposit,
		Asset:       asset,
		AmountUSD:   amount,
		Provider:    p.ID(),
		FeesUSD:     preview.EstimatedFeesUSD,
		Status:      domain.TxPending,
		Metadata: map[string]any{
			"riskProfile": string(profile),
			"expectedApy": leg.ExpectedAPY,
			"strategyId":  q.StrategyID,
		},
	})
	if err != nil {
		return domain.DepositPlan{}, fmt.Errorf("router: record deposit: %w", err)
	}

	return domain.DepositPlan{
		TransactionID: txID,
		Allocation:    alloc,
		Preview:       preview,
		Instruction:   ix,
	}, nil
}

func depositPreview(amount float64, provider string, apy, feeRate float64) domain.DepositPreview {
	if feeRate <= 0 {
		feeRate = defaultDepositFeeRate
	}
	fees := amount * feeRate
	received := amount - fees
	return domain.DepositPreview{
		Amount:                  amount,
		Provider:                provider,
		EstimatedFeesUSD:        fees,
		EstimatedReceived:       received,
		EstimatedTimeSeconds:    depositTimeSeconds,
		ExpectedAPY:             apy,
		ProjectedAnnualYieldUSD: received * apy / 100,
	}
}

// providerErr marks adapter failures as ErrProviderUnavailable unless they
// already carry a caller-facing cause.
func providerErr(id string, err error) error {
	if errors.Is(err, domain.ErrInvalidAmount) || errors.Is(err, domain.ErrProviderUnavailable) {
		return fmt.Errorf("%s: %w", id, err)
	}
	return fmt.Errorf("%s: %w: %w", id, domain.ErrProviderUnavailable, err)
}

// CreateWithdrawPlan plans the withdrawal, builds one instruction per leg and
// records a pending withdraw against the optimal leg's provider.
func (r *Router) CreateWithdrawPlan(ctx context.Context, user, asset string, amount float64) (domain.WithdrawPlan, error) {
	if err := requireUser(user); err != nil {
		return domain.WithdrawPlan{}, fmt.Errorf("router: withdraw plan: %w", err)
	}
	asset = strings.ToUpper(asset)

	preview, err := r.planner.Preview(ctx, user, asset, amount)
	if err != nil {
		return domain.WithdrawPlan{}, fmt.Errorf("router: withdraw plan: %w", err)
	}

	instructions := make([]domain.InstructionPayload, len(preview.Legs))
	g, gctx := errgroup.WithContext(ctx)
	for i, leg := range preview.Legs {
		g.Go(func() error {
			p, err := r.providers.Get(leg.Provider)
			if err != nil {
				return fmt.Errorf("router: withdraw plan: %w: %w", domain.ErrProviderUnavailable, err)
			}
			// Positions are kept per asset, so vault providers resolve the
			// asset to their highest-APY strategy, the same one deposits use.
			ix, err := p.BuildWithdrawInstruction(gctx, asset, leg.Amount, user)
			if err != nil {
				return fmt.Errorf("router: build withdraw instruction: %w", providerErr(p.ID(), err))
			}
			instructions[i] = ix
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.WithdrawPlan{}, err
	}

	provider := ""
	if preview.OptimalLeg != nil {
		provider = preview.OptimalLeg.Provider
	}
	txID, err := r.recorder.RecordTransaction(ctx, domain.TransactionRequest{
		UserAddress: user,
		Type:        domain.TxWithdraw,
		Asset:       asset,
		AmountUSD:   amount,
		Provider:    provider,
		FeesUSD:     preview.Fees.Total,
		Status:      domain.TxPending,
		Metadata: map[string]any{
			"legs":              preview.Legs,
			"estimatedReceived": preview.EstimatedReceived,
		},
	})
	if err != nil {
		return domain.WithdrawPlan{}, fmt.Errorf("router: record withdraw: %w", err)
	}

	return domain.WithdrawPlan{
		TransactionID: txID,
		Preview:       preview,
		Instructions:  instructions,
	}, nil
}

// GetWithdrawPreview plans a withdrawal without recording anything.
func (r *Router) GetWithdrawPreview(ctx context.Context, user, asset string, amount float64) (domain.WithdrawPreview, error) {
	if err := requireUser(user); err != nil {
		return domain.WithdrawPreview{}, fmt.Errorf("router: withdraw preview: %w", err)
	}
	return r.planner.Preview(ctx, user, asset, amount)
}

// OptimizeWithdrawPath filters the base preview by prefs.
func (r *Router) OptimizeWithdrawPath(ctx context.Context, user, asset string, amount float64, prefs domain.WithdrawPreferences) (domain.WithdrawPreview, error) {
	preview, err := r.GetWithdrawPreview(ctx, user, asset, amount)
	if err != nil {
		return domain.WithdrawPreview{}, err
	}
	return r.planner.Optimize(preview, prefs)
}

// GetPosition returns the user's positions straight from the ledger. Balances
// are never served from the quote cache, so a read always reflects every
// committed ledger mutation.
func (r *Router) GetPosition(ctx context.Context, user, asset string) ([]domain.Position, error) {
	if err := requireUser(user); err != nil {
		return nil, fmt.Errorf("router: positions: %w", err)
	}
	positions, err := r.ledger.Positions(ctx, user, asset)
	if err != nil {
		return nil, fmt.Errorf("router: positions %s: %w", user, err)
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	return positions, nil
}

// eventDedupTTL bounds how long an applied event ID is remembered.
const eventDedupTTL = 24 * time.Hour

// ApplyLedgerEvent applies a confirmed deposit or withdraw. When the event
// names a recorded transaction that record is marked confirmed.
func (r *Router) ApplyLedgerEvent(ctx context.Context, ev domain.LedgerEvent) (domain.Position, error) {
	if err := requireUser(ev.UserAddress); err != nil {
		return domain.Position{}, fmt.Errorf("router: ledger event: %w", err)
	}
	if ev.ProviderID == "" || ev.Asset == "" {
		return domain.Position{}, fmt.Errorf("router: ledger event: asset and provider required: %w", domain.ErrInvalidRequest)
	}
	shares, err := decimal.NewFromString(ev.Shares)
	if err != nil {
		return domain.Position{}, fmt.Errorf("router: ledger event shares %q: %w", ev.Shares, domain.ErrInvalidAmount)
	}

	if ev.Type != domain.LedgerEventDeposit && ev.Type != domain.LedgerEventWithdraw {
		return domain.Position{}, fmt.Errorf("router: ledger event type %q: %w", ev.Type, domain.ErrInvalidRequest)
	}
	if ev.EventID != "" && !r.events.reserve(ev.EventID) {
		return domain.Position{}, fmt.Errorf("router: ledger event %s: %w", ev.EventID, domain.ErrAlreadyExists)
	}

	var p domain.Position
	if ev.Type == domain.LedgerEventDeposit {
		p, err = r.ledger.ApplyDeposit(ctx, ev.UserAddress, ev.Asset, ev.ProviderID, ev.AmountUSD, shares)
	} else {
		p, err = r.ledger.ApplyWithdraw(ctx, ev.UserAddress, ev.Asset, ev.ProviderID, ev.AmountUSD, shares)
	}
	if err != nil {
		if ev.EventID != "" {
			r.events.release(ev.EventID)
		}
		return domain.Position{}, err
	}

	if ev.TransactionID != "" {
		if err := r.recorder.UpdateStatus(ctx, ev.TransactionID, domain.TxConfirmed); err != nil {
			r.logger.WarnContext(ctx, "confirm transaction failed",
				slog.String("transaction_id", ev.TransactionID),
				slog.String("error", err.Error()),
			)
		}
	}
	return p, nil
}

// UpdateValuation marks one position to market.
func (r *Router) UpdateValuation(ctx context.Context, user, asset, provider string, currentValueUSD, apy float64) (domain.Position, error) {
	p, err := r.ledger.UpdateValuation(ctx, user, asset, provider, currentValueUSD, apy)
	if err != nil {
		return domain.Position{}, err
	}
	return p, nil
}

// TransactionHistory returns the user's recorded transactions.
func (r *Router) TransactionHistory(ctx context.Context, user string, opts domain.ListOpts) ([]domain.TransactionRecord, error) {
	if err := requireUser(user); err != nil {
		return nil, fmt.Errorf("router: history: %w", err)
	}
	return r.recorder.History(ctx, user, opts)
}

// ProviderHealth checks every provider concurrently. Results are cached
// briefly.
func (r *Router) ProviderHealth(ctx context.Context) ([]domain.HealthStatus, error) {
	statuses, err := quotecache.Fetch(ctx, r.cache, quotecache.KeyProviderHealth, quotecache.TTLProviderHealth, r.checkProviders)
	if err != nil {
		return nil, fmt.Errorf("router: provider health: %w", err)
	}
	return statuses, nil
}

func (r *Router) checkProviders(ctx context.Context) ([]domain.HealthStatus, error) {
	providers := r.providers.All()
	out := make([]domain.HealthStatus, len(providers))

	var g errgroup.Group
	for i, p := range providers {
		g.Go(func() error {
			hctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			defer cancel()
			out[i] = p.HealthCheck(hctx)
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// InvalidateCache removes prefix's keys when prefix is set, otherwise key.
// It returns the number of keys removed.
func (r *Router) InvalidateCache(ctx context.Context, key, prefix string) (int, error) {
	switch {
	case prefix != "":
		return r.cache.ClearPrefix(ctx, prefix)
	case key != "":
		if err := r.cache.Delete(ctx, key); err != nil {
			return 0, err
		}
		return 1, nil
	default:
		return 0, fmt.Errorf("router: invalidate: key or prefix required: %w", domain.ErrInvalidRequest)
	}
}
