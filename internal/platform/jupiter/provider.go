package jupiter

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
)

// Program IDs of the Jupiter Lend on-chain programs.
const (
	LendingProgramID   = "jup3YeL8QhtSx1e253b2FDvsMNC87fDrgQZivbrndc9"
	LiquidityProgramID = "jupeiUmn818Jg1ekPURTpr4mFo29p46vygyykFJ3wZC"
)

// ProviderID is the identifier used in positions and allocations.
const ProviderID = "jupiter"

const (
	withdrawTimeSeconds = 30
	withdrawFeeRate     = 0.002
	liquidityMultiple   = 20
	minDeposit          = 0.000001
	slowResponse        = 2 * time.Second
)

// ProviderConfig tunes the adapter.
type ProviderConfig struct {
	// BuildViaAPI requests unsigned transactions from the earn API. When false
	// instructions are encoded locally.
	BuildViaAPI bool
}

// Provider implements domain.YieldProvider on top of Client.
type Provider struct {
	client *Client
	cfg    ProviderConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewProvider wraps client.
func NewProvider(client *Client, cfg ProviderConfig, logger *slog.Logger) *Provider {
	return &Provider{
		client: client,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "jupiter")),
		now:    time.Now,
	}
}

func (p *Provider) ID() string                { return ProviderID }
func (p *Provider) Kind() domain.ProviderKind { return domain.ProviderKindLending }

// Quote returns the highest-rate earn market for asset, or nil if there is
// none.
func (p *Provider) Quote(ctx context.Context, asset string) (*domain.Quote, error) {
	tokens, err := p.client.EarnTokens(ctx)
	if err != nil {
		return nil, err
	}

	asset = normalizeAsset(asset)
	var best *APIEarnToken
	for i := range tokens {
		t := &tokens[i]
		if t.AssetSymbol() != asset {
			continue
		}
		if best == nil || t.TotalRate > best.TotalRate {
			best = t
		}
	}
	if best == nil {
		return nil, nil
	}

	tvl := float64(best.TotalAssets)
	if d := best.Asset.Decimals; d > 0 {
		tvl /= math.Pow10(int(d))
	}
	return &domain.Quote{
		Provider:        ProviderID,
		Asset:           asset,
		StrategyID:      best.Address,
		APY:             best.APYPercent(),
		TVL:             tvl,
		Available:       tvl,
		MinDeposit:      minDeposit,
		WithdrawFeeRate: withdrawFeeRate,
		FetchedAt:       p.now().UTC(),
	}, nil
}

// EstimateWithdraw uses the fixed settlement time and fee rate of the lending
// pool, capping liquidity at a multiple of the requested amount.
func (p *Provider) EstimateWithdraw(ctx context.Context, asset string, amount float64) (domain.WithdrawEstimate, error) {
	q, err := p.Quote(ctx, asset)
	if err != nil {
		return domain.WithdrawEstimate{}, fmt.Errorf("jupiter: estimate withdraw %s: %w", asset, err)
	}
	if q == nil {
		return domain.WithdrawEstimate{}, fmt.Errorf("jupiter: estimate withdraw %s: %w", asset, domain.ErrNotFound)
	}
	return domain.WithdrawEstimate{
		EstimatedTimeSeconds: withdrawTimeSeconds,
		FeesUSD:              amount * withdrawFeeRate,
		LiquidityUSD:         math.Min(q.Available, liquidityMultiple*amount),
	}, nil
}

func (p *Provider) BuildDepositInstruction(ctx context.Context, asset string, amount float64, user string) (domain.InstructionPayload, error) {
	return p.buildInstruction(ctx, "deposit", asset, amount, user)
}

func (p *Provider) BuildWithdrawInstruction(ctx context.Context, asset string, amount float64, user string) (domain.InstructionPayload, error) {
	return p.buildInstruction(ctx, "withdraw", asset, amount, user)
}

func (p *Provider) buildInstruction(ctx context.Context, action, asset string, amount float64, user string) (domain.InstructionPayload, error) {
	asset = normalizeAsset(asset)
	mint, ok := mints[asset]
	if !ok {
		return domain.InstructionPayload{}, fmt.Errorf("jupiter: %s instruction for unsupported asset %s: %w", action, asset, domain.ErrNotFound)
	}
	if amount <= 0 {
		return domain.InstructionPayload{}, fmt.Errorf("jupiter: %s instruction: %w", action, domain.ErrInvalidAmount)
	}

	payload := domain.InstructionPayload{
		Provider:  ProviderID,
		Program:   LendingProgramID,
		Action:    action,
		Asset:     asset,
		AmountUSD: amount,
	}

	if p.cfg.BuildViaAPI {
		baseUnits := decimal.NewFromFloat(amount).Shift(mint.Decimals).Truncate(0).String()
		var (
			tx  string
			err error
		)
		if action == "deposit" {
			tx, err = p.client.Deposit(ctx, mint.Mint, baseUnits, user)
		} else {
			tx, err = p.client.Withdraw(ctx, mint.Mint, baseUnits, user)
		}
		if err != nil {
			return domain.InstructionPayload{}, err
		}
		if tx != "" {
			payload.Encoding = "base64-transaction"
			payload.Data = tx
			return payload, nil
		}
		p.logger.WarnContext(ctx, "earn api returned no transaction, encoding locally",
			slog.String("action", action),
			slog.String("asset", asset),
		)
	}

	data, err := domain.EncodeInstruction(domain.InstructionBody{
		Program:   LendingProgramID,
		Action:    action,
		Asset:     asset,
		AmountUSD: amount,
		User:      user,
		Accounts: map[string]string{
			"mint":      mint.Mint,
			"liquidity": LiquidityProgramID,
		},
		CreatedAt: p.now().UTC(),
	})
	if err != nil {
		return domain.InstructionPayload{}, fmt.Errorf("jupiter: encode %s instruction: %w", action, err)
	}
	payload.Encoding = "base64-json"
	payload.Data = data
	return payload, nil
}

// HealthCheck pings the earn API. Responses slower than two seconds are
// reported as degraded.
func (p *Provider) HealthCheck(ctx context.Context) domain.HealthStatus {
	start := p.now()
	err := p.client.Ping(ctx)
	elapsed := p.now().Sub(start)

	hs := domain.HealthStatus{
		Provider:       ProviderID,
		Status:         domain.HealthHealthy,
		ResponseTimeMs: elapsed.Milliseconds(),
	}
	switch {
	case err != nil:
		hs.Status = domain.HealthUnhealthy
		hs.Error = err.Error()
	case elapsed > slowResponse:
		hs.Status = domain.HealthDegraded
	}
	return hs
}

var _ domain.YieldProvider = (*Provider)(nil)
