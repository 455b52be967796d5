package kamino

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
	"github.com/alanyoungcy/yieldrouter/internal/quotecache"
)

// Program IDs of the Kamino on-chain programs.
const (
	VaultsProgramID = "Cyjb5r4P1j1YPEyUemWxMZKbTpBiyNQML1S1YpPvi9xE"
	LendProgramID   = "GzFgdRJXmawPhGeBsyRCDLx4jAKPsvbUqoqitzppkzkW"
)

// ProviderID is the identifier used in positions and allocations.
const ProviderID = "kamino"

const (
	withdrawTimeSeconds = 30
	withdrawFeeRate     = 0.001
	liquidityMultiple   = 10
)

// Provider implements domain.YieldProvider over a strategy catalog. When a
// cache is given the catalog is read through it.
type Provider struct {
	client *Client
	cache  *quotecache.Cache
	logger *slog.Logger
	now    func() time.Time
}

// NewProvider wraps client. cache may be nil.
func NewProvider(client *Client, cache *quotecache.Cache, logger *slog.Logger) *Provider {
	return &Provider{
		client: client,
		cache:  cache,
		logger: logger.With(slog.String("component", "kamino")),
		now:    time.Now,
	}
}

func (p *Provider) ID() string                { return ProviderID }
func (p *Provider) Kind() domain.ProviderKind { return domain.ProviderKindVault }

func (p *Provider) strategies(ctx context.Context) ([]Strategy, error) {
	if p.cache == nil {
		return p.client.Strategies(ctx)
	}
	return quotecache.Fetch(ctx, p.cache, quotecache.KeyVaultStrategies, quotecache.TTLVaultStrategies, p.client.Strategies)
}

// bestFor returns the highest-APY strategy for asset.
func bestFor(strategies []Strategy, asset string) (Strategy, bool) {
	var (
		best  Strategy
		found bool
	)
	for _, s := range strategies {
		if !strings.EqualFold(s.Asset, asset) {
			continue
		}
		if !found || s.APY > best.APY {
			best, found = s, true
		}
	}
	return best, found
}

// resolve accepts a strategy ID or an asset symbol.
func (p *Provider) resolve(ctx context.Context, strategyOrAsset string) (Strategy, error) {
	strategies, err := p.strategies(ctx)
	if err != nil {
		return Strategy{}, err
	}
	for _, s := range strategies {
		if s.ID == strategyOrAsset {
			return s, nil
		}
	}
	if s, ok := bestFor(strategies, strategyOrAsset); ok {
		return s, nil
	}
	return Strategy{}, fmt.Errorf("kamino: no strategy for %s: %w", strategyOrAsset, domain.ErrNotFound)
}

// Quote returns the best strategy for asset, or nil if there is none.
func (p *Provider) Quote(ctx context.Context, asset string) (*domain.Quote, error) {
	strategies, err := p.strategies(ctx)
	if err != nil {
		return nil, err
	}
	s, ok := bestFor(strategies, asset)
	if !ok {
		return nil, nil
	}
	return &domain.Quote{
		Provider:        ProviderID,
		Asset:           strings.ToUpper(asset),
		StrategyID:      s.ID,
		APY:             s.APY,
		TVL:             s.TVL,
		Available:       s.TVL,
		MinDeposit:      s.MinDeposit,
		MaxDeposit:      s.MaxDeposit,
		WithdrawFeeRate: withdrawFeeRate,
		RiskScore:       s.RiskScore,
		FetchedAt:       p.now().UTC(),
	}, nil
}

func (p *Provider) EstimateWithdraw(ctx context.Context, strategyOrAsset string, amount float64) (domain.WithdrawEstimate, error) {
	s, err := p.resolve(ctx, strategyOrAsset)
	if err != nil {
		return domain.WithdrawEstimate{}, fmt.Errorf("kamino: estimate withdraw: %w", err)
	}
	return domain.WithdrawEstimate{
		EstimatedTimeSeconds: withdrawTimeSeconds,
		FeesUSD:              amount * withdrawFeeRate,
		LiquidityUSD:         math.Min(s.TVL, liquidityMultiple*amount),
	}, nil
}

func (p *Provider) BuildDepositInstruction(ctx context.Context, strategyOrAsset string, amount float64, user string) (domain.InstructionPayload, error) {
	return p.buildInstruction(ctx, "deposit", strategyOrAsset, amount, user)
}

func (p *Provider) BuildWithdrawInstruction(ctx context.Context, strategyOrAsset string, amount float64, user string) (domain.InstructionPayload, error) {
	return p.buildInstruction(ctx, "withdraw", strategyOrAsset, amount, user)
}

func (p *Provider) buildInstruction(ctx context.Context, action, strategyOrAsset string, amount float64, user string) (domain.InstructionPayload, error) {
	if amount <= 0 {
		return domain.InstructionPayload{}, fmt.Errorf("kamino: %s instruction: %w", action, domain.ErrInvalidAmount)
	}
	s, err := p.resolve(ctx, strategyOrAsset)
	if err != nil {
		return domain.InstructionPayload{}, fmt.Errorf("kamino: %s instruction: %w", action, err)
	}

	data, err := domain.EncodeInstruction(domain.InstructionBody{
		Program:   VaultsProgramID,
		Action:    action,
		Asset:     s.Asset,
		AmountUSD: amount,
		User:      user,
		Accounts: map[string]string{
			"strategy": s.ID,
			"lend":     LendProgramID,
		},
		CreatedAt: p.now().UTC(),
	})
	if err != nil {
		return domain.InstructionPayload{}, fmt.Errorf("kamino: encode %s instruction: %w", action, err)
	}
	return domain.InstructionPayload{
		Provider:   ProviderID,
		Program:    VaultsProgramID,
		Action:     action,
		Asset:      s.Asset,
		StrategyID: s.ID,
		AmountUSD:  amount,
		Encoding:   "base64-json",
		Data:       data,
	}, nil
}

// HealthCheck lists strategies. A static catalog is always healthy.
func (p *Provider) HealthCheck(ctx context.Context) domain.HealthStatus {
	start := p.now()
	_, err := p.client.Strategies(ctx)
	hs := domain.HealthStatus{
		Provider:       ProviderID,
		Status:         domain.HealthHealthy,
		ResponseTimeMs: p.now().Sub(start).Milliseconds(),
	}
	if err != nil {
		hs.Status = domain.HealthUnhealthy
		hs.Error = err.Error()
		p.logger.WarnContext(ctx, "strategy source unhealthy", slog.String("error", err.Error()))
	}
	return hs
}

var _ domain.YieldProvider = (*Provider)(nil)
