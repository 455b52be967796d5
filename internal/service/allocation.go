package service

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
	"github.com/alanyoungcy/yieldrouter/internal/quotecache"
)

// ProviderSource is the set of configured yield providers.
type ProviderSource interface {
	All() []domain.YieldProvider
	Get(id string) (domain.YieldProvider, error)
}

// Allocation rule thresholds, in APY percentage points.
const (
	conservativeMinEdge = 2.0
	moderateMinEdge     = 1.0
)

// AllocationService reads provider quotes through the quote cache and picks
// the deposit target for a risk profile.
type AllocationService struct {
	providers ProviderSource
	cache     *quotecache.Cache
	logger    *slog.Logger

	optimize func(context.Context, allocationRequest) (domain.AllocationStrategy, error)
}

type allocationRequest struct {
	Amount  float64
	Asset   string
	Profile domain.RiskProfile
}

// NewAllocationService creates an AllocationService.
func NewAllocationService(providers ProviderSource, cache *quotecache.Cache, logger *slog.Logger) *AllocationService {
	s := &AllocationService{
		providers: providers,
		cache:     cache,
		logger:    logger.With(slog.String("component", "allocation")),
	}
	s.optimize = quotecache.Wrap(cache, quotecache.TTLOptimization, optimizationKey, s.compute)
	return s
}

func optimizationKey(r allocationRequest) string {
	return quotecache.CompositeKey(quotecache.KeyOptimization,
		r.Asset, strconv.FormatFloat(r.Amount, 'f', -1, 64), string(r.Profile))
}

// QuoteKey is the cache key of provider p's quote for asset.
func QuoteKey(p domain.YieldProvider, asset string) string {
	return quotecache.CompositeKey(quotecache.AssetKey(rateKeyBase(p.Kind()), asset), p.ID())
}

func rateKeyBase(kind domain.ProviderKind) string {
	if kind == domain.ProviderKindVault {
		return quotecache.KeyVaultMarkets
	}
	return quotecache.KeyLendingRates
}

func quoteTTL(kind domain.ProviderKind) time.Duration {
	if kind == domain.ProviderKindVault {
		return quotecache.TTLVaultMarkets
	}
	return quotecache.TTLLendingRates
}

// Quote returns p's cached quote for asset. A nil quote means p has no market.
func (s *AllocationService) Quote(ctx context.Context, p domain.YieldProvider, asset string) (*domain.Quote, error) {
	asset = strings.ToUpper(asset)
	return quotecache.Fetch(ctx, s.cache, QuoteKey(p, asset), quoteTTL(p.Kind()), func(ctx context.Context) (*domain.Quote, error) {
		return p.Quote(ctx, asset)
	})
}

// WarmOps returns one warm-up op per provider and asset.
func (s *AllocationService) WarmOps(assets []string) []quotecache.WarmOp {
	var ops []quotecache.WarmOp
	for _, p := range s.providers.All() {
		for _, asset := range assets {
			asset := strings.ToUpper(asset)
			ops = append(ops, quotecache.WarmOp{
				Key: QuoteKey(p, asset),
				TTL: quoteTTL(p.Kind()),
				Fetch: func(ctx context.Context) ([]byte, error) {
					q, err := p.Quote(ctx, asset)
					if err != nil {
						return nil, err
					}
					return json.Marshal(q)
				},
			})
		}
	}
	return ops
}

type kindedQuote struct {
	domain.Quote
	kind domain.ProviderKind
}

// Quotes returns every positive quote for asset. Providers that fail are
// logged and skipped.
func (s *AllocationService) Quotes(ctx context.Context, asset string) []domain.Quote {
	kq := s.quotes(ctx, asset)
	out := make([]domain.Quote, 0, len(kq))
	for _, q := range kq {
		out = append(out, q.Quote)
	}
	return out
}

func (s *AllocationService) quotes(ctx context.Context, asset string) []kindedQuote {
	var out []kindedQuote
	for _, p := range s.providers.All() {
		q, err := s.Quote(ctx, p, asset)
		if err != nil {
			s.logger.WarnContext(ctx, "provider quote failed, skipping",
				slog.String("provider", p.ID()),
				slog.String("asset", asset),
				slog.String("error", err.Error()),
			)
			continue
		}
		if q == nil || q.APY <= 0 {
			continue
		}
		out = append(out, kindedQuote{Quote: *q, kind: p.Kind()})
	}
	return out
}

// Optimize returns the allocation for amount of asset under profile. Results
// are cached briefly per (asset, amount, profile).
func (s *AllocationService) Optimize(ctx context.Context, amount float64, asset string, profile domain.RiskProfile) (domain.AllocationStrategy, error) {
	if amount <= 0 {
		return domain.AllocationStrategy{}, fmt.Errorf("allocation: amount %v: %w", amount, domain.ErrInvalidAmount)
	}
	if _, err := domain.ParseRiskProfile(string(profile)); err != nil {
		return domain.AllocationStrategy{}, fmt.Errorf("allocation: profile %q: %w", profile, err)
	}

	req := allocationRequest{Amount: amount, Asset: strings.ToUpper(asset), Profile: profile}
	strategy, err := s.optimize(ctx, req)
	if err != nil {
		if errors.Is(err, domain.ErrNoOpportunity) {
			return domain.AllocationStrategy{}, fmt.Errorf("allocation: %s: %w", req.Asset, domain.ErrNoOpportunity)
		}
		return domain.AllocationStrategy{}, fmt.Errorf("allocation: %s: %w", req.Asset, err)
	}
	return strategy, nil
}

func (s *AllocationService) compute(ctx context.Context, r allocationRequest) (domain.AllocationStrategy, error) {
	chosen, err := choose(s.quotes(ctx, r.Asset), r.Profile)
	if err != nil {
		return domain.AllocationStrategy{}, err
	}

	s.logger.InfoContext(ctx, "allocation computed",
		slog.String("asset", r.Asset),
		slog.Float64("amount", r.Amount),
		slog.String("profile", string(r.Profile)),
		slog.String("provider", chosen.Provider),
		slog.Float64("apy", chosen.APY),
	)
	return domain.AllocationStrategy{
		TotalAmount: r.Amount,
		Asset:       r.Asset,
		RiskProfile: r.Profile,
		Legs: []domain.AllocationLeg{{
			Provider:    chosen.Provider,
			Percentage:  100,
			Amount:      r.Amount,
			ExpectedAPY: chosen.APY,
		}},
		ExpectedAPY: chosen.APY,
		RiskScore:   r.Profile.RiskScore(),
	}, nil
}

// choose applies the risk-profile rule. safe is the best quote of the
// lowest-risk kind present and best is the highest APY overall.
func choose(quotes []kindedQuote, profile domain.RiskProfile) (domain.Quote, error) {
	switch len(quotes) {
	case 0:
		return domain.Quote{}, domain.ErrNoOpportunity
	case 1:
		return quotes[0].Quote, nil
	}

	byAPY := slices.Clone(quotes)
	slices.SortFunc(byAPY, func(a, b kindedQuote) int {
		if c := cmp.Compare(b.APY, a.APY); c != 0 {
			return c
		}
		return cmp.Compare(a.Provider, b.Provider)
	})
	best := byAPY[0]

	safe := byAPY[0]
	for _, q := range byAPY[1:] {
		if q.kind.RiskRank() < safe.kind.RiskRank() {
			safe = q
		}
	}
	if safe.Provider == best.Provider {
		return best.Quote, nil
	}

	edge := best.APY - safe.APY
	switch profile {
	case domain.RiskAggressive:
		return best.Quote, nil
	case domain.RiskConservative:
		if edge > conservativeMinEdge {
			return best.Quote, nil
		}
		return safe.Quote, nil
	default:
		if edge < moderateMinEdge {
			return safe.Quote, nil
		}
		return best.Quote, nil
	}
}
