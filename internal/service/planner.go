package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
	"github.com/alanyoungcy/yieldrouter/internal/metrics"
	"github.com/alanyoungcy/yieldrouter/internal/quotecache"
)

// PositionReader lists a user's ledger positions.
type PositionReader interface {
	Positions(ctx context.Context, user, asset string) ([]domain.Position, error)
}

// PlannerConfig tunes the withdrawal planner.
type PlannerConfig struct {
	// Deadline bounds a whole Preview call.
	Deadline time.Duration
	// DefaultMaxSlippage applies when a request carries none. Zero disables
	// fee filtering.
	DefaultMaxSlippage float64
}

// Fee split of the aggregate estimate.
const (
	protocolFeeShare = 0.8
	networkFeeShare  = 0.1
	slippageFeeShare = 0.1
)

// PlannerService splits withdrawals across a user's positions.
type PlannerService struct {
	cfg       PlannerConfig
	positions PositionReader
	providers ProviderSource
	cache     *quotecache.Cache
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewPlannerService creates a PlannerService.
func NewPlannerService(
	cfg PlannerConfig,
	positions PositionReader,
	providers ProviderSource,
	cache *quotecache.Cache,
	m *metrics.Metrics,
	logger *slog.Logger,
) *PlannerService {
	if cfg.Deadline <= 0 {
		cfg.Deadline = 10 * time.Second
	}
	return &PlannerService{
		cfg:       cfg,
		positions: positions,
		providers: providers,
		cache:     cache,
		metrics:   m,
		logger:    logger.With(slog.String("component", "planner")),
	}
}

// Preview plans a withdrawal of amount. It fails rather than returning a plan
// that covers less than amount.
func (s *PlannerService) Preview(ctx context.Context, user, asset string, amount float64) (domain.WithdrawPreview, error) {
	if amount <= 0 {
		return domain.WithdrawPreview{}, fmt.Errorf("planner: amount %v: %w", amount, domain.ErrInvalidAmount)
	}

	start := time.Now()
	pctx, cancel := context.WithTimeout(ctx, s.cfg.Deadline)
	defer cancel()

	preview, err := s.preview(pctx, user, strings.ToUpper(asset), amount)
	if err != nil && ctx.Err() == nil && errors.Is(pctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("planner: preview %s after %s: %w", user, s.cfg.Deadline, domain.ErrPlanningDeadline)
	}
	s.metrics.ObservePlan(time.Since(start).Seconds(), err)
	if err != nil {
		return domain.WithdrawPreview{}, err
	}
	return preview, nil
}

func (s *PlannerService) preview(ctx context.Context, user, asset string, amount float64) (domain.WithdrawPreview, error) {
	all, err := s.positions.Positions(ctx, user, asset)
	if err != nil {
		return domain.WithdrawPreview{}, fmt.Errorf("planner: load positions: %w", err)
	}

	var (
		available []domain.Position
		total     float64
	)
	for _, p := range all {
		if p.CurrentValueUSD > 0 {
			available = append(available, p)
			total += p.CurrentValueUSD
		}
	}
	if amount > total+domain.AmountEpsilon {
		return domain.WithdrawPreview{}, &domain.InsufficientBalanceError{Available: total, Requested: amount}
	}

	slices.SortStableFunc(available, func(a, b domain.Position) int {
		if c := cmp.Compare(b.CurrentValueUSD, a.CurrentValueUSD); c != 0 {
			return c
		}
		return cmp.Compare(a.ProviderID, b.ProviderID)
	})

	var legs []domain.WithdrawLeg
	remaining := amount
	for _, p := range available {
		if remaining <= domain.AmountEpsilon {
			break
		}
		legAmount := math.Min(remaining, p.CurrentValueUSD)
		legs = append(legs, domain.WithdrawLeg{
			Provider:   p.ProviderID,
			Percentage: legAmount / amount * 100,
			Amount:     legAmount,
		})
		remaining -= legAmount
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range legs {
		g.Go(func() error {
			est, err := s.estimate(gctx, legs[i].Provider, asset, legs[i].Amount)
			if err != nil {
				return err
			}
			legs[i].EstimatedTimeSeconds = est.EstimatedTimeSeconds
			legs[i].FeesUSD = est.FeesUSD
			legs[i].LiquidityUSD = est.LiquidityUSD
			legs[i].PriorityScore = priorityScore(legs[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.WithdrawPreview{}, err
	}

	preview := domain.WithdrawPreview{
		UserAddress:     user,
		Asset:           asset,
		AvailableAmount: total,
		RequestedAmount: amount,
		Legs:            legs,
		OptimalLeg:      highestPriority(legs),
	}
	summarize(&preview, amount)

	s.logger.InfoContext(ctx, "withdraw preview planned",
		slog.String("user", user),
		slog.String("asset", asset),
		slog.Float64("amount", amount),
		slog.Int("legs", len(legs)),
		slog.Float64("fees_usd", preview.Fees.Total),
	)
	return preview, nil
}

func (s *PlannerService) estimate(ctx context.Context, providerID, asset string, amount float64) (domain.WithdrawEstimate, error) {
	p, err := s.providers.Get(providerID)
	if err != nil {
		return domain.WithdrawEstimate{}, fmt.Errorf("planner: estimate %s: %w: %w", providerID, domain.ErrProviderUnavailable, err)
	}
	key := quotecache.CompositeKey(quotecache.KeyFeesEstimate, providerID, asset, strconv.FormatFloat(amount, 'f', -1, 64))
	est, err := quotecache.Fetch(ctx, s.cache, key, quotecache.TTLFeesEstimate, func(ctx context.Context) (domain.WithdrawEstimate, error) {
		return p.EstimateWithdraw(ctx, asset, amount)
	})
	if err != nil {
		return domain.WithdrawEstimate{}, fmt.Errorf("planner: estimate %s: %w", providerID, err)
	}
	return est, nil
}

func priorityScore(l domain.WithdrawLeg) int {
	if l.Amount <= 0 {
		return 0
	}
	timeScore := math.Max(1, 10-l.EstimatedTimeSeconds/30)
	feeScore := math.Max(1, 10-(l.FeesUSD/l.Amount)*1000)
	liqScore := math.Min(10, l.LiquidityUSD/l.Amount)
	return int(math.Round((timeScore + feeScore + liqScore) / 3))
}

// highestPriority returns a copy of the first leg with the top score.
func highestPriority(legs []domain.WithdrawLeg) *domain.WithdrawLeg {
	if len(legs) == 0 {
		return nil
	}
	best := legs[0]
	for _, l := range legs[1:] {
		if l.PriorityScore > best.PriorityScore {
			best = l
		}
	}
	return &best
}

// summarize fills fees, received and time from the legs. received is taken
// against covered, the sum actually withdrawn.
func summarize(p *domain.WithdrawPreview, covered float64) {
	var fees, maxTime float64
	for _, l := range p.Legs {
		fees += l.FeesUSD
		maxTime = math.Max(maxTime, l.EstimatedTimeSeconds)
	}
	p.Fees = domain.FeeBreakdown{
		Protocol: fees * protocolFeeShare,
		Network:  fees * networkFeeShare,
		Slippage: fees * slippageFeeShare,
		Total:    fees,
	}
	p.EstimatedReceived = covered - fees
	p.EstimatedTimeSeconds = maxTime
}

// Optimize reorders a preview's legs by prefs.Priority and drops legs whose
// fee exceeds RequestedAmount × MaxSlippage. It does not re-plan: whatever
// the dropped legs covered is reported as ShortfallAmount. The first kept leg
// becomes the optimal leg.
func (s *PlannerService) Optimize(preview domain.WithdrawPreview, prefs domain.WithdrawPreferences) (domain.WithdrawPreview, error) {
	priority := prefs.Priority
	if priority == "" {
		priority = domain.PrioritySpeed
	}
	maxSlippage := prefs.MaxSlippage
	if maxSlippage <= 0 {
		maxSlippage = s.cfg.DefaultMaxSlippage
	}

	legs := slices.Clone(preview.Legs)
	slices.SortStableFunc(legs, func(a, b domain.WithdrawLeg) int {
		if priority == domain.PriorityFees {
			return cmp.Compare(a.FeesUSD, b.FeesUSD)
		}
		return cmp.Compare(a.EstimatedTimeSeconds, b.EstimatedTimeSeconds)
	})

	if maxSlippage > 0 {
		limit := preview.RequestedAmount * maxSlippage
		legs = slices.DeleteFunc(legs, func(l domain.WithdrawLeg) bool {
			return l.FeesUSD > limit
		})
	}
	if len(legs) == 0 {
		return domain.WithdrawPreview{}, fmt.Errorf("planner: optimize %s %s: %w", preview.UserAddress, preview.Asset, domain.ErrNoPathAvailable)
	}

	var covered float64
	for _, l := range legs {
		covered += l.Amount
	}

	out := preview
	out.Legs = legs
	first := legs[0]
	out.OptimalLeg = &first
	summarize(&out, covered)
	out.ShortfallAmount = preview.RequestedAmount - covered
	if out.ShortfallAmount < domain.AmountEpsilon {
		out.ShortfallAmount = 0
	}
	return out, nil
}
