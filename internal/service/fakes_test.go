package service

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
	"github.com/alanyoungcy/yieldrouter/internal/platform"
	"github.com/alanyoungcy/yieldrouter/internal/quotecache"
	"github.com/alanyoungcy/yieldrouter/internal/store/memory"
)

var discard = slog.New(slog.DiscardHandler)

// fakeProvider is a scripted domain.YieldProvider.
type fakeProvider struct {
	id         string
	kind       domain.ProviderKind
	apy        map[string]float64 // asset -> APY; missing means no market
	strategyID string
	minDeposit float64
	maxDeposit float64
	quoteErr   error

	estTime    float64
	feeRate    float64
	liqMult    float64
	estimateIn time.Duration

	quoteCalls    atomic.Int32
	estimateCalls atomic.Int32
}

func (f *fakeProvider) ID() string                 { return f.id }
func (f *fakeProvider) Kind() domain.ProviderKind { return f.kind }

func (f *fakeProvider) Quote(_ context.Context, asset string) (*domain.Quote, error) {
	f.quoteCalls.Add(1)
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	apy, ok := f.apy[strings.ToUpper(asset)]
	if !ok {
		return nil, nil
	}
	return &domain.Quote{
		Provider:   f.id,
		Asset:      strings.ToUpper(asset),
		StrategyID: f.strategyID,
		APY:        apy,
		MinDeposit: f.minDeposit,
		MaxDeposit: f.maxDeposit,
	}, nil
}

func (f *fakeProvider) EstimateWithdraw(ctx context.Context, _ string, amount float64) (domain.WithdrawEstimate, error) {
	f.estimateCalls.Add(1)
	if f.estimateIn > 0 {
		select {
		case <-time.After(f.estimateIn):
		case <-ctx.Done():
			return domain.WithdrawEstimate{}, ctx.Err()
		}
	}
	return domain.WithdrawEstimate{
		EstimatedTimeSeconds: f.estTime,
		FeesUSD:              amount * f.feeRate,
		LiquidityUSD:         amount * f.liqMult,
	}, nil
}

func (f *fakeProvider) instruction(action, target string, amount float64) domain.InstructionPayload {
	return domain.InstructionPayload{
		Provider:  f.id,
		Program:   "prog-" + f.id,
		Action:    action,
		Asset:     target,
		AmountUSD: amount,
		Encoding:  "base64-json",
		Data:      "e30=",
	}
}

func (f *fakeProvider) BuildDepositInstruction(_ context.Context, target string, amount float64, _ string) (domain.InstructionPayload, error) {
	return f.instruction("deposit", target, amount), nil
}

func (f *fakeProvider) BuildWithdrawInstruction(_ context.Context, target string, amount float64, _ string) (domain.InstructionPayload, error) {
	return f.instruction("withdraw", target, amount), nil
}

func (f *fakeProvider) HealthCheck(context.Context) domain.HealthStatus {
	return domain.HealthStatus{Provider: f.id, Status: domain.HealthHealthy}
}

func lending(id string, apy float64) *fakeProvider {
	return &fakeProvider{
		id: id, kind: domain.ProviderKindLending,
		apy:     map[string]float64{"USDC": apy},
		estTime: 30, feeRate: 0.002, liqMult: 20,
	}
}

func vault(id string, apy float64) *fakeProvider {
	return &fakeProvider{
		id: id, kind: domain.ProviderKindVault,
		apy:        map[string]float64{"USDC": apy},
		strategyID: id + "-usdc",
		estTime:    30, feeRate: 0.001, liqMult: 10,
	}
}

type harness struct {
	cache      *quotecache.Cache
	providers  *platform.Registry
	positions  *memory.PositionStore
	txs        *memory.TransactionStore
	audit      *memory.AuditStore
	allocation *AllocationService
	ledger     *LedgerService
	planner    *PlannerService
	recorder   *Recorder
	router     *Router
}

type harnessOpts struct {
	ledger  LedgerConfig
	planner PlannerConfig
}

func newHarness(t *testing.T, opts harnessOpts, providers ...domain.YieldProvider) *harness {
	t.Helper()

	cache, err := quotecache.New(quotecache.Config{FetchTimeout: 2 * time.Second}, memory.NewSharedStore(), nil, discard)
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	reg, err := platform.NewRegistry(nil, providers...)
	require.NoError(t, err)

	if opts.ledger.MaxRetries == 0 {
		opts.ledger.MaxRetries = 5
	}

	h := &harness{
		cache:     cache,
		providers: reg,
		positions: memory.NewPositionStore(),
		txs:       memory.NewTransactionStore(),
		audit:     memory.NewAuditStore(),
	}
	h.allocation = NewAllocationService(reg, cache, discard)
	h.ledger = NewLedgerService(opts.ledger, h.positions, nil, h.audit, nil, discard)
	h.planner = NewPlannerService(opts.planner, h.ledger, reg, cache, nil, discard)
	h.recorder = NewRecorder(h.txs, discard)
	h.router = NewRouter(h.allocation, h.ledger, h.planner, h.recorder, reg, cache, discard)
	return h
}
