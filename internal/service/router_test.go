package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
	"github.com/alanyoungcy/yieldrouter/internal/quotecache"
	"github.com/alanyoungcy/yieldrouter/internal/store/memory"
)

func TestRouter_CreateDepositPlan(t *testing.T) {
	h := newHarness(t, harnessOpts{}, lending("prov-a", 6), vault("prov-b", 9))
	ctx := context.Background()

	plan, err := h.router.CreateDepositPlan(ctx, "alice", "usdc", 1000, domain.RiskConservative)
	require.NoError(t, err)

	assert.Equal(t, "prov-b", plan.Allocation.Legs[0].Provider)
	assert.Equal(t, "deposit", plan.Instruction.Action)
	assert.Equal(t, "prov-b-usdc", plan.Instruction.Asset, "vault deposits target the strategy")

	assert.InDelta(t, 1, plan.Preview.EstimatedFeesUSD, 1e-9)
	assert.InDelta(t, 999, plan.Preview.EstimatedReceived, 1e-9)
	assert.InDelta(t, 89.91, plan.Preview.ProjectedAnnualYieldUSD, 1e-9)
	assert.Equal(t, 30.0, plan.Preview.EstimatedTimeSeconds)

	rec, err := h.recorder.Get(ctx, plan.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxPending, rec.Status)
	assert.Equal(t, domain.TxDeposit, rec.Type)
	assert.Equal(t, "prov-b", rec.Provider)
	assert.Equal(t, 1000.0, rec.AmountUSD)
}

func TestRouter_CreateDepositPlanLimits(t *testing.T) {
	a := lending("prov-a", 6)
	a.minDeposit = 10
	a.maxDeposit = 500
	h := newHarness(t, harnessOpts{}, a)
	ctx := context.Background()

	_, err := h.router.CreateDepositPlan(ctx, "alice", "USDC", 5, domain.RiskModerate)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = h.router.CreateDepositPlan(ctx, "alice", "USDC", 600, domain.RiskModerate)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = h.router.CreateDepositPlan(ctx, " ", "USDC", 50, domain.RiskModerate)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	recs, err := h.recorder.History(ctx, "alice", domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, recs, "failed plans record nothing")
}

func TestRouter_CreateWithdrawPlan(t *testing.T) {
	h := newHarness(t, harnessOpts{}, lending("prov-a", 5), vault("prov-b", 6))
	seedPositions(t, h, "bob", map[string]float64{"prov-a": 600, "prov-b": 500})
	ctx := context.Background()

	plan, err := h.router.CreateWithdrawPlan(ctx, "bob", "USDC", 800)
	require.NoError(t, err)

	require.Len(t, plan.Instructions, 2)
	assert.Equal(t, "prov-a", plan.Instructions[0].Provider)
	assert.Equal(t, 600.0, plan.Instructions[0].AmountUSD)
	assert.Equal(t, "prov-b", plan.Instructions[1].Provider)
	assert.Equal(t, "withdraw", plan.Instructions[1].Action)

	rec, err := h.recorder.Get(ctx, plan.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxWithdraw, rec.Type)
	assert.Equal(t, "prov-a", rec.Provider)
	assert.InDelta(t, plan.Preview.Fees.Total, rec.FeesUSD, 1e-9)

	_, err = h.router.CreateWithdrawPlan(ctx, "bob", "USDC", 5000)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestRouter_OptimizeWithdrawPath(t *testing.T) {
	a := lending("prov-a", 5)
	a.estTime = 120
	b := vault("prov-b", 6)
	b.estTime = 10
	h := newHarness(t, harnessOpts{}, a, b)
	seedPositions(t, h, "carol", map[string]float64{"prov-a": 600, "prov-b": 500})

	out, err := h.router.OptimizeWithdrawPath(context.Background(), "carol", "USDC", 800,
		domain.WithdrawPreferences{Priority: domain.PrioritySpeed})
	require.NoError(t, err)
	assert.Equal(t, "prov-b", out.Legs[0].Provider)
	assert.Equal(t, "prov-b", out.OptimalLeg.Provider)
}

func TestRouter_LedgerEventsConfirmAndInvalidate(t *testing.T) {
	h := newHarness(t, harnessOpts{}, lending("prov-a", 6))
	ctx := context.Background()

	plan, err := h.router.CreateDepositPlan(ctx, "dave", "USDC", 100, domain.RiskModerate)
	require.NoError(t, err)

	before, err := h.router.GetPosition(ctx, "dave", "")
	require.NoError(t, err)
	assert.Empty(t, before)

	p, err := h.router.ApplyLedgerEvent(ctx, domain.LedgerEvent{
		Type:          domain.LedgerEventDeposit,
		UserAddress:   "dave",
		Asset:         "usdc",
		ProviderID:    "prov-a",
		AmountUSD:     100,
		Shares:        "99.5",
		TransactionID: plan.TransactionID,
	})
	require.NoError(t, err)
	assert.Equal(t, "99.5", p.Shares.String())

	after, err := h.router.GetPosition(ctx, "dave", "")
	require.NoError(t, err)
	require.Len(t, after, 1, "reads come from the ledger")

	rec, err := h.recorder.Get(ctx, plan.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxConfirmed, rec.Status)

	v, err := h.router.UpdateValuation(ctx, "dave", "USDC", "prov-a", 104, 6.2)
	require.NoError(t, err)
	assert.InDelta(t, 4, v.UnrealizedPnLUSD, 1e-9)

	after, err = h.router.GetPosition(ctx, "dave", "USDC")
	require.NoError(t, err)
	assert.InDelta(t, 104, after[0].CurrentValueUSD, 1e-9)
}

func TestRouter_LedgerEventValidation(t *testing.T) {
	h := newHarness(t, harnessOpts{}, lending("prov-a", 6))
	ctx := context.Background()

	ev := domain.LedgerEvent{Type: "mint", UserAddress: "eve", Asset: "USDC", ProviderID: "prov-a", AmountUSD: 1, Shares: "1"}
	_, err := h.router.ApplyLedgerEvent(ctx, ev)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	ev.Type = domain.LedgerEventDeposit
	ev.Shares = "lots"
	_, err = h.router.ApplyLedgerEvent(ctx, ev)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	ev.Shares = "1"
	ev.ProviderID = ""
	_, err = h.router.ApplyLedgerEvent(ctx, ev)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

// gatedPositionStore parks the next ListByUser after it has read its
// snapshot, until release is closed.
type gatedPositionStore struct {
	*memory.PositionStore
	armed   atomic.Bool
	parked  chan struct{}
	release chan struct{}
}

func (s *gatedPositionStore) ListByUser(ctx context.Context, user, asset string) ([]domain.Position, error) {
	ps, err := s.PositionStore.ListByUser(ctx, user, asset)
	if s.armed.CompareAndSwap(true, false) {
		close(s.parked)
		<-s.release
	}
	return ps, err
}

func TestRouter_GetPositionSeesCommittedEvent(t *testing.T) {
	h := newHarness(t, harnessOpts{}, lending("prov-a", 6))
	store := &gatedPositionStore{
		PositionStore: memory.NewPositionStore(),
		parked:        make(chan struct{}),
		release:       make(chan struct{}),
	}
	ledger := NewLedgerService(LedgerConfig{MaxRetries: 5}, store, nil, nil, nil, discard)
	router := NewRouter(h.allocation, ledger, h.planner, h.recorder, h.providers, h.cache, discard)
	ctx := context.Background()

	deposit := func(amount float64) {
		_, err := router.ApplyLedgerEvent(ctx, domain.LedgerEvent{
			Type: domain.LedgerEventDeposit, UserAddress: "ivan", Asset: "USDC",
			ProviderID: "prov-a", AmountUSD: amount, Shares: "1",
		})
		require.NoError(t, err)
	}
	deposit(100)

	store.armed.Store(true)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = router.GetPosition(ctx, "ivan", "USDC")
	}()
	<-store.parked

	deposit(50)
	close(store.release)
	<-done

	pos, err := router.GetPosition(ctx, "ivan", "USDC")
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.InDelta(t, 150, pos[0].TotalDepositedUSD, 1e-9)
}

func TestRouter_LedgerEventRedelivery(t *testing.T) {
	h := newHarness(t, harnessOpts{}, lending("prov-a", 6))
	ctx := context.Background()

	dep := domain.LedgerEvent{
		EventID: "sig-1", Type: domain.LedgerEventDeposit, UserAddress: "frank",
		Asset: "USDC", ProviderID: "prov-a", AmountUSD: 100, Shares: "100",
	}
	_, err := h.router.ApplyLedgerEvent(ctx, dep)
	require.NoError(t, err)
	_, err = h.router.ApplyLedgerEvent(ctx, dep)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	pos, err := h.router.GetPosition(ctx, "frank", "USDC")
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.InDelta(t, 100, pos[0].CostBasisUSD, 1e-9, "duplicate not applied")

	wd := domain.LedgerEvent{
		EventID: "sig-2", Type: domain.LedgerEventWithdraw, UserAddress: "frank",
		Asset: "USDC", ProviderID: "prov-a", AmountUSD: 500, Shares: "500",
	}
	_, err = h.router.ApplyLedgerEvent(ctx, wd)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	wd.AmountUSD, wd.Shares = 40, "40"
	_, err = h.router.ApplyLedgerEvent(ctx, wd)
	require.NoError(t, err, "failed event ID was released")
}

func TestEventDedup_Expiry(t *testing.T) {
	d := newEventDedup(time.Minute)
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	assert.True(t, d.reserve("a"))
	assert.False(t, d.reserve("a"))

	now = now.Add(2 * time.Minute)
	assert.True(t, d.reserve("b"))
	assert.Equal(t, 1, d.size(), "expired entries swept")
	assert.True(t, d.reserve("a"))
}

func TestRouter_ProviderHealthAndInvalidate(t *testing.T) {
	a := lending("prov-a", 6)
	h := newHarness(t, harnessOpts{}, a, vault("prov-b", 4))
	ctx := context.Background()

	statuses, err := h.router.ProviderHealth(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	for _, s := range statuses {
		assert.Equal(t, domain.HealthHealthy, s.Status)
	}

	_, err = h.router.GetAllocation(ctx, 100, "USDC", domain.RiskModerate)
	require.NoError(t, err)
	require.Equal(t, int32(1), a.quoteCalls.Load())

	n, err := h.router.InvalidateCache(ctx, "", quotecache.KeyLendingRates)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = h.router.InvalidateCache(ctx, "", "")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	n, err = h.router.InvalidateCache(ctx, quotecache.KeyProviderHealth, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRouter_TransactionHistoryRequiresUser(t *testing.T) {
	h := newHarness(t, harnessOpts{}, lending("prov-a", 6))

	_, err := h.router.TransactionHistory(context.Background(), "", domain.ListOpts{})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}
