package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
	"github.com/alanyoungcy/yieldrouter/internal/store/memory"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestLedger_FullRoundTripClosesPosition(t *testing.T) {
	h := newHarness(t, harnessOpts{}, lending("prov-a", 5))
	ctx := context.Background()

	_, err := h.ledger.ApplyDeposit(ctx, "alice", "usdc", "prov-a", 500, dec(500))
	require.NoError(t, err)

	p, err := h.ledger.ApplyWithdraw(ctx, "alice", "USDC", "prov-a", 500, dec(500))
	require.NoError(t, err)

	assert.InDelta(t, 0, p.RealizedPnLUSD, 1e-9)
	assert.True(t, p.Shares.IsZero())
	assert.False(t, p.Active)
	assert.Equal(t, 0.0, p.CurrentValueUSD)
	assert.Equal(t, 0.0, p.CostBasisUSD)
	assert.Equal(t, 1, p.DepositCount)
	assert.Equal(t, 1, p.WithdrawCount)
	assert.Equal(t, int64(2), p.Version)
}

func TestLedger_ProportionalRealizedPnL(t *testing.T) {
	h := newHarness(t, harnessOpts{ledger: LedgerConfig{CostBasis: domain.Proportional}}, lending("prov-a", 5))
	ctx := context.Background()

	_, err := h.ledger.ApplyDeposit(ctx, "alice", "USDC", "prov-a", 500, dec(500))
	require.NoError(t, err)
	p, err := h.ledger.ApplyWithdraw(ctx, "alice", "USDC", "prov-a", 500, dec(500))
	require.NoError(t, err)

	assert.InDelta(t, 250, p.RealizedPnLUSD, 1e-9)
}

func TestLedger_AverageCostPartialWithdrawAfterGain(t *testing.T) {
	h := newHarness(t, harnessOpts{}, lending("prov-a", 5))
	ctx := context.Background()

	_, err := h.ledger.ApplyDeposit(ctx, "bob", "USDC", "prov-a", 1000, dec(1000))
	require.NoError(t, err)
	_, err = h.ledger.UpdateValuation(ctx, "bob", "USDC", "prov-a", 1200, 7.5)
	require.NoError(t, err)

	p, err := h.ledger.ApplyWithdraw(ctx, "bob", "USDC", "prov-a", 600, dec(500))
	require.NoError(t, err)

	assert.InDelta(t, 100, p.RealizedPnLUSD, 1e-9)
	assert.InDelta(t, 500, p.OpenCostUSD, 1e-9)
	assert.InDelta(t, 600, p.CurrentValueUSD, 1e-9)
	assert.True(t, p.Active)
	assert.Equal(t, 7.5, p.CurrentAPY)
}

// Unrealized stays value minus net flows on a closed position, so a fully
// withdrawn gain shows up in both realized and unrealized.
func TestLedger_ClosedPositionWithGain(t *testing.T) {
	h := newHarness(t, harnessOpts{}, lending("prov-a", 5))
	ctx := context.Background()

	_, err := h.ledger.ApplyDeposit(ctx, "bob", "USDC", "prov-a", 1000, dec(1000))
	require.NoError(t, err)
	_, err = h.ledger.UpdateValuation(ctx, "bob", "USDC", "prov-a", 1200, -1)
	require.NoError(t, err)

	p, err := h.ledger.ApplyWithdraw(ctx, "bob", "USDC", "prov-a", 1200, dec(1000))
	require.NoError(t, err)

	assert.False(t, p.Active)
	assert.Equal(t, 0.0, p.CurrentValueUSD)
	assert.InDelta(t, 200, p.RealizedPnLUSD, 1e-9)
	assert.InDelta(t, -200, p.CostBasisUSD, 1e-9)
	assert.InDelta(t, 200, p.UnrealizedPnLUSD, 1e-9)
	assert.InDelta(t, 400, p.TotalPnLUSD, 1e-9)
}

func TestLedger_CostBasisTracksFlows(t *testing.T) {
	h := newHarness(t, harnessOpts{}, lending("prov-a", 5))
	ctx := context.Background()

	steps := []struct {
		deposit bool
		amount  float64
		shares  int64
	}{
		{true, 300, 300},
		{true, 200, 200},
		{false, 100, 100},
		{true, 50, 50},
		{false, 150, 150},
	}
	var p domain.Position
	var err error
	for _, s := range steps {
		if s.deposit {
			p, err = h.ledger.ApplyDeposit(ctx, "carol", "USDC", "prov-a", s.amount, dec(s.shares))
		} else {
			p, err = h.ledger.ApplyWithdraw(ctx, "carol", "USDC", "prov-a", s.amount, dec(s.shares))
		}
		require.NoError(t, err)
		assert.InDelta(t, p.TotalDepositedUSD-p.TotalWithdrawnUSD, p.CostBasisUSD, 1e-9)
		assert.InDelta(t, p.RealizedPnLUSD+p.UnrealizedPnLUSD, p.TotalPnLUSD, 1e-9)
	}
	assert.InDelta(t, 300, p.CostBasisUSD, 1e-9)
	assert.True(t, p.Shares.Equal(dec(300)))
}

func TestLedger_WithdrawInsufficient(t *testing.T) {
	h := newHarness(t, harnessOpts{}, lending("prov-a", 5))
	ctx := context.Background()

	_, err := h.ledger.ApplyWithdraw(ctx, "dave", "USDC", "prov-a", 10, dec(10))
	var ib *domain.InsufficientBalanceError
	require.ErrorAs(t, err, &ib)
	assert.Equal(t, 0.0, ib.Available)
	assert.Equal(t, 10.0, ib.Requested)

	_, err = h.ledger.ApplyDeposit(ctx, "dave", "USDC", "prov-a", 100, dec(100))
	require.NoError(t, err)

	_, err = h.ledger.ApplyWithdraw(ctx, "dave", "USDC", "prov-a", 150, dec(150))
	require.ErrorAs(t, err, &ib)
	assert.Equal(t, 100.0, ib.Available)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	p, err := h.ledger.Position(ctx, "dave", "USDC", "prov-a")
	require.NoError(t, err)
	assert.True(t, p.Shares.Equal(dec(100)), "failed withdraw leaves state unchanged")
}

func TestLedger_RejectsInvalidAmounts(t *testing.T) {
	h := newHarness(t, harnessOpts{}, lending("prov-a", 5))
	ctx := context.Background()

	_, err := h.ledger.ApplyDeposit(ctx, "eve", "USDC", "prov-a", 0, dec(1))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = h.ledger.ApplyDeposit(ctx, "eve", "USDC", "prov-a", 10, dec(-1))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = h.ledger.UpdateValuation(ctx, "eve", "USDC", "prov-a", -1, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = h.ledger.UpdateValuation(ctx, "eve", "USDC", "prov-a", 10, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLedger_ReactivatesClosedPosition(t *testing.T) {
	h := newHarness(t, harnessOpts{}, lending("prov-a", 5))
	ctx := context.Background()

	_, err := h.ledger.ApplyDeposit(ctx, "frank", "USDC", "prov-a", 100, dec(100))
	require.NoError(t, err)
	_, err = h.ledger.ApplyWithdraw(ctx, "frank", "USDC", "prov-a", 100, dec(100))
	require.NoError(t, err)

	p, err := h.ledger.ApplyDeposit(ctx, "frank", "USDC", "prov-a", 40, dec(40))
	require.NoError(t, err)
	assert.True(t, p.Active)
	assert.Equal(t, 40.0, p.CurrentValueUSD)
}

func TestLedger_ConcurrentDepositsDoNotLoseUpdates(t *testing.T) {
	h := newHarness(t, harnessOpts{}, lending("prov-a", 5))
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.ledger.ApplyDeposit(ctx, "grace", "USDC", "prov-a", 10, dec(10))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := h.ledger.Position(ctx, "grace", "USDC", "prov-a")
	require.NoError(t, err)
	assert.InDelta(t, n*10, p.TotalDepositedUSD, 1e-9)
	assert.Equal(t, n, p.DepositCount)
	assert.Equal(t, int64(n), p.Version)
}

// conflictingStore fails every update with a version conflict.
type conflictingStore struct {
	*memory.PositionStore
	updates atomic.Int32
}

func (s *conflictingStore) Update(context.Context, domain.Position, int64) error {
	s.updates.Add(1)
	return domain.ErrVersionConflict
}

func TestLedger_ConflictRetriesThenGivesUp(t *testing.T) {
	store := &conflictingStore{PositionStore: memory.NewPositionStore()}
	ledger := NewLedgerService(LedgerConfig{MaxRetries: 3, BaseBackoff: time.Millisecond}, store, nil, nil, nil, discard)
	ctx := context.Background()

	_, err := ledger.ApplyDeposit(ctx, "heidi", "USDC", "prov-a", 10, dec(10))
	require.NoError(t, err, "insert path does not hit Update")

	_, err = ledger.ApplyDeposit(ctx, "heidi", "USDC", "prov-a", 10, dec(10))
	require.ErrorIs(t, err, domain.ErrLedgerConflict)
	assert.Equal(t, int32(4), store.updates.Load())
}

// fakeLocks is an in-process domain.LockManager.
type fakeLocks struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired atomic.Int32
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	l.acquired.Add(1)
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}

func TestLedger_UsesDistributedLock(t *testing.T) {
	locks := &fakeLocks{held: map[string]bool{}}
	ledger := NewLedgerService(LedgerConfig{}, memory.NewPositionStore(), locks, nil, nil, discard)
	ctx := context.Background()

	_, err := ledger.ApplyDeposit(ctx, "ivan", "USDC", "prov-a", 10, dec(10))
	require.NoError(t, err)
	assert.Equal(t, int32(1), locks.acquired.Load())
	assert.Empty(t, locks.held, "lock released after write")
}

func TestLedger_LockHeldElsewhereTimesOut(t *testing.T) {
	locks := &fakeLocks{held: map[string]bool{"ledger:ivan|USDC|prov-a": true}}
	ledger := NewLedgerService(LedgerConfig{LockTTL: 60 * time.Millisecond}, memory.NewPositionStore(), locks, nil, nil, discard)

	_, err := ledger.ApplyDeposit(context.Background(), "ivan", "usdc", "prov-a", 10, dec(10))
	assert.ErrorIs(t, err, domain.ErrLedgerConflict)
}

func TestLedger_AuditTrail(t *testing.T) {
	h := newHarness(t, harnessOpts{}, lending("prov-a", 5))
	ctx := context.Background()

	_, err := h.ledger.ApplyDeposit(ctx, "judy", "USDC", "prov-a", 100, dec(100))
	require.NoError(t, err)
	_, err = h.ledger.UpdateValuation(ctx, "judy", "USDC", "prov-a", 110, -1)
	require.NoError(t, err)
	_, err = h.ledger.ApplyWithdraw(ctx, "judy", "USDC", "prov-a", 50, dec(50))
	require.NoError(t, err)

	entries, err := h.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	events := make([]string, 0, len(entries))
	for _, e := range entries {
		events = append(events, e.Event)
	}
	assert.ElementsMatch(t, []string{"ledger.deposit", "ledger.valuation", "ledger.withdraw"}, events)
}

func TestLedger_PositionsFilterByAsset(t *testing.T) {
	h := newHarness(t, harnessOpts{}, lending("prov-a", 5))
	ctx := context.Background()

	_, err := h.ledger.ApplyDeposit(ctx, "kim", "USDC", "prov-a", 10, dec(10))
	require.NoError(t, err)
	_, err = h.ledger.ApplyDeposit(ctx, "kim", "SOL", "prov-a", 20, dec(1))
	require.NoError(t, err)

	all, err := h.ledger.Positions(ctx, "kim", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	usdc, err := h.ledger.Positions(ctx, "kim", "usdc")
	require.NoError(t, err)
	require.Len(t, usdc, 1)
	assert.Equal(t, "USDC", usdc[0].Asset)
}
