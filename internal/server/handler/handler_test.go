package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
)

var discard = slog.New(slog.DiscardHandler)

// fakeRouter implements every handler service interface.
type fakeRouter struct {
	err error

	gotAmount  float64
	gotAsset   string
	gotProfile domain.RiskProfile
	gotUser    string
	gotPrefs   domain.WithdrawPreferences
	gotAPY     float64
	gotOpts    domain.ListOpts
	gotKey     string
	gotPrefix  string
}

func (f *fakeRouter) GetAllocation(_ context.Context, amount float64, asset string, profile domain.RiskProfile) (domain.AllocationStrategy, error) {
	f.gotAmount, f.gotAsset, f.gotProfile = amount, asset, profile
	if f.err != nil {
		return domain.AllocationStrategy{}, f.err
	}
	return domain.AllocationStrategy{TotalAmount: amount, Asset: asset, RiskProfile: profile, ExpectedAPY: 8,
		Legs: []domain.AllocationLeg{{Provider: "jupiter", Percentage: 100, Amount: amount, ExpectedAPY: 8}}}, nil
}

func (f *fakeRouter) Quotes(_ context.Context, asset string) []domain.Quote {
	return []domain.Quote{{Provider: "jupiter", Asset: asset, APY: 8}}
}

func (f *fakeRouter) CreateDepositPlan(_ context.Context, user, asset string, amount float64, profile domain.RiskProfile) (domain.DepositPlan, error) {
	f.gotUser, f.gotAsset, f.gotAmount, f.gotProfile = user, asset, amount, profile
	return domain.DepositPlan{TransactionID: "tx-1"}, f.err
}

func (f *fakeRouter) CreateWithdrawPlan(_ context.Context, user, asset string, amount float64) (domain.WithdrawPlan, error) {
	f.gotUser, f.gotAsset, f.gotAmount = user, asset, amount
	return domain.WithdrawPlan{TransactionID: "tx-2"}, f.err
}

func (f *fakeRouter) GetWithdrawPreview(_ context.Context, user, asset string, amount float64) (domain.WithdrawPreview, error) {
	f.gotUser, f.gotAsset, f.gotAmount = user, asset, amount
	return domain.WithdrawPreview{UserAddress: user, RequestedAmount: amount}, f.err
}

func (f *fakeRouter) OptimizeWithdrawPath(_ context.Context, user, asset string, amount float64, prefs domain.WithdrawPreferences) (domain.WithdrawPreview, error) {
	f.gotUser, f.gotAsset, f.gotAmount, f.gotPrefs = user, asset, amount, prefs
	return domain.WithdrawPreview{UserAddress: user}, f.err
}

func (f *fakeRouter) GetPosition(_ context.Context, user, asset string) ([]domain.Position, error) {
	f.gotUser, f.gotAsset = user, asset
	return []domain.Position{}, f.err
}

func (f *fakeRouter) UpdateValuation(_ context.Context, user, asset, _ string, value, apy float64) (domain.Position, error) {
	f.gotUser, f.gotAsset, f.gotAmount, f.gotAPY = user, asset, value, apy
	return domain.Position{}, f.err
}

func (f *fakeRouter) ApplyLedgerEvent(_ context.Context, ev domain.LedgerEvent) (domain.Position, error) {
	f.gotUser, f.gotAmount = ev.UserAddress, ev.AmountUSD
	return domain.Position{}, f.err
}

func (f *fakeRouter) TransactionHistory(_ context.Context, user string, opts domain.ListOpts) ([]domain.TransactionRecord, error) {
	f.gotUser, f.gotOpts = user, opts
	return nil, f.err
}

func (f *fakeRouter) ProviderHealth(context.Context) ([]domain.HealthStatus, error) {
	return []domain.HealthStatus{{Provider: "jupiter", Status: domain.HealthHealthy}}, f.err
}

func (f *fakeRouter) InvalidateCache(_ context.Context, key, prefix string) (int, error) {
	f.gotKey, f.gotPrefix = key, prefix
	return 3, f.err
}

func newMux(f *fakeRouter) *http.ServeMux {
	alloc := NewAllocationHandler(f, discard)
	dep := NewDepositHandler(f, discard)
	wd := NewWithdrawHandler(f, discard)
	pos := NewPositionHandler(f, discard)
	txs := NewTransactionHandler(f, discard)
	prov := NewProviderHandler(f, discard)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/allocation", alloc.GetAllocation)
	mux.HandleFunc("GET /api/quotes", alloc.ListQuotes)
	mux.HandleFunc("POST /api/deposits/plan", dep.CreatePlan)
	mux.HandleFunc("POST /api/withdrawals/plan", wd.CreatePlan)
	mux.HandleFunc("GET /api/withdrawals/preview", wd.Preview)
	mux.HandleFunc("POST /api/withdrawals/optimize", wd.Optimize)
	mux.HandleFunc("GET /api/positions/{user}", pos.ListPositions)
	mux.HandleFunc("POST /api/ledger/events", pos.ApplyEvent)
	mux.HandleFunc("POST /api/ledger/valuations", pos.UpdateValuation)
	mux.HandleFunc("GET /api/transactions/{user}", txs.ListTransactions)
	mux.HandleFunc("GET /api/providers/health", prov.Health)
	mux.HandleFunc("DELETE /api/cache", prov.InvalidateCache)
	return mux
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestGetAllocation(t *testing.T) {
	f := &fakeRouter{}
	rec := do(t, newMux(f), http.MethodGet, "/api/allocation?amount=1000&asset=USDC&risk=Conservative", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.RiskConservative, f.gotProfile)
	assert.Equal(t, 1000.0, f.gotAmount)
	body := decode(t, rec)
	assert.Equal(t, 8.0, body["expectedApy"])
}

func TestGetAllocation_DefaultsAndValidation(t *testing.T) {
	f := &fakeRouter{}
	mux := newMux(f)

	rec := do(t, mux, http.MethodGet, "/api/allocation?amount=5&asset=USDC", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.RiskModerate, f.gotProfile)

	for _, target := range []string{
		"/api/allocation?asset=USDC",
		"/api/allocation?amount=-1&asset=USDC",
		"/api/allocation?amount=abc&asset=USDC",
		"/api/allocation?amount=10",
		"/api/allocation?amount=10&asset=USDC&risk=yolo",
	} {
		rec := do(t, mux, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestListQuotes(t *testing.T) {
	rec := do(t, newMux(&fakeRouter{}), http.MethodGet, "/api/quotes?asset=usdc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "USDC", body["asset"])
	assert.Len(t, body["quotes"], 1)
}

func TestCreateDepositPlan(t *testing.T) {
	f := &fakeRouter{}
	mux := newMux(f)

	rec := do(t, mux, http.MethodPost, "/api/deposits/plan",
		`{"userAddress":"alice","asset":"USDC","amount":250,"riskProfile":"aggressive"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "tx-1", decode(t, rec)["transactionId"])
	assert.Equal(t, domain.RiskAggressive, f.gotProfile)

	rec = do(t, mux, http.MethodPost, "/api/deposits/plan", `{"userAddress":"alice","asset":"USDC","amount":1,"extra":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields rejected")

	rec = do(t, mux, http.MethodPost, "/api/deposits/plan", `{"asset":"USDC","amount":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWithdrawEndpoints(t *testing.T) {
	f := &fakeRouter{}
	mux := newMux(f)

	rec := do(t, mux, http.MethodPost, "/api/withdrawals/plan", `{"userAddress":"bob","asset":"USDC","amount":800}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 800.0, f.gotAmount)

	rec = do(t, mux, http.MethodGet, "/api/withdrawals/preview?user=bob&asset=USDC&amount=50", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", f.gotUser)

	rec = do(t, mux, http.MethodGet, "/api/withdrawals/preview?asset=USDC&amount=50", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, mux, http.MethodPost, "/api/withdrawals/optimize",
		`{"userAddress":"bob","asset":"USDC","amount":800,"priority":"fees","maxSlippage":0.01}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.WithdrawPreferences{Priority: domain.PriorityFees, MaxSlippage: 0.01}, f.gotPrefs)

	rec = do(t, mux, http.MethodPost, "/api/withdrawals/optimize", `{"userAddress":"bob","asset":"USDC","amount":800,"priority":"cheap"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, mux, http.MethodPost, "/api/withdrawals/optimize", `{"userAddress":"bob","asset":"USDC","amount":800,"maxSlippage":2}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPositionEndpoints(t *testing.T) {
	f := &fakeRouter{}
	mux := newMux(f)

	rec := do(t, mux, http.MethodGet, "/api/positions/alice?asset=USDC", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", f.gotUser)
	assert.Equal(t, "USDC", f.gotAsset)
	assert.Equal(t, []any{}, decode(t, rec)["positions"])

	rec = do(t, mux, http.MethodPost, "/api/ledger/events",
		`{"type":"deposit","userAddress":"alice","asset":"USDC","providerId":"jupiter","amountUsd":100,"shares":"100"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 100.0, f.gotAmount)

	rec = do(t, mux, http.MethodPost, "/api/ledger/valuations",
		`{"userAddress":"alice","asset":"USDC","providerId":"jupiter","currentValueUsd":110}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, -1.0, f.gotAPY, "missing apy keeps the stored value")

	rec = do(t, mux, http.MethodPost, "/api/ledger/valuations",
		`{"userAddress":"alice","asset":"USDC","providerId":"jupiter","currentValueUsd":110,"apy":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, f.gotAPY)

	rec = do(t, mux, http.MethodPost, "/api/ledger/valuations", `{"userAddress":"alice","currentValueUsd":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListTransactions(t *testing.T) {
	f := &fakeRouter{}
	mux := newMux(f)

	rec := do(t, mux, http.MethodGet, "/api/transactions/alice?limit=900&offset=2&since=2026-01-01T00:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, f.gotOpts.Limit)
	assert.Equal(t, 2, f.gotOpts.Offset)
	require.NotNil(t, f.gotOpts.Since)
	assert.Nil(t, f.gotOpts.Until)
	assert.Equal(t, []any{}, decode(t, rec)["transactions"])

	rec = do(t, mux, http.MethodGet, "/api/transactions/alice?until=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProviderEndpoints(t *testing.T) {
	f := &fakeRouter{}
	mux := newMux(f)

	rec := do(t, mux, http.MethodGet, "/api/providers/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["providers"], 1)

	rec = do(t, mux, http.MethodDelete, "/api/cache?prefix=mars:jupiter", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mars:jupiter", f.gotPrefix)
	assert.Equal(t, 3.0, decode(t, rec)["removed"])
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", domain.ErrInvalidAmount), http.StatusBadRequest},
		{domain.ErrInvalidRequest, http.StatusBadRequest},
		{domain.ErrNoOpportunity, http.StatusUnprocessableEntity},
		{domain.ErrNoPathAvailable, http.StatusUnprocessableEntity},
		{domain.ErrLedgerConflict, http.StatusConflict},
		{fmt.Errorf("x: %w", domain.ErrAlreadyExists), http.StatusConflict},
		{domain.ErrPlanningDeadline, http.StatusGatewayTimeout},
		{fmt.Errorf("x: %w", domain.ErrProviderUnavailable), http.StatusServiceUnavailable},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrNotFound, http.StatusNotFound},
		{errors.New("database exploded"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := do(t, newMux(&fakeRouter{err: tt.err}), http.MethodGet, "/api/allocation?amount=1&asset=USDC", "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestInsufficientBalanceBody(t *testing.T) {
	f := &fakeRouter{err: fmt.Errorf("planner: %w", &domain.InsufficientBalanceError{Available: 1100, Requested: 1200})}
	rec := do(t, newMux(f), http.MethodGet, "/api/withdrawals/preview?user=bob&asset=USDC&amount=1200", "")

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, 1100.0, body["availableAmount"])
	assert.Equal(t, 1200.0, body["requestedAmount"])
}

func TestInternalErrorHidesDetail(t *testing.T) {
	rec := do(t, newMux(&fakeRouter{err: errors.New("pq: password authentication failed")}),
		http.MethodGet, "/api/providers/health", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthAndReady(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"postgres": pingFunc(func(context.Context) error { return nil }),
	}, discard)

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h = NewHealthHandler(map[string]Pinger{
		"redis": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	}, discard)
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}
