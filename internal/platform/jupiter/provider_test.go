package jupiter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
)

const tokensJSON = `[
  {"id":1,"address":"jlUSDC-a","symbol":"jlUSDC","asset":{"address":"EPj","symbol":"USDC","decimals":6},"totalRate":"650","supplyRate":"600","totalAssets":"15000000000000"},
  {"id":2,"address":"jlUSDC-b","symbol":"jlUSDC","asset":{"address":"EPj","symbol":"USDC","decimals":6},"totalRate":820,"supplyRate":800,"totalAssets":2000000000},
  {"id":3,"address":"jlWSOL","symbol":"jlWSOL","asset":{"address":"So1","symbol":"WSOL","decimals":9},"totalRate":"410","totalAssets":"1000000000000"}
]`

func newTestProvider(t *testing.T, handler http.HandlerFunc, cfg ProviderConfig) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "k", Timeout: 2 * time.Second}, nil)
	return NewProvider(client, cfg, slog.New(slog.DiscardHandler))
}

func tokensHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/lend/v1/earn/tokens", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("x-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(tokensJSON))
	}
}

func TestQuote_PicksHighestRate(t *testing.T) {
	p := newTestProvider(t, tokensHandler(t), ProviderConfig{})

	q, err := p.Quote(context.Background(), "usdc")
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, "jupiter", q.Provider)
	assert.Equal(t, "jlUSDC-b", q.StrategyID)
	assert.InDelta(t, 8.2, q.APY, 1e-9)
	assert.InDelta(t, 2000, q.TVL, 1e-9)

	sol, err := p.Quote(context.Background(), "SOL")
	require.NoError(t, err)
	require.NotNil(t, sol, "WSOL is normalized to SOL")
	assert.InDelta(t, 4.1, sol.APY, 1e-9)

	none, err := p.Quote(context.Background(), "BONK")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestEstimateWithdraw(t *testing.T) {
	p := newTestProvider(t, tokensHandler(t), ProviderConfig{})

	est, err := p.EstimateWithdraw(context.Background(), "USDC", 500)
	require.NoError(t, err)
	assert.Equal(t, 30.0, est.EstimatedTimeSeconds)
	assert.InDelta(t, 1, est.FeesUSD, 1e-9)
	assert.InDelta(t, 2000, est.LiquidityUSD, 1e-9, "capped by pool size")

	_, err = p.EstimateWithdraw(context.Background(), "BONK", 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBuildInstruction_Local(t *testing.T) {
	p := newTestProvider(t, tokensHandler(t), ProviderConfig{})

	ix, err := p.BuildDepositInstruction(context.Background(), "usdc", 100, "alice")
	require.NoError(t, err)
	assert.Equal(t, LendingProgramID, ix.Program)
	assert.Equal(t, "base64-json", ix.Encoding)

	raw, err := base64.StdEncoding.DecodeString(ix.Data)
	require.NoError(t, err)
	var body domain.InstructionBody
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "alice", body.User)
	assert.Equal(t, mints["USDC"].Mint, body.Accounts["mint"])

	_, err = p.BuildWithdrawInstruction(context.Background(), "BONK", 1, "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = p.BuildWithdrawInstruction(context.Background(), "USDC", 0, "alice")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestBuildInstruction_ViaAPI(t *testing.T) {
	var got earnRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/lend/v1/earn/withdraw", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"transaction":"AQID"}`))
	}, ProviderConfig{BuildViaAPI: true})

	ix, err := p.BuildWithdrawInstruction(context.Background(), "USDC", 12.5, "bob")
	require.NoError(t, err)
	assert.Equal(t, "base64-transaction", ix.Encoding)
	assert.Equal(t, "AQID", ix.Data)
	assert.Equal(t, "12500000", got.Amount)
	assert.Equal(t, "bob", got.Signer)
}

func TestHTTPErrorsMapToDomain(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}, ProviderConfig{})

	_, err := p.Quote(context.Background(), "USDC")
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	hs := p.HealthCheck(context.Background())
	assert.Equal(t, domain.HealthUnhealthy, hs.Status)
	assert.NotEmpty(t, hs.Error)
}

type countingLimiter struct{ waits atomic.Int32 }

func (l *countingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return true, nil
}

func (l *countingLimiter) Wait(_ context.Context, key string, limit int, _ time.Duration) error {
	l.waits.Add(1)
	if key != rateLimitKey || limit != 30 {
		return domain.ErrRateLimited
	}
	return nil
}

func TestClientTakesRateLimitSlot(t *testing.T) {
	srv := httptest.NewServer(tokensHandler(t))
	t.Cleanup(srv.Close)
	lim := &countingLimiter{}
	c := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "k", RequestsPerMinute: 30}, lim)

	_, err := c.EarnTokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), lim.waits.Load())
}

func TestHealthCheckHealthy(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}, ProviderConfig{})

	hs := p.HealthCheck(context.Background())
	assert.Equal(t, domain.HealthHealthy, hs.Status)
	assert.Equal(t, ProviderID, hs.Provider)
}
