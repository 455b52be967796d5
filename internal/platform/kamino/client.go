// Package kamino adapts Kamino vault strategies to domain.YieldProvider.
package kamino

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
)

// Strategy is one vault strategy. APY is in percent.
type Strategy struct {
	ID         string  `json:"id" toml:"id"`
	Asset      string  `json:"asset" toml:"asset"`
	APY        float64 `json:"apy" toml:"apy"`
	TVL        float64 `json:"tvl" toml:"tvl"`
	RiskScore  int     `json:"riskScore" toml:"risk_score"`
	MinDeposit float64 `json:"minDeposit" toml:"min_deposit"`
	MaxDeposit float64 `json:"maxDeposit" toml:"max_deposit"`
}

// DefaultStrategies is the catalog used when no strategies endpoint is
// configured.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{ID: "kamino-usdc-stable", Asset: "USDC", APY: 8.5, TVL: 15_000_000, RiskScore: 3, MinDeposit: 1, MaxDeposit: 100_000},
		{ID: "kamino-usdt-yield", Asset: "USDT", APY: 9.2, TVL: 8_500_000, RiskScore: 4, MinDeposit: 1, MaxDeposit: 50_000},
	}
}

// ClientConfig configures the strategy source.
type ClientConfig struct {
	// BaseURL serves GET /strategies. When empty the static catalog is used.
	BaseURL    string
	Timeout    time.Duration
	Strategies []Strategy
}

// Client lists vault strategies from an HTTP endpoint or a static catalog.
type Client struct {
	baseURL    string
	httpClient *http.Client
	static     []Strategy
}

// NewClient creates a Client. An empty cfg.Strategies falls back to
// DefaultStrategies.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	static := cfg.Strategies
	if len(static) == 0 {
		static = DefaultStrategies()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		static:     slices.Clone(static),
	}
}

// Remote reports whether strategies come from an HTTP endpoint.
func (c *Client) Remote() bool {
	return c.baseURL != ""
}

// Strategies returns the current catalog.
func (c *Client) Strategies(ctx context.Context) ([]Strategy, error) {
	if !c.Remote() {
		return slices.Clone(c.static), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/strategies", nil)
	if err != nil {
		return nil, fmt.Errorf("kamino: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kamino: get strategies: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("kamino: read strategies: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("kamino: get strategies: %w: %s", domain.ErrRateLimited, body)
		}
		return nil, fmt.Errorf("kamino: get strategies: HTTP %d: %s", resp.StatusCode, body)
	}

	var out []Strategy
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("kamino: decode strategies: %w", err)
	}
	for i := range out {
		out[i].Asset = strings.ToUpper(out[i].Asset)
	}
	return out, nil
}
