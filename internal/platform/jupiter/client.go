// Package jupiter adapts the Jupiter Lend earn API to domain.YieldProvider.
package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
)

// DefaultBaseURL is the public Jupiter API host.
const DefaultBaseURL = "https://lite-api.jup.ag"

const rateLimitKey = "jupiter:api"

// ClientConfig configures the REST client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RequestsPerMinute is enforced through the RateLimiter when one is set.
	RequestsPerMinute int
}

// Client is the REST client for the Jupiter Lend earn endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    domain.RateLimiter
	rpm        int
}

// NewClient creates a new Jupiter client. limiter may be nil.
func NewClient(cfg ClientConfig, limiter domain.RateLimiter) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
		rpm:     cfg.RequestsPerMinute,
	}
}

// EarnTokens lists every earn market.
func (c *Client) EarnTokens(ctx context.Context) ([]APIEarnToken, error) {
	body, err := c.do(ctx, http.MethodGet, "/lend/v1/earn/tokens", nil)
	if err != nil {
		return nil, fmt.Errorf("jupiter: get earn tokens: %w", err)
	}

	var tokens []APIEarnToken
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, fmt.Errorf("jupiter: decode earn tokens: %w", err)
	}
	return tokens, nil
}

// Ping fetches a single market and is used for health checks.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.do(ctx, http.MethodGet, "/lend/v1/earn/tokens?limit=1", nil); err != nil {
		return fmt.Errorf("jupiter: ping: %w", err)
	}
	return nil
}

// Deposit asks the API for an unsigned deposit transaction. amount is in base
// units.
func (c *Client) Deposit(ctx context.Context, mint, amount, user string) (string, error) {
	return c.earnTx(ctx, "/lend/v1/earn/deposit", mint, amount, user)
}

// Withdraw asks the API for an unsigned withdraw transaction.
func (c *Client) Withdraw(ctx context.Context, mint, amount, user string) (string, error) {
	return c.earnTx(ctx, "/lend/v1/earn/withdraw", mint, amount, user)
}

func (c *Client) earnTx(ctx context.Context, path, mint, amount, user string) (string, error) {
	body, err := c.do(ctx, http.MethodPost, path, earnRequest{
		Asset:         mint,
		Amount:        amount,
		Signer:        user,
		UserPublicKey: user,
	})
	if err != nil {
		return "", fmt.Errorf("jupiter: post %s: %w", path, err)
	}

	var resp earnResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("jupiter: decode %s: %w", path, err)
	}
	return resp.Transaction, nil
}

// do sends a request after taking a rate-limit slot and returns the body of a
// 2xx response.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rateLimitKey, c.rpm, time.Minute); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrRateLimited, err)
		}
	}

	var bodyReader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "yieldrouter/1.0")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
