package domain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"
)

// ProviderKind groups providers by risk class. Lending pools are treated as
// lower risk than managed vault strategies.
type ProviderKind string

const (
	ProviderKindLending ProviderKind = "lending"
	ProviderKindVault   ProviderKind = "vault"
)

// RiskRank orders provider kinds from safest (0) upward.
func (k ProviderKind) RiskRank() int {
	switch k {
	case ProviderKindLending:
		return 0
	case ProviderKindVault:
		return 1
	default:
		return 2
	}
}

// Quote is a provider's current offer for an asset. APY is in percent.
type Quote struct {
	Provider        string    `json:"provider"`
	Asset           string    `json:"asset"`
	StrategyID      string    `json:"strategyId,omitempty"`
	APY             float64   `json:"apy"`
	TVL             float64   `json:"tvl"`
	Available       float64   `json:"available"`
	MinDeposit      float64   `json:"minDeposit"`
	MaxDeposit      float64   `json:"maxDeposit"`
	DepositFeeRate  float64   `json:"depositFeeRate"`
	WithdrawFeeRate float64   `json:"withdrawFeeRate"`
	RiskScore       int       `json:"riskScore,omitempty"`
	FetchedAt       time.Time `json:"fetchedAt"`
}

// WithdrawEstimate is a provider's estimate for withdrawing an amount.
type WithdrawEstimate struct {
	EstimatedTimeSeconds float64 `json:"estimatedTimeSeconds"`
	FeesUSD              float64 `json:"feesUsd"`
	LiquidityUSD         float64 `json:"liquidityUsd"`
}

// InstructionPayload is an opaque unsigned instruction for the client to sign.
type InstructionPayload struct {
	Provider   string  `json:"provider"`
	Program    string  `json:"program"`
	Action     string  `json:"action"`
	Asset      string  `json:"asset"`
	StrategyID string  `json:"strategyId,omitempty"`
	AmountUSD  float64 `json:"amountUsd"`
	Encoding   string  `json:"encoding"`
	Data       string  `json:"data"`
}

// HealthStatus values.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// HealthStatus is the result of a provider health check.
type HealthStatus struct {
	Provider       string `json:"provider"`
	Status         string `json:"status"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
	Error          string `json:"error,omitempty"`
}

// YieldProvider is the capability set every yield source exposes.
type YieldProvider interface {
	ID() string
	Kind() ProviderKind
	// Quote returns nil when the provider has no market for the asset.
	Quote(ctx context.Context, asset string) (*Quote, error)
	EstimateWithdraw(ctx context.Context, strategyOrAsset string, amount float64) (WithdrawEstimate, error)
	BuildDepositInstruction(ctx context.Context, strategyOrAsset string, amount float64, userAddress string) (InstructionPayload, error)
	BuildWithdrawInstruction(ctx context.Context, strategyOrAsset string, amount float64, userAddress string) (InstructionPayload, error)
	HealthCheck(ctx context.Context) HealthStatus
}

// InstructionBody is the JSON document wrapped into an InstructionPayload
// when a provider does not return its own serialized transaction.
type InstructionBody struct {
	Program   string            `json:"program"`
	Action    string            `json:"action"`
	Asset     string            `json:"asset"`
	AmountUSD float64           `json:"amountUsd"`
	User      string            `json:"user"`
	Accounts  map[string]string `json:"accounts,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// EncodeInstruction serializes body as base64 JSON.
func EncodeInstruction(body InstructionBody) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
