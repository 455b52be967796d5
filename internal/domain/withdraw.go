package domain

import "strings"

// WithdrawLeg is one provider slice of a withdrawal.
type WithdrawLeg struct {
	Provider             string  `json:"provider"`
	Percentage           float64 `json:"percentage"`
	Amount               float64 `json:"amount"`
	EstimatedTimeSeconds float64 `json:"estimatedTimeSeconds"`
	FeesUSD              float64 `json:"feesUsd"`
	LiquidityUSD         float64 `json:"liquidityUsd"`
	PriorityScore        int     `json:"priorityScore"`
}

// FeeBreakdown splits the aggregate fee estimate.
type FeeBreakdown struct {
	Protocol float64 `json:"protocol"`
	Network  float64 `json:"network"`
	Slippage float64 `json:"slippage"`
	Total    float64 `json:"total"`
}

// WithdrawPreview is the planner's answer for a withdrawal request.
// ShortfallAmount is non-zero only after legs were filtered out.
type WithdrawPreview struct {
	UserAddress          string        `json:"userAddress"`
	Asset                string        `json:"asset"`
	AvailableAmount      float64       `json:"availableAmount"`
	RequestedAmount      float64       `json:"requestedAmount"`
	Fees                 FeeBreakdown  `json:"fees"`
	EstimatedReceived    float64       `json:"estimatedReceived"`
	EstimatedTimeSeconds float64       `json:"estimatedTimeSeconds"`
	Legs                 []WithdrawLeg `json:"legs"`
	OptimalLeg           *WithdrawLeg  `json:"optimalLeg"`
	ShortfallAmount      float64       `json:"shortfallAmount"`
}

// WithdrawPriority selects how OptimizeWithdrawPath orders legs.
type WithdrawPriority string

const (
	PrioritySpeed WithdrawPriority = "speed"
	PriorityFees  WithdrawPriority = "fees"
)

// ParseWithdrawPriority defaults to speed for an empty string.
func ParseWithdrawPriority(s string) (WithdrawPriority, bool) {
	switch p := WithdrawPriority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PrioritySpeed, true
	case PrioritySpeed, PriorityFees:
		return p, true
	default:
		return "", false
	}
}

// WithdrawPreferences drive the filtering pass over a preview.
type WithdrawPreferences struct {
	Priority    WithdrawPriority `json:"priority"`
	MaxSlippage float64          `json:"maxSlippage"`
}

// DepositPreview estimates the outcome of a deposit.
type DepositPreview struct {
	Amount                  float64 `json:"amount"`
	Provider                string  `json:"provider"`
	EstimatedFeesUSD        float64 `json:"estimatedFeesUsd"`
	EstimatedReceived       float64 `json:"estimatedReceived"`
	EstimatedTimeSeconds    float64 `json:"estimatedTimeSeconds"`
	ExpectedAPY             float64 `json:"expectedApy"`
	ProjectedAnnualYieldUSD float64 `json:"projectedAnnualYieldUsd"`
}

// DepositPlan bundles everything a client needs to sign a deposit.
type DepositPlan struct {
	TransactionID string             `json:"transactionId"`
	Allocation    AllocationStrategy `json:"allocation"`
	Preview       DepositPreview     `json:"preview"`
	Instruction   InstructionPayload `json:"instruction"`
}

// WithdrawPlan bundles one instruction per withdraw leg.
type WithdrawPlan struct {
	TransactionID string               `json:"transactionId"`
	Preview       WithdrawPreview      `json:"preview"`
	Instructions  []InstructionPayload `json:"instructions"`
}
