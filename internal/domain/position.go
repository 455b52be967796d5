package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// AmountEpsilon is the tolerance used when comparing USD amounts.
const AmountEpsilon = 1e-6

// PositionKey identifies a single ledger row.
type PositionKey struct {
	UserAddress string `json:"userAddress"`
	Asset       string `json:"asset"`
	ProviderID  string `json:"providerId"`
}

// String renders the key as user|asset|provider.
func (k PositionKey) String() string {
	return k.UserAddress + "|" + k.Asset + "|" + k.ProviderID
}

// Position is the ledger record for one (user, asset, provider).
type Position struct {
	PositionKey

	Shares              decimal.Decimal `json:"shares"`
	CostBasisUSD        float64         `json:"costBasisUsd"`
	OpenCostUSD         float64         `json:"openCostUsd"`
	TotalDepositedUSD   float64         `json:"totalDepositedUsd"`
	TotalWithdrawnUSD   float64         `json:"totalWithdrawnUsd"`
	RealizedPnLUSD      float64         `json:"realizedPnlUsd"`
	UnrealizedPnLUSD    float64         `json:"unrealizedPnlUsd"`
	TotalPnLUSD         float64         `json:"totalPnlUsd"`
	CurrentValueUSD     float64         `json:"currentValueUsd"`
	CurrentAPY          float64         `json:"currentApy"`
	TotalSharesReceived decimal.Decimal `json:"totalSharesReceived"`
	TotalSharesBurned   decimal.Decimal `json:"totalSharesBurned"`
	DepositCount        int             `json:"depositCount"`
	WithdrawCount       int             `json:"withdrawCount"`
	Active              bool            `json:"active"`
	FirstDepositAt      time.Time       `json:"firstDepositAt"`
	LastActivityAt      time.Time       `json:"lastActivityAt"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
	Version             int64           `json:"version"`
}

// Revalue recomputes the derived PnL fields from the stored totals. Unrealized
// is value minus net flows even once the position is closed.
func (p *Position) Revalue() {
	p.CostBasisUSD = p.TotalDepositedUSD - p.TotalWithdrawnUSD
	if math.Abs(p.CostBasisUSD) < AmountEpsilon {
		p.CostBasisUSD = 0
	}
	p.UnrealizedPnLUSD = p.CurrentValueUSD - p.CostBasisUSD
	p.TotalPnLUSD = p.RealizedPnLUSD + p.UnrealizedPnLUSD
}

// LedgerEventType distinguishes deposit and withdraw events.
type LedgerEventType string

const (
	LedgerEventDeposit  LedgerEventType = "deposit"
	LedgerEventWithdraw LedgerEventType = "withdraw"
)

// LedgerEvent is a confirmed deposit or withdraw reported by the indexer.
// EventID, usually the on-chain signature, makes redelivery idempotent.
type LedgerEvent struct {
	EventID       string          `json:"eventId,omitempty"`
	Type          LedgerEventType `json:"type"`
	UserAddress   string          `json:"userAddress"`
	Asset         string          `json:"asset"`
	ProviderID    string          `json:"providerId"`
	AmountUSD     float64         `json:"amountUsd"`
	Shares        string          `json:"shares"`
	TransactionID string          `json:"transactionId,omitempty"`
}
