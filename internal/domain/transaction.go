package domain

import (
	"context"
	"time"
)

// TransactionType is deposit or withdraw.
type TransactionType string

const (
	TxDeposit  TransactionType = "deposit"
	TxWithdraw TransactionType = "withdraw"
)

// TransactionStatus tracks a recorded intent.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxConfirmed TransactionStatus = "confirmed"
	TxFailed    TransactionStatus = "failed"
)

// Valid reports whether s is a known status.
func (s TransactionStatus) Valid() bool {
	switch s {
	case TxPending, TxConfirmed, TxFailed:
		return true
	}
	return false
}

// TransactionRequest is what the core hands to the recorder.
type TransactionRequest struct {
	UserAddress string
	Type        TransactionType
	Asset       string
	AmountUSD   float64
	Provider    string
	FeesUSD     float64
	Status      TransactionStatus
	Metadata    map[string]any
}

// TransactionRecord is a stored transaction intent or outcome.
type TransactionRecord struct {
	ID          string            `json:"id"`
	UserAddress string            `json:"userAddress"`
	Type        TransactionType   `json:"type"`
	Asset       string            `json:"asset"`
	AmountUSD   float64           `json:"amountUsd"`
	Provider    string            `json:"provider"`
	FeesUSD     float64           `json:"feesUsd"`
	Status      TransactionStatus `json:"status"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// TransactionRecorder is the append-only transaction log used by the core.
type TransactionRecorder interface {
	RecordTransaction(ctx context.Context, req TransactionRequest) (string, error)
}
