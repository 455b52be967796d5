package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")

	ErrNoOpportunity       = errors.New("no provider reports a usable yield")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNoPathAvailable     = errors.New("no withdraw path available")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrLedgerConflict      = errors.New("ledger conflict")
	ErrVersionConflict     = errors.New("version conflict")
	ErrPlanningDeadline    = errors.New("planning deadline exceeded")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidRiskProfile  = errors.New("invalid risk profile")
	ErrInvalidRequest      = errors.New("invalid request")
)

// InsufficientBalanceError reports how much was available when a request
// asked for more. It matches ErrInsufficientBalance with errors.Is.
type InsufficientBalanceError struct {
	Available float64
	Requested float64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %.6f, requested %.6f", e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}
