package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrAccountNotFound indicates a ledger operation against an unknown
	// account id, a data-integrity problem surfaced to operators.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountFrozen blocks debits on an account flagged by the
	// reconciliation audit until manual review clears it.
	ErrAccountFrozen = errors.New("account frozen pending review")
)

// InsufficientCreditsError is returned when a debit would drive the balance
// below zero. It is user-facing and never retried automatically.
type InsufficientCreditsError struct {
	Requested int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: requested %d, available %d", e.Requested, e.Available)
}

// Shortfall is how many credits the account is missing for the request.
func (e *InsufficientCreditsError) Shortfall() int64 {
	return e.Requested - e.Available
}

// InvariantViolationError reports an account whose transaction sum no longer
// matches its stored balance. Fatal for the affected account only.
type InvariantViolationError struct {
	AccountID string
	Balance   int64
	Sum       int64
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("ledger invariant violation for account %s: balance %d, transaction sum %d", e.AccountID, e.Balance, e.Sum)
}
