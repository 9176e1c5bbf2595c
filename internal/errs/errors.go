package errs

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hartwell/ledgerd/internal/ledger"
)

// Common sentinel errors for cross-layer signaling.
var (
	ErrNotFound = errors.New("not_found")
	ErrInvalid  = errors.New("invalid")
	ErrConflict = errors.New("conflict")
	// ErrAccountClosed indicates a CLOSED account was referenced by a new entry.
	ErrAccountClosed = errors.New("account_closed")
	// ErrInsufficientFunds indicates a debit would drive a balance negative.
	ErrInsufficientFunds = errors.New("insufficient_funds")
	// ErrDuplicateIdempotencyKey is returned by stores when the uniqueness
	// constraint on the idempotency key rejects an insert.
	ErrDuplicateIdempotencyKey = errors.New("duplicate_idempotency_key")
	// ErrInternal marks a post-condition violation (entries not summing to
	// zero). It must never be downgraded to a business error.
	ErrInternal = errors.New("internal_inconsistency")
)

// DuplicateRequestError reports that an idempotency key has already been
// used. It carries the prior transaction so callers can reconcile instead of
// retrying blindly.
type DuplicateRequestError struct {
	TransactionID uuid.UUID
	Status        ledger.TransactionStatus
}

func (e *DuplicateRequestError) Error() string {
	return fmt.Sprintf("request already processed: transaction %s (%s)", e.TransactionID, e.Status)
}

func (e *DuplicateRequestError) Unwrap() error { return ErrConflict }

// InsufficientFundsError identifies the offending account, its derived
// balance at check time, and the requested debit.
type InsufficientFundsError struct {
	AccountID uuid.UUID
	Balance   int64
	Requested int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: account=%s balance=%d requested=%d", e.AccountID, e.Balance, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }
