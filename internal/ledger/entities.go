package ledger

import (
	"time"

	"github.com/google/uuid"
)

// AccountStatus enumerates the lifecycle state of an account.
type AccountStatus string

const (
	// AccountStatusActive accepts new ledger entries.
	AccountStatusActive AccountStatus = "ACTIVE"
	// AccountStatusClosed rejects new ledger entries; the account and its
	// history remain readable.
	AccountStatusClosed AccountStatus = "CLOSED"
)

// TransactionStatus enumerates the in-flight and terminal states of a
// transaction. Status transitions exactly once: PENDING to COMPLETED or
// PENDING to FAILED. Single-leg operations may be written COMPLETED directly.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
)

// Account carries identity and status only. Balance is never stored on the
// account; it is always derived by summing the account's ledger entries.
type Account struct {
	ID        uuid.UUID
	Currency  string
	Status    AccountStatus
	CreatedAt time.Time
}

// Closed reports whether the account no longer accepts entries.
func (a Account) Closed() bool { return a.Status == AccountStatusClosed }

// Transaction records one logical money movement. The idempotency key is
// unique across all transactions; ErrorReason is set only when Status is
// FAILED.
type Transaction struct {
	ID             uuid.UUID
	IdempotencyKey string
	Status         TransactionStatus
	CreatedAt      time.Time
	ErrorReason    string
}

// Entry is an immutable signed amount posted to exactly one account as part
// of exactly one transaction. Amounts are in the smallest currency unit:
// positive credits the account, negative debits it. Entries are never
// updated or deleted.
type Entry struct {
	ID            uuid.UUID
	TransactionID uuid.UUID
	AccountID     uuid.UUID
	Amount        int64
	CreatedAt     time.Time
}

// Leg is one (account, signed amount) pair of a transaction request.
type Leg struct {
	AccountID uuid.UUID
	Amount    int64
}

// Request is the generalized N-leg input to the engine. Deposit, withdraw and
// two-party transfer are degenerate one- and two-leg forms of the same shape.
type Request struct {
	IdempotencyKey string
	Legs           []Leg
}

// Sum returns the signed total across all legs. A balanced multi-leg request
// sums to exactly zero.
func (r Request) Sum() int64 {
	var s int64
	for _, l := range r.Legs {
		s += l.Amount
	}
	return s
}

// AccountIDs returns the distinct account ids touched by the request, sorted
// ascending by their canonical string form. This is the total order used for
// lock acquisition.
func (r Request) AccountIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(r.Legs))
	out := make([]uuid.UUID, 0, len(r.Legs))
	for _, l := range r.Legs {
		if _, ok := seen[l.AccountID]; ok {
			continue
		}
		seen[l.AccountID] = struct{}{}
		out = append(out, l.AccountID)
	}
	sortIDs(out)
	return out
}

func sortIDs(ids []uuid.UUID) {
	// insertion sort; requests touch a handful of accounts
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j].String() < ids[j-1].String(); j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}
