// Package engine implements the transaction-processing core: idempotency-key
// deduplication, ordered multi-account locking, derived-balance checks, the
// zero-sum invariant, and the transaction status lifecycle. All of it runs
// inside a single atomic unit of work supplied by the store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hartwell/ledgerd/internal/errs"
	"github.com/hartwell/ledgerd/internal/ledger"
)

// Store opens atomic units of work and answers the one read the engine needs
// outside of them: resolving the winner of a concurrent-duplicate race.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	TransactionByKey(ctx context.Context, key string) (ledger.Transaction, bool, error)
}

// Tx is one atomic unit of work. Everything between Begin and Commit succeeds
// or fails together; no intermediate state is visible to other operations.
// LockAccount acquires an exclusive hold released only by Commit or Rollback.
type Tx interface {
	TransactionByKey(ctx context.Context, key string) (ledger.Transaction, bool, error)
	LockAccount(ctx context.Context, id uuid.UUID) (ledger.Account, error)
	CreateTransaction(ctx context.Context, t ledger.Transaction) error
	SetTransactionStatus(ctx context.Context, id uuid.UUID, status ledger.TransactionStatus, reason string) error
	InsertEntries(ctx context.Context, entries []ledger.Entry) error
	AccountBalance(ctx context.Context, accountID uuid.UUID) (int64, error)
	EntriesByTransaction(ctx context.Context, txID uuid.UUID) ([]ledger.Entry, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Service exposes the generalized N-leg operation and its degenerate
// single- and two-leg convenience forms.
type Service interface {
	Process(ctx context.Context, req ledger.Request) (ledger.Transaction, error)
	Deposit(ctx context.Context, accountID uuid.UUID, amount int64, idempotencyKey string) (ledger.Transaction, error)
	Withdraw(ctx context.Context, accountID uuid.UUID, amount int64, idempotencyKey string) (ledger.Transaction, error)
	Transfer(ctx context.Context, fromID, toID uuid.UUID, amount int64, idempotencyKey string) (ledger.Transaction, error)
}

type service struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// New constructs the engine over the given store. The clock is injectable for
// tests; pass nil for the clock or logger to use the process defaults.
func New(store Store, logger *slog.Logger, now func() time.Time) Service {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &service{store: store, log: logger, now: now}
}

// Deposit posts +amount to the target account.
func (s *service) Deposit(ctx context.Context, accountID uuid.UUID, amount int64, idempotencyKey string) (ledger.Transaction, error) {
	if amount <= 0 {
		return ledger.Transaction{}, fmt.Errorf("%w: amount must be positive, got %d", errs.ErrInvalid, amount)
	}
	return s.Process(ctx, ledger.Request{
		IdempotencyKey: idempotencyKey,
		Legs:           []ledger.Leg{{AccountID: accountID, Amount: amount}},
	})
}

// Withdraw posts -amount to the target account.
func (s *service) Withdraw(ctx context.Context, accountID uuid.UUID, amount int64, idempotencyKey string) (ledger.Transaction, error) {
	if amount <= 0 {
		return ledger.Transaction{}, fmt.Errorf("%w: amount must be positive, got %d", errs.ErrInvalid, amount)
	}
	return s.Process(ctx, ledger.Request{
		IdempotencyKey: idempotencyKey,
		Legs:           []ledger.Leg{{AccountID: accountID, Amount: -amount}},
	})
}

// Transfer posts -amount to the source and +amount to the destination.
func (s *service) Transfer(ctx context.Context, fromID, toID uuid.UUID, amount int64, idempotencyKey string) (ledger.Transaction, error) {
	if amount <= 0 {
		return ledger.Transaction{}, fmt.Errorf("%w: amount must be positive, got %d", errs.ErrInvalid, amount)
	}
	if fromID == toID {
		return ledger.Transaction{}, fmt.Errorf("%w: cannot transfer to the same account", errs.ErrInvalid)
	}
	return s.Process(ctx, ledger.Request{
		IdempotencyKey: idempotencyKey,
		Legs: []ledger.Leg{
			{AccountID: fromID, Amount: -amount},
			{AccountID: toID, Amount: amount},
		},
	})
}

// Process executes the request as one atomic unit of work:
//
//  1. idempotency pre-check by key (advisory fast path)
//  2. exclusive locks on the distinct accounts, in sorted id order
//  3. transaction row creation (the storage uniqueness constraint on the key
//     is the authoritative duplicate guard)
//  4. derived-balance check for every debit leg, while holding all locks
//  5. entry insertion, one per leg
//  6. zero-sum re-verification over the entries just written
//  7. finalization and commit
func (s *service) Process(ctx context.Context, req ledger.Request) (ledger.Transaction, error) {
	if err := validate(req); err != nil {
		return ledger.Transaction{}, err
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Advisory pre-check; the unique constraint below is what actually holds
	// under a same-instant race.
	if existing, ok, err := tx.TransactionByKey(ctx, req.IdempotencyKey); err != nil {
		return ledger.Transaction{}, err
	} else if ok {
		s.log.Info("duplicate request", "idempotency_key", req.IdempotencyKey, "transaction_id", existing.ID)
		observe(outcomeDuplicate)
		return ledger.Transaction{}, &errs.DuplicateRequestError{TransactionID: existing.ID, Status: existing.Status}
	}

	// Deterministic lock order prevents cycles between operations that touch
	// overlapping account sets. A miss fails the whole operation.
	for _, id := range req.AccountIDs() {
		acc, err := tx.LockAccount(ctx, id)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return ledger.Transaction{}, fmt.Errorf("%w: account %s", errs.ErrNotFound, id)
			}
			return ledger.Transaction{}, err
		}
		if acc.Closed() {
			return ledger.Transaction{}, fmt.Errorf("%w: account %s", errs.ErrAccountClosed, id)
		}
	}

	// The row is durable proof an attempt was made; its presence is what makes
	// the pre-check effective for retries even if this attempt fails.
	record := ledger.Transaction{
		ID:             uuid.New(),
		IdempotencyKey: req.IdempotencyKey,
		Status:         initialStatus(req),
		CreatedAt:      s.now().UTC(),
	}
	if err := tx.CreateTransaction(ctx, record); err != nil {
		if errors.Is(err, errs.ErrDuplicateIdempotencyKey) {
			return ledger.Transaction{}, s.concurrentDuplicate(ctx, tx, req.IdempotencyKey)
		}
		return ledger.Transaction{}, err
	}

	// Balance checks run before any entry exists, so a business failure
	// commits the FAILED row and nothing else.
	for _, id := range req.AccountIDs() {
		debit := debitTotal(req, id)
		if debit >= 0 {
			continue
		}
		balance, err := tx.AccountBalance(ctx, id)
		if err != nil {
			return ledger.Transaction{}, err
		}
		if balance+debit < 0 {
			ifErr := &errs.InsufficientFundsError{AccountID: id, Balance: balance, Requested: -debit}
			if err := tx.SetTransactionStatus(ctx, record.ID, ledger.TransactionStatusFailed, ifErr.Error()); err != nil {
				return ledger.Transaction{}, err
			}
			if err := tx.Commit(ctx); err != nil {
				return ledger.Transaction{}, err
			}
			s.log.Warn("insufficient funds",
				"transaction_id", record.ID, "account_id", id,
				"balance", balance, "requested", -debit)
			observe(outcomeFailed)
			return ledger.Transaction{}, ifErr
		}
	}

	entries := make([]ledger.Entry, 0, len(req.Legs))
	for _, leg := range req.Legs {
		entries = append(entries, ledger.Entry{
			ID:            uuid.New(),
			TransactionID: record.ID,
			AccountID:     leg.AccountID,
			Amount:        leg.Amount,
			CreatedAt:     s.now().UTC(),
		})
	}
	if err := tx.InsertEntries(ctx, entries); err != nil {
		return ledger.Transaction{}, err
	}

	// Defense in depth: re-read what was just written and re-assert the
	// invariant. A violation is a programming defect, not a business error.
	if len(req.Legs) >= 2 {
		written, err := tx.EntriesByTransaction(ctx, record.ID)
		if err != nil {
			return ledger.Transaction{}, err
		}
		var sum int64
		for _, e := range written {
			sum += e.Amount
		}
		if sum != 0 {
			s.log.Error("ledger entries do not sum to zero", "transaction_id", record.ID, "sum", sum)
			return ledger.Transaction{}, fmt.Errorf("%w: entries for transaction %s sum to %d", errs.ErrInternal, record.ID, sum)
		}
	}

	if record.Status == ledger.TransactionStatusPending {
		if err := tx.SetTransactionStatus(ctx, record.ID, ledger.TransactionStatusCompleted, ""); err != nil {
			return ledger.Transaction{}, err
		}
		record.Status = ledger.TransactionStatusCompleted
	}
	if err := tx.Commit(ctx); err != nil {
		if errors.Is(err, errs.ErrDuplicateIdempotencyKey) {
			return ledger.Transaction{}, s.concurrentDuplicate(ctx, nil, req.IdempotencyKey)
		}
		return ledger.Transaction{}, err
	}

	s.log.Info("transaction completed",
		"transaction_id", record.ID, "idempotency_key", record.IdempotencyKey, "legs", len(req.Legs))
	observe(outcomeCompleted)
	return record, nil
}

// concurrentDuplicate resolves the race where two callers pass the pre-check
// simultaneously: the unit of work that lost the uniqueness constraint is
// rolled back and the winner's row is re-read so the loser is reported as an
// ordinary duplicate rather than an internal error.
func (s *service) concurrentDuplicate(ctx context.Context, tx Tx, key string) error {
	if tx != nil {
		_ = tx.Rollback(ctx)
	}
	observe(outcomeDuplicate)
	if winner, ok, err := s.store.TransactionByKey(ctx, key); err == nil && ok {
		return &errs.DuplicateRequestError{TransactionID: winner.ID, Status: winner.Status}
	}
	// Winner not visible yet (or its unit of work also rolled back).
	return fmt.Errorf("%w: concurrent duplicate request for key %q", errs.ErrConflict, key)
}

func validate(req ledger.Request) error {
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return fmt.Errorf("%w: idempotency key is required", errs.ErrInvalid)
	}
	if len(req.Legs) == 0 {
		return fmt.Errorf("%w: at least one leg is required", errs.ErrInvalid)
	}
	for i, leg := range req.Legs {
		if leg.AccountID == uuid.Nil {
			return fmt.Errorf("%w: leg[%d]: account id is required", errs.ErrInvalid, i)
		}
		if leg.Amount == 0 {
			return fmt.Errorf("%w: leg[%d]: amount must be non-zero", errs.ErrInvalid, i)
		}
	}
	if len(req.Legs) >= 2 && req.Sum() != 0 {
		return fmt.Errorf("%w: entries must sum to 0, got %d", errs.ErrInvalid, req.Sum())
	}
	return nil
}

// initialStatus writes pure-credit single-leg operations (deposits) directly
// COMPLETED; anything that can still fail starts PENDING.
func initialStatus(req ledger.Request) ledger.TransactionStatus {
	if len(req.Legs) == 1 && req.Legs[0].Amount > 0 {
		return ledger.TransactionStatusCompleted
	}
	return ledger.TransactionStatusPending
}

// debitTotal returns the net signed amount the request posts to the account.
// The balance check uses the net so an account debited by several legs of the
// same request cannot slip past a per-leg check.
func debitTotal(req ledger.Request, accountID uuid.UUID) int64 {
	var n int64
	for _, leg := range req.Legs {
		if leg.AccountID == accountID {
			n += leg.Amount
		}
	}
	return n
}
