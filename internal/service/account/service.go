// Package account implements the read-side convenience over the account and
// entry stores: account creation, lookups, derived balances, and per-account
// entry listings. Balance is always a sum over entries, never a stored field.
package account

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/hartwell/ledgerd/internal/errs"
	"github.com/hartwell/ledgerd/internal/ledger"
)

// DefaultCurrency is used when an account is created without one.
const DefaultCurrency = "USD"

// Repo defines the read operations needed by the service.
type Repo interface {
	Account(ctx context.Context, id uuid.UUID) (ledger.Account, error)
	Accounts(ctx context.Context) ([]ledger.Account, error)
	AccountBalance(ctx context.Context, id uuid.UUID) (int64, error)
	// EntriesByAccount returns the account's entries most-recent-first.
	EntriesByAccount(ctx context.Context, id uuid.UUID) ([]ledger.Entry, error)
}

// Writer defines the write operations needed by the service.
type Writer interface {
	CreateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error)
	SetAccountStatus(ctx context.Context, id uuid.UUID, status ledger.AccountStatus) error
}

type Service interface {
	Create(ctx context.Context, currency string) (ledger.Account, error)
	Get(ctx context.Context, id uuid.UUID) (ledger.Account, error)
	List(ctx context.Context) ([]ledger.Account, error)
	Balance(ctx context.Context, id uuid.UUID) (int64, error)
	Entries(ctx context.Context, id uuid.UUID) ([]ledger.Entry, error)
	Close(ctx context.Context, id uuid.UUID) error
}

type service struct {
	repo   Repo
	writer Writer
	now    func() time.Time
}

// New constructs the account service. Pass nil for the clock to use time.Now.
func New(repo Repo, writer Writer, now func() time.Time) Service {
	if now == nil {
		now = time.Now
	}
	return &service{repo: repo, writer: writer, now: now}
}

func (s *service) Create(ctx context.Context, currency string) (ledger.Account, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	if _, err := money.NewAmountFromMinorUnits(currency, 0); err != nil {
		return ledger.Account{}, fmt.Errorf("%w: unknown currency %q", errs.ErrInvalid, currency)
	}
	a := ledger.Account{
		ID:        uuid.New(),
		Currency:  currency,
		Status:    ledger.AccountStatusActive,
		CreatedAt: s.now().UTC(),
	}
	return s.writer.CreateAccount(ctx, a)
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	if id == uuid.Nil {
		return ledger.Account{}, errs.ErrInvalid
	}
	return s.repo.Account(ctx, id)
}

func (s *service) List(ctx context.Context) ([]ledger.Account, error) {
	return s.repo.Accounts(ctx)
}

// Balance verifies the account exists, then returns the derived sum over its
// entries. Read-only, no locking.
func (s *service) Balance(ctx context.Context, id uuid.UUID) (int64, error) {
	if id == uuid.Nil {
		return 0, errs.ErrInvalid
	}
	if _, err := s.repo.Account(ctx, id); err != nil {
		return 0, err
	}
	return s.repo.AccountBalance(ctx, id)
}

func (s *service) Entries(ctx context.Context, id uuid.UUID) ([]ledger.Entry, error) {
	if id == uuid.Nil {
		return nil, errs.ErrInvalid
	}
	if _, err := s.repo.Account(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.EntriesByAccount(ctx, id)
}

// Close flips the account to CLOSED. Closing is idempotent; the status is
// immutable once CLOSED.
func (s *service) Close(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return errs.ErrInvalid
	}
	acc, err := s.repo.Account(ctx, id)
	if err != nil {
		return err
	}
	if acc.Closed() {
		return nil
	}
	return s.writer.SetAccountStatus(ctx, id, ledger.AccountStatusClosed)
}
