// Package memory provides an in-memory store used for development and tests.
// It implements the same unit-of-work contract as the SQL-backed stores:
// per-account mutexes stand in for row locks, and writes are staged until
// Commit so no intermediate state is visible to concurrent operations.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/hartwell/ledgerd/internal/errs"
	"github.com/hartwell/ledgerd/internal/ledger"
	"github.com/hartwell/ledgerd/internal/service/engine"
)

// Store keeps all state behind a single RWMutex. Account mutexes are created
// lazily and only ever acquired through Tx.LockAccount, which the engine
// calls in sorted id order; that ordering is what rules out deadlock.
type Store struct {
	mu          sync.RWMutex
	accounts    map[uuid.UUID]ledger.Account
	txs         map[uuid.UUID]ledger.Transaction
	txByKey     map[string]uuid.UUID
	keyReserved map[string]struct{}
	entries     []ledger.Entry
	locks       map[uuid.UUID]*sync.Mutex
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		accounts:    make(map[uuid.UUID]ledger.Account),
		txs:         make(map[uuid.UUID]ledger.Transaction),
		txByKey:     make(map[string]uuid.UUID),
		keyReserved: make(map[string]struct{}),
		locks:       make(map[uuid.UUID]*sync.Mutex),
	}
}

// SeedAccount inserts an account directly, for tests.
func (s *Store) SeedAccount(a ledger.Account) {
	s.mu.Lock()
	s.accounts[a.ID] = a
	s.mu.Unlock()
}

// Reset drops all state, for tests.
func (s *Store) Reset() {
	s.mu.Lock()
	s.accounts = map[uuid.UUID]ledger.Account{}
	s.txs = map[uuid.UUID]ledger.Transaction{}
	s.txByKey = map[string]uuid.UUID{}
	s.keyReserved = map[string]struct{}{}
	s.entries = nil
	s.locks = map[uuid.UUID]*sync.Mutex{}
	s.mu.Unlock()
}

// --- unit of work ---

// Tx stages writes and holds account locks until Commit or Rollback.
type Tx struct {
	s             *Store
	held          []*sync.Mutex
	staged        map[uuid.UUID]ledger.Transaction
	stagedOrder   []uuid.UUID
	stagedEntries []ledger.Entry
	reserved      []string
	done          bool
}

// Begin opens a unit of work.
func (s *Store) Begin(_ context.Context) (engine.Tx, error) {
	return &Tx{s: s, staged: make(map[uuid.UUID]ledger.Transaction)}, nil
}

// TransactionByKey reads committed state only; the staged writes of other
// units of work are never visible.
func (t *Tx) TransactionByKey(ctx context.Context, key string) (ledger.Transaction, bool, error) {
	return t.s.TransactionByKey(ctx, key)
}

// LockAccount blocks until the account's mutex is available, then reads the
// account. The mutex is held even when the account does not exist, so a
// failed operation still releases everything through Rollback.
func (t *Tx) LockAccount(_ context.Context, id uuid.UUID) (ledger.Account, error) {
	t.s.mu.Lock()
	l, ok := t.s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		t.s.locks[id] = l
	}
	t.s.mu.Unlock()

	l.Lock() // the only blocking point in the protocol
	t.held = append(t.held, l)

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	acc, ok := t.s.accounts[id]
	if !ok {
		return ledger.Account{}, errs.ErrNotFound
	}
	return acc, nil
}

// CreateTransaction stages the row and reserves its idempotency key. The
// reservation is the in-memory analogue of the unique constraint: the second
// of two racing writers fails here, immediately rather than at Commit.
func (t *Tx) CreateTransaction(_ context.Context, record ledger.Transaction) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.txByKey[record.IdempotencyKey]; ok {
		return errs.ErrDuplicateIdempotencyKey
	}
	if _, ok := t.s.keyReserved[record.IdempotencyKey]; ok {
		return errs.ErrDuplicateIdempotencyKey
	}
	t.s.keyReserved[record.IdempotencyKey] = struct{}{}
	t.reserved = append(t.reserved, record.IdempotencyKey)
	t.staged[record.ID] = record
	t.stagedOrder = append(t.stagedOrder, record.ID)
	return nil
}

func (t *Tx) SetTransactionStatus(_ context.Context, id uuid.UUID, status ledger.TransactionStatus, reason string) error {
	record, ok := t.staged[id]
	if !ok {
		return fmt.Errorf("%w: transaction %s not in this unit of work", errs.ErrNotFound, id)
	}
	record.Status = status
	record.ErrorReason = reason
	t.staged[id] = record
	return nil
}

func (t *Tx) InsertEntries(_ context.Context, entries []ledger.Entry) error {
	t.stagedEntries = append(t.stagedEntries, entries...)
	return nil
}

// AccountBalance sums committed entries. The engine checks balances before
// staging any entries of its own, so committed state is the correct view.
func (t *Tx) AccountBalance(ctx context.Context, id uuid.UUID) (int64, error) {
	return t.s.AccountBalance(ctx, id)
}

// EntriesByTransaction merges committed entries with this unit of work's
// staged ones, so the engine's zero-sum re-read sees its own writes.
func (t *Tx) EntriesByTransaction(_ context.Context, txID uuid.UUID) ([]ledger.Entry, error) {
	t.s.mu.RLock()
	out := make([]ledger.Entry, 0, 4)
	for _, e := range t.s.entries {
		if e.TransactionID == txID {
			out = append(out, e)
		}
	}
	t.s.mu.RUnlock()
	for _, e := range t.stagedEntries {
		if e.TransactionID == txID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *Tx) Commit(_ context.Context) error {
	if t.done {
		return nil
	}
	t.s.mu.Lock()
	for _, id := range t.stagedOrder {
		record := t.staged[id]
		t.s.txs[id] = record
		t.s.txByKey[record.IdempotencyKey] = id
	}
	for _, key := range t.reserved {
		delete(t.s.keyReserved, key)
	}
	t.s.entries = append(t.s.entries, t.stagedEntries...)
	t.s.mu.Unlock()
	t.release()
	return nil
}

func (t *Tx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.s.mu.Lock()
	for _, key := range t.reserved {
		delete(t.s.keyReserved, key)
	}
	t.s.mu.Unlock()
	t.release()
	return nil
}

func (t *Tx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.held[i].Unlock()
	}
	t.held = nil
	t.done = true
}

// --- accounts ---

func (s *Store) CreateAccount(_ context.Context, a ledger.Account) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; ok {
		return ledger.Account{}, errs.ErrConflict
	}
	s.accounts[a.ID] = a
	return a, nil
}

func (s *Store) Account(_ context.Context, id uuid.UUID) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return ledger.Account{}, errs.ErrNotFound
	}
	return a, nil
}

func (s *Store) Accounts(_ context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) SetAccountStatus(_ context.Context, id uuid.UUID, status ledger.AccountStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return errs.ErrNotFound
	}
	a.Status = status
	s.accounts[id] = a
	return nil
}

func (s *Store) AccountBalance(_ context.Context, id uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum int64
	for _, e := range s.entries {
		if e.AccountID == id {
			sum += e.Amount
		}
	}
	return sum, nil
}

// EntriesByAccount returns committed entries for the account, most recent
// first (entries are appended in commit order).
func (s *Store) EntriesByAccount(_ context.Context, id uuid.UUID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Entry, 0)
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].AccountID == id {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

// --- transactions ---

func (s *Store) TransactionByKey(_ context.Context, key string) (ledger.Transaction, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.txByKey[key]
	if !ok {
		return ledger.Transaction{}, false, nil
	}
	return s.txs[id], true, nil
}

func (s *Store) Transaction(_ context.Context, id uuid.UUID) (ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.txs[id]
	if !ok {
		return ledger.Transaction{}, errs.ErrNotFound
	}
	return record, nil
}

func (s *Store) EntriesByTransaction(_ context.Context, txID uuid.UUID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Entry, 0, 4)
	for _, e := range s.entries {
		if e.TransactionID == txID {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- integrity ---

// GlobalSum returns the sum of every entry ever posted. It equals net
// deposits minus withdrawals; internal transfers cancel out.
func (s *Store) GlobalSum(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum int64
	for _, e := range s.entries {
		sum += e.Amount
	}
	return sum, nil
}

// UnbalancedTransactions returns ids of transactions with two or more
// entries whose amounts do not sum to zero. A non-empty result indicates a
// defect, never a business condition.
func (s *Store) UnbalancedTransactions(_ context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sums := make(map[uuid.UUID]int64)
	counts := make(map[uuid.UUID]int)
	for _, e := range s.entries {
		sums[e.TransactionID] += e.Amount
		counts[e.TransactionID]++
	}
	out := make([]uuid.UUID, 0)
	for id, sum := range sums {
		if counts[id] >= 2 && sum != 0 {
			out = append(out, id)
		}
	}
	return out, nil
}
