// Package sqlite provides a single-node durable store on SQLite. There are
// no row locks here: the DSN opts into immediate transactions, so a unit of
// work holds the database write lock from Begin and writers are fully
// serialized. WAL mode keeps readers unblocked and covers crash recovery.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/hartwell/ledgerd/internal/errs"
	"github.com/hartwell/ledgerd/internal/ledger"
	"github.com/hartwell/ledgerd/internal/service/engine"
)

// Store implements the engine and read-side storage contracts over a SQLite
// database file. Use ":memory:" for a throwaway database.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the database and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single writer at a time; database/sql must not hand the write lock to
	// two pooled connections.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Ready verifies the database answers.
func (s *Store) Ready(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) migrate() error {
	schema := `
    create table if not exists accounts (
        id         text primary key,
        currency   text not null,
        status     text not null,
        created_at timestamp not null
    );

    create table if not exists transactions (
        id              text primary key,
        idempotency_key text not null unique,
        status          text not null,
        created_at      timestamp not null,
        error_reason    text not null default ''
    );

    create table if not exists ledger_entries (
        id             text primary key,
        transaction_id text not null references transactions (id),
        account_id     text not null references accounts (id),
        amount         integer not null,
        created_at     timestamp not null
    );

    create index if not exists idx_entries_account on ledger_entries (account_id);
    create index if not exists idx_entries_transaction on ledger_entries (transaction_id);
    `
	_, err := s.db.Exec(schema)
	return err
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// --- unit of work ---

// Tx wraps a SQL transaction. The immediate write lock plays the role the
// per-row FOR UPDATE locks play in Postgres.
type Tx struct {
	tx *sql.Tx
}

func (s *Store) Begin(ctx context.Context) (engine.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (t *Tx) TransactionByKey(ctx context.Context, key string) (ledger.Transaction, bool, error) {
	return scanTransactionByKey(ctx, t.tx, key)
}

// LockAccount verifies existence and reads the row; exclusivity comes from
// the transaction itself.
func (t *Tx) LockAccount(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	return scanAccount(ctx, t.tx, id)
}

func (t *Tx) CreateTransaction(ctx context.Context, record ledger.Transaction) error {
	_, err := t.tx.ExecContext(ctx, `
        insert into transactions (id, idempotency_key, status, created_at, error_reason)
        values (?, ?, ?, ?, ?)
    `, record.ID.String(), record.IdempotencyKey, record.Status, record.CreatedAt, record.ErrorReason)
	if isUniqueViolation(err) {
		return errs.ErrDuplicateIdempotencyKey
	}
	return err
}

func (t *Tx) SetTransactionStatus(ctx context.Context, id uuid.UUID, status ledger.TransactionStatus, reason string) error {
	res, err := t.tx.ExecContext(ctx, `
        update transactions set status = ?, error_reason = ? where id = ?
    `, status, reason, id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (t *Tx) InsertEntries(ctx context.Context, entries []ledger.Entry) error {
	for _, e := range entries {
		if _, err := t.tx.ExecContext(ctx, `
            insert into ledger_entries (id, transaction_id, account_id, amount, created_at)
            values (?, ?, ?, ?, ?)
        `, e.ID.String(), e.TransactionID.String(), e.AccountID.String(), e.Amount, e.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) AccountBalance(ctx context.Context, id uuid.UUID) (int64, error) {
	var sum int64
	err := t.tx.QueryRowContext(ctx, `
        select coalesce(sum(amount), 0) from ledger_entries where account_id = ?
    `, id.String()).Scan(&sum)
	return sum, err
}

func (t *Tx) EntriesByTransaction(ctx context.Context, txID uuid.UUID) ([]ledger.Entry, error) {
	rows, err := t.tx.QueryContext(ctx, `
        select id, transaction_id, account_id, amount, created_at
        from ledger_entries where transaction_id = ?
        order by created_at asc, id asc
    `, txID.String())
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func (t *Tx) Commit(_ context.Context) error {
	err := t.tx.Commit()
	if isUniqueViolation(err) {
		return errs.ErrDuplicateIdempotencyKey
	}
	return err
}

func (t *Tx) Rollback(_ context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// --- accounts ---

func (s *Store) CreateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	_, err := s.db.ExecContext(ctx, `
        insert into accounts (id, currency, status, created_at) values (?, ?, ?, ?)
    `, a.ID.String(), a.Currency, a.Status, a.CreatedAt)
	if err != nil {
		return ledger.Account{}, err
	}
	return a, nil
}

func (s *Store) Account(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	return scanAccount(ctx, s.db, id)
}

func (s *Store) Accounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
        select id, currency, status, created_at from accounts order by created_at asc, id asc
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.Account, 0)
	for rows.Next() {
		var a ledger.Account
		var id string
		if err := rows.Scan(&id, &a.Currency, &a.Status, &a.CreatedAt); err != nil {
			return nil, err
		}
		if a.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SetAccountStatus(ctx context.Context, id uuid.UUID, status ledger.AccountStatus) error {
	res, err := s.db.ExecContext(ctx, `update accounts set status = ? where id = ?`, status, id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (s *Store) AccountBalance(ctx context.Context, id uuid.UUID) (int64, error) {
	var sum int64
	err := s.db.QueryRowContext(ctx, `
        select coalesce(sum(amount), 0) from ledger_entries where account_id = ?
    `, id.String()).Scan(&sum)
	return sum, err
}

func (s *Store) EntriesByAccount(ctx context.Context, id uuid.UUID) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
        select id, transaction_id, account_id, amount, created_at
        from ledger_entries where account_id = ?
        order by created_at desc, id desc
    `, id.String())
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// --- transactions ---

func (s *Store) TransactionByKey(ctx context.Context, key string) (ledger.Transaction, bool, error) {
	return scanTransactionByKey(ctx, s.db, key)
}

func (s *Store) Transaction(ctx context.Context, id uuid.UUID) (ledger.Transaction, error) {
	var record ledger.Transaction
	var rid string
	err := s.db.QueryRowContext(ctx, `
        select id, idempotency_key, status, created_at, error_reason
        from transactions where id = ?
    `, id.String()).Scan(&rid, &record.IdempotencyKey, &record.Status, &record.CreatedAt, &record.ErrorReason)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, errs.ErrNotFound
	}
	if err != nil {
		return ledger.Transaction{}, err
	}
	record.ID, err = uuid.Parse(rid)
	return record, err
}

func (s *Store) EntriesByTransaction(ctx context.Context, txID uuid.UUID) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
        select id, transaction_id, account_id, amount, created_at
        from ledger_entries where transaction_id = ?
        order by created_at asc, id asc
    `, txID.String())
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// --- integrity ---

func (s *Store) GlobalSum(ctx context.Context) (int64, error) {
	var sum int64
	err := s.db.QueryRowContext(ctx, `select coalesce(sum(amount), 0) from ledger_entries`).Scan(&sum)
	return sum, err
}

func (s *Store) UnbalancedTransactions(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
        select transaction_id from ledger_entries
        group by transaction_id
        having count(*) >= 2 and sum(amount) <> 0
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]uuid.UUID, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// --- helpers ---

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanAccount(ctx context.Context, q querier, id uuid.UUID) (ledger.Account, error) {
	var a ledger.Account
	var raw string
	err := q.QueryRowContext(ctx, `
        select id, currency, status, created_at from accounts where id = ?
    `, id.String()).Scan(&raw, &a.Currency, &a.Status, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, errs.ErrNotFound
	}
	if err != nil {
		return ledger.Account{}, err
	}
	a.ID, err = uuid.Parse(raw)
	return a, err
}

func scanTransactionByKey(ctx context.Context, q querier, key string) (ledger.Transaction, bool, error) {
	var record ledger.Transaction
	var rid string
	err := q.QueryRowContext(ctx, `
        select id, idempotency_key, status, created_at, error_reason
        from transactions where idempotency_key = ?
    `, key).Scan(&rid, &record.IdempotencyKey, &record.Status, &record.CreatedAt, &record.ErrorReason)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, false, nil
	}
	if err != nil {
		return ledger.Transaction{}, false, err
	}
	record.ID, err = uuid.Parse(rid)
	if err != nil {
		return ledger.Transaction{}, false, err
	}
	return record, true, nil
}

func scanEntries(rows *sql.Rows) ([]ledger.Entry, error) {
	defer rows.Close()
	out := make([]ledger.Entry, 0)
	for rows.Next() {
		var e ledger.Entry
		var id, txID, accID string
		if err := rows.Scan(&id, &txID, &accID, &e.Amount, &e.CreatedAt); err != nil {
			return nil, err
		}
		var err error
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if e.TransactionID, err = uuid.Parse(txID); err != nil {
			return nil, err
		}
		if e.AccountID, err = uuid.Parse(accID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
