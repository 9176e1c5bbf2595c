// Package postgres provides the pgx-backed store. Row-level pessimistic
// locking (SELECT ... FOR UPDATE) and the unique index on the idempotency key
// give the engine its exclusive holds and its last-line duplicate guard. The
// schema lives under db/migrations.
package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hartwell/ledgerd/internal/errs"
	"github.com/hartwell/ledgerd/internal/ledger"
	"github.com/hartwell/ledgerd/internal/service/engine"
)

// Store holds a pgx connection pool. All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// Open establishes a pgx pool using the provided connection string.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ready pings the pool to verify connectivity.
func (s *Store) Ready(ctx context.Context) error { return s.pool.Ping(ctx) }

// uniqueViolation is the Postgres error code for a unique constraint breach.
const uniqueViolation = "23505"

func isKeyConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation &&
		strings.Contains(pgErr.ConstraintName, "idempotency_key")
}

// --- unit of work ---

// Tx wraps a pgx transaction. Locks taken with FOR UPDATE are released by the
// database at Commit/Rollback.
type Tx struct {
	tx pgx.Tx
}

// Begin opens a read-committed transaction; the explicit row locks carry the
// serialization, not the isolation level.
func (s *Store) Begin(ctx context.Context) (engine.Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (t *Tx) TransactionByKey(ctx context.Context, key string) (ledger.Transaction, bool, error) {
	return scanTransactionByKey(ctx, t.tx, key)
}

func (t *Tx) LockAccount(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	var a ledger.Account
	err := t.tx.QueryRow(ctx, `
        select id, currency, status, created_at
        from accounts
        where id = $1
        for update
    `, id).Scan(&a.ID, &a.Currency, &a.Status, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Account{}, errs.ErrNotFound
	}
	if err != nil {
		return ledger.Account{}, err
	}
	return a, nil
}

func (t *Tx) CreateTransaction(ctx context.Context, record ledger.Transaction) error {
	_, err := t.tx.Exec(ctx, `
        insert into transactions (id, idempotency_key, status, created_at, error_reason)
        values ($1, $2, $3, $4, nullif($5, ''))
    `, record.ID, record.IdempotencyKey, record.Status, record.CreatedAt, record.ErrorReason)
	if isKeyConflict(err) {
		return errs.ErrDuplicateIdempotencyKey
	}
	return err
}

func (t *Tx) SetTransactionStatus(ctx context.Context, id uuid.UUID, status ledger.TransactionStatus, reason string) error {
	ct, err := t.tx.Exec(ctx, `
        update transactions set status = $1, error_reason = nullif($2, '') where id = $3
    `, status, reason, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (t *Tx) InsertEntries(ctx context.Context, entries []ledger.Entry) error {
	for _, e := range entries {
		if _, err := t.tx.Exec(ctx, `
            insert into ledger_entries (id, transaction_id, account_id, amount, created_at)
            values ($1, $2, $3, $4, $5)
        `, e.ID, e.TransactionID, e.AccountID, e.Amount, e.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) AccountBalance(ctx context.Context, id uuid.UUID) (int64, error) {
	var sum int64
	err := t.tx.QueryRow(ctx, `
        select coalesce(sum(amount), 0) from ledger_entries where account_id = $1
    `, id).Scan(&sum)
	return sum, err
}

func (t *Tx) EntriesByTransaction(ctx context.Context, txID uuid.UUID) ([]ledger.Entry, error) {
	rows, err := t.tx.Query(ctx, `
        select id, transaction_id, account_id, amount, created_at
        from ledger_entries
        where transaction_id = $1
        order by created_at asc, id asc
    `, txID)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func (t *Tx) Commit(ctx context.Context) error {
	err := t.tx.Commit(ctx)
	if isKeyConflict(err) {
		return errs.ErrDuplicateIdempotencyKey
	}
	return err
}

func (t *Tx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// --- accounts ---

func (s *Store) CreateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	_, err := s.pool.Exec(ctx, `
        insert into accounts (id, currency, status, created_at)
        values ($1, $2, $3, $4)
    `, a.ID, a.Currency, a.Status, a.CreatedAt)
	if err != nil {
		return ledger.Account{}, err
	}
	return a, nil
}

func (s *Store) Account(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	var a ledger.Account
	err := s.pool.QueryRow(ctx, `
        select id, currency, status, created_at from accounts where id = $1
    `, id).Scan(&a.ID, &a.Currency, &a.Status, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Account{}, errs.ErrNotFound
	}
	if err != nil {
		return ledger.Account{}, err
	}
	return a, nil
}

func (s *Store) Accounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := s.pool.Query(ctx, `
        select id, currency, status, created_at from accounts order by created_at asc, id asc
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.Account, 0)
	for rows.Next() {
		var a ledger.Account
		if err := rows.Scan(&a.ID, &a.Currency, &a.Status, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SetAccountStatus(ctx context.Context, id uuid.UUID, status ledger.AccountStatus) error {
	ct, err := s.pool.Exec(ctx, `update accounts set status = $1 where id = $2`, status, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (s *Store) AccountBalance(ctx context.Context, id uuid.UUID) (int64, error) {
	var sum int64
	err := s.pool.QueryRow(ctx, `
        select coalesce(sum(amount), 0) from ledger_entries where account_id = $1
    `, id).Scan(&sum)
	return sum, err
}

func (s *Store) EntriesByAccount(ctx context.Context, id uuid.UUID) ([]ledger.Entry, error) {
	rows, err := s.pool.Query(ctx, `
        select id, transaction_id, account_id, amount, created_at
        from ledger_entries
        where account_id = $1
        order by created_at desc, id desc
    `, id)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// --- transactions ---

func (s *Store) TransactionByKey(ctx context.Context, key string) (ledger.Transaction, bool, error) {
	return scanTransactionByKey(ctx, s.pool, key)
}

func (s *Store) Transaction(ctx context.Context, id uuid.UUID) (ledger.Transaction, error) {
	var record ledger.Transaction
	var reason *string
	err := s.pool.QueryRow(ctx, `
        select id, idempotency_key, status, created_at, error_reason
        from transactions where id = $1
    `, id).Scan(&record.ID, &record.IdempotencyKey, &record.Status, &record.CreatedAt, &reason)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Transaction{}, errs.ErrNotFound
	}
	if err != nil {
		return ledger.Transaction{}, err
	}
	if reason != nil {
		record.ErrorReason = *reason
	}
	return record, nil
}

func (s *Store) EntriesByTransaction(ctx context.Context, txID uuid.UUID) ([]ledger.Entry, error) {
	rows, err := s.pool.Query(ctx, `
        select id, transaction_id, account_id, amount, created_at
        from ledger_entries
        where transaction_id = $1
        order by created_at asc, id asc
    `, txID)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// --- integrity ---

func (s *Store) GlobalSum(ctx context.Context) (int64, error) {
	var sum int64
	err := s.pool.QueryRow(ctx, `select coalesce(sum(amount), 0) from ledger_entries`).Scan(&sum)
	return sum, err
}

func (s *Store) UnbalancedTransactions(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
        select transaction_id
        from ledger_entries
        group by transaction_id
        having count(*) >= 2 and sum(amount) <> 0
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// --- helpers ---

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanTransactionByKey(ctx context.Context, q rowQuerier, key string) (ledger.Transaction, bool, error) {
	var record ledger.Transaction
	var reason *string
	err := q.QueryRow(ctx, `
        select id, idempotency_key, status, created_at, error_reason
        from transactions where idempotency_key = $1
    `, key).Scan(&record.ID, &record.IdempotencyKey, &record.Status, &record.CreatedAt, &reason)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Transaction{}, false, nil
	}
	if err != nil {
		return ledger.Transaction{}, false, err
	}
	if reason != nil {
		record.ErrorReason = *reason
	}
	return record, true, nil
}

func scanEntries(rows pgx.Rows) ([]ledger.Entry, error) {
	defer rows.Close()
	out := make([]ledger.Entry, 0)
	for rows.Next() {
		var e ledger.Entry
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.AccountID, &e.Amount, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
