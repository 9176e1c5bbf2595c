package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hartwell/ledgerd/internal/errs"
	"github.com/hartwell/ledgerd/internal/ledger"
	"github.com/hartwell/ledgerd/internal/service/engine"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createAccount(t *testing.T, s *Store) ledger.Account {
	t.Helper()
	a, err := s.CreateAccount(context.Background(), ledger.Account{
		ID: uuid.New(), Currency: "USD", Status: ledger.AccountStatusActive, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return a
}

func TestOpenMigratesAndReady(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.Ready(context.Background()))

	// Re-running the migration on an existing file is harmless.
	require.NoError(t, s.migrate())
}

func TestEngineRoundTrip(t *testing.T) {
	s := openTest(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := engine.New(s, logger, nil)
	ctx := context.Background()

	from := createAccount(t, s)
	to := createAccount(t, s)

	_, err := svc.Deposit(ctx, from.ID, 10000, "dep-1")
	require.NoError(t, err)

	record, err := svc.Transfer(ctx, from.ID, to.ID, 2500, "tr-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.TransactionStatusCompleted, record.Status)

	fromBal, err := s.AccountBalance(ctx, from.ID)
	require.NoError(t, err)
	toBal, err := s.AccountBalance(ctx, to.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7500), fromBal)
	assert.Equal(t, int64(2500), toBal)

	// Reads survive reopening the file.
	got, err := s.Transaction(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "tr-1", got.IdempotencyKey)

	entries, err := s.EntriesByTransaction(ctx, record.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestDuplicateKeyMapsToSentinel(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.CreateTransaction(ctx, ledger.Transaction{
		ID: uuid.New(), IdempotencyKey: "k1", Status: ledger.TransactionStatusCompleted, CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, tx.Commit(ctx))

	tx2, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx2.Rollback(ctx)
	err = tx2.CreateTransaction(ctx, ledger.Transaction{
		ID: uuid.New(), IdempotencyKey: "k1", Status: ledger.TransactionStatusCompleted, CreatedAt: time.Now().UTC(),
	})
	require.ErrorIs(t, err, errs.ErrDuplicateIdempotencyKey)
}

func TestNotFound(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	_, err := s.Account(ctx, uuid.New())
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = s.Transaction(ctx, uuid.New())
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.ErrorIs(t, s.SetAccountStatus(ctx, uuid.New(), ledger.AccountStatusClosed), errs.ErrNotFound)

	_, ok, err := s.TransactionByKey(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFailedAttemptPersists(t *testing.T) {
	s := openTest(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := engine.New(s, logger, nil)
	ctx := context.Background()

	acc := createAccount(t, s)
	_, err := svc.Deposit(ctx, acc.ID, 1000, "dep-1")
	require.NoError(t, err)

	_, err = svc.Withdraw(ctx, acc.ID, 2000, "wd-1")
	require.ErrorIs(t, err, errs.ErrInsufficientFunds)

	record, ok, err := s.TransactionByKey(ctx, "wd-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ledger.TransactionStatusFailed, record.Status)
	assert.NotEmpty(t, record.ErrorReason)

	entries, err := s.EntriesByTransaction(ctx, record.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
