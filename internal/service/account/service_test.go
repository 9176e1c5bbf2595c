package account

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hartwell/ledgerd/internal/errs"
	"github.com/hartwell/ledgerd/internal/ledger"
	"github.com/hartwell/ledgerd/internal/storage/memory"
)

func setup(t *testing.T) (*memory.Store, Service) {
	t.Helper()
	store := memory.New()
	return store, New(store, store, nil)
}

func TestCreate(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, "usd")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.Equal(t, "USD", a.Currency)
	assert.Equal(t, ledger.AccountStatusActive, a.Status)
	assert.False(t, a.CreatedAt.IsZero())

	// Blank currency falls back to the default.
	b, err := svc.Create(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultCurrency, b.Currency)

	_, err = svc.Create(ctx, "NOPE")
	require.ErrorIs(t, err, errs.ErrInvalid)
}

func TestGetAndList(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, "USD")
	require.NoError(t, err)
	b, err := svc.Create(ctx, "EUR")
	require.NoError(t, err)

	got, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = svc.Get(ctx, uuid.New())
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = svc.Get(ctx, uuid.Nil)
	require.ErrorIs(t, err, errs.ErrInvalid)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	ids := []uuid.UUID{all[0].ID, all[1].ID}
	assert.Contains(t, ids, a.ID)
	assert.Contains(t, ids, b.ID)
}

func TestBalanceAndEntries(t *testing.T) {
	store, svc := setup(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, "USD")
	require.NoError(t, err)

	balance, err := svc.Balance(ctx, a.ID)
	require.NoError(t, err)
	assert.Zero(t, balance, "new accounts start at zero")

	entries, err := svc.Entries(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = svc.Balance(ctx, uuid.New())
	require.ErrorIs(t, err, errs.ErrNotFound)

	// Post entries directly and read them back most recent first.
	txID := uuid.New()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.LockAccount(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, tx.CreateTransaction(ctx, ledger.Transaction{
		ID: txID, IdempotencyKey: "k1", Status: ledger.TransactionStatusCompleted, CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, tx.InsertEntries(ctx, []ledger.Entry{
		{ID: uuid.New(), TransactionID: txID, AccountID: a.ID, Amount: 700, CreatedAt: time.Now().UTC()},
		{ID: uuid.New(), TransactionID: txID, AccountID: a.ID, Amount: -200, CreatedAt: time.Now().UTC()},
	}))
	require.NoError(t, tx.Commit(ctx))

	balance, err = svc.Balance(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)

	entries, err = svc.Entries(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(-200), entries[0].Amount, "most recent entry first")
}

func TestClose(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, "USD")
	require.NoError(t, err)

	require.NoError(t, svc.Close(ctx, a.ID))
	got, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.AccountStatusClosed, got.Status)

	// Closing twice is a no-op.
	require.NoError(t, svc.Close(ctx, a.ID))

	require.ErrorIs(t, svc.Close(ctx, uuid.New()), errs.ErrNotFound)
}
