package httpapi

import (
	"context"

	"github.com/google/uuid"

	"github.com/hartwell/ledgerd/internal/ledger"
)

// TransactionReader abstracts read-side transaction lookups needed by the API.
type TransactionReader interface {
	// Transaction returns the transaction record by id.
	Transaction(ctx context.Context, id uuid.UUID) (ledger.Transaction, error)
	// EntriesByTransaction returns the entries posted under a transaction.
	EntriesByTransaction(ctx context.Context, txID uuid.UUID) ([]ledger.Entry, error)
}

// IntegrityReader abstracts the whole-ledger audit queries.
type IntegrityReader interface {
	// GlobalSum returns the sum of every entry amount in the ledger.
	GlobalSum(ctx context.Context) (int64, error)
	// UnbalancedTransactions returns ids of multi-entry transactions whose
	// entries do not sum to zero. A healthy ledger returns none.
	UnbalancedTransactions(ctx context.Context) ([]uuid.UUID, error)
}
