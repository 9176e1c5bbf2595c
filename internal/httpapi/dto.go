package httpapi

import (
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/hartwell/ledgerd/internal/ledger"
)

type postAccountRequest struct {
	Currency string `json:"currency"`
}

type accountResponse struct {
	ID        uuid.UUID            `json:"id"`
	Currency  string               `json:"currency"`
	Status    ledger.AccountStatus `json:"status"`
	CreatedAt time.Time            `json:"created_at"`
}

type balanceResponse struct {
	AccountID    uuid.UUID `json:"account_id"`
	Currency     string    `json:"currency"`
	BalanceMinor int64     `json:"balance_minor"`
	Balance      string    `json:"balance"`
}

type postDepositRequest struct {
	AccountID      uuid.UUID `json:"account_id"`
	AmountMinor    int64     `json:"amount_minor"`
	IdempotencyKey string    `json:"idempotency_key"`
}

type postTransferRequest struct {
	FromAccountID  uuid.UUID `json:"from_account_id"`
	ToAccountID    uuid.UUID `json:"to_account_id"`
	AmountMinor    int64     `json:"amount_minor"`
	IdempotencyKey string    `json:"idempotency_key"`
}

type legRequest struct {
	AccountID   uuid.UUID `json:"account_id"`
	AmountMinor int64     `json:"amount_minor"`
}

type postTransactionRequest struct {
	IdempotencyKey string       `json:"idempotency_key"`
	Entries        []legRequest `json:"entries"`
}

type transactionResponse struct {
	ID             uuid.UUID                `json:"id"`
	IdempotencyKey string                   `json:"idempotency_key"`
	Status         ledger.TransactionStatus `json:"status"`
	CreatedAt      time.Time                `json:"created_at"`
	ErrorReason    string                   `json:"error_reason,omitempty"`
	Entries        []entryResponse          `json:"entries,omitempty"`
}

type entryResponse struct {
	ID            uuid.UUID `json:"id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	AccountID     uuid.UUID `json:"account_id"`
	AmountMinor   int64     `json:"amount_minor"`
	CreatedAt     time.Time `json:"created_at"`
}

type integrityResponse struct {
	GlobalSumMinor int64       `json:"global_sum_minor"`
	Unbalanced     []uuid.UUID `json:"unbalanced_transactions"`
	Healthy        bool        `json:"healthy"`
}

func toAccountResponse(a ledger.Account) accountResponse {
	return accountResponse{ID: a.ID, Currency: a.Currency, Status: a.Status, CreatedAt: a.CreatedAt}
}

func toTransactionResponse(t ledger.Transaction, entries []ledger.Entry) transactionResponse {
	resp := transactionResponse{
		ID:             t.ID,
		IdempotencyKey: t.IdempotencyKey,
		Status:         t.Status,
		CreatedAt:      t.CreatedAt,
		ErrorReason:    t.ErrorReason,
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, toEntryResponse(e))
	}
	return resp
}

func toEntryResponse(e ledger.Entry) entryResponse {
	return entryResponse{
		ID:            e.ID,
		TransactionID: e.TransactionID,
		AccountID:     e.AccountID,
		AmountMinor:   e.Amount,
		CreatedAt:     e.CreatedAt,
	}
}

// formatMinor renders minor units as a display string in the account currency,
// e.g. 12345 USD as "USD 123.45". Falls back to empty on unknown currency.
func formatMinor(currency string, units int64) string {
	amt, err := money.NewAmountFromMinorUnits(currency, units)
	if err != nil {
		return ""
	}
	return amt.String()
}
