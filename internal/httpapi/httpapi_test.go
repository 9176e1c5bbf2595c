package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/hartwell/ledgerd/internal/service/account"
	"github.com/hartwell/ledgerd/internal/service/engine"
	"github.com/hartwell/ledgerd/internal/storage/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type acctResp struct {
	ID       string `json:"id"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type txResp struct {
	ID             string `json:"id"`
	IdempotencyKey string `json:"idempotency_key"`
	Status         string `json:"status"`
	ErrorReason    string `json:"error_reason"`
	Entries        []struct {
		AccountID   string `json:"account_id"`
		AmountMinor int64  `json:"amount_minor"`
	} `json:"entries"`
}

type errResp struct {
	Error         string `json:"error"`
	Code          string `json:"code"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

func setup(t *testing.T) http.Handler {
	t.Helper()
	store := memory.New()
	eng := engine.New(store, testLogger(), nil)
	accounts := account.New(store, store, nil)
	return New(eng, accounts, store, store, testLogger()).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createAccount(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/v1/accounts", map[string]any{"currency": "USD"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var a acctResp
	if err := json.Unmarshal(rec.Body.Bytes(), &a); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return a.ID
}

func deposit(t *testing.T, h http.Handler, accountID string, amount int64, key string) txResp {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/v1/transactions/deposit", map[string]any{
		"account_id": accountID, "amount_minor": amount, "idempotency_key": key,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("deposit: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var tx txResp
	if err := json.Unmarshal(rec.Body.Bytes(), &tx); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return tx
}

func TestAccountLifecycle(t *testing.T) {
	h := setup(t)
	id := createAccount(t, h)

	rec := do(t, h, http.MethodGet, "/v1/accounts/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var a acctResp
	if err := json.Unmarshal(rec.Body.Bytes(), &a); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if a.Currency != "USD" || a.Status != "ACTIVE" {
		t.Fatalf("unexpected account: %+v", a)
	}

	rec = do(t, h, http.MethodGet, "/v1/accounts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list []acctResp
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 account, got %d", len(list))
	}

	// Unknown account and malformed id
	rec = do(t, h, http.MethodGet, "/v1/accounts/"+uuid.NewString(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/v1/accounts/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	// Unknown currency
	rec = do(t, h, http.MethodPost, "/v1/accounts", map[string]any{"currency": "WAT"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDepositWithdrawBalance(t *testing.T) {
	h := setup(t)
	id := createAccount(t, h)

	tx := deposit(t, h, id, 5000, "dep-1")
	if tx.Status != "COMPLETED" || len(tx.Entries) != 1 || tx.Entries[0].AmountMinor != 5000 {
		t.Fatalf("unexpected transaction: %+v", tx)
	}

	rec := do(t, h, http.MethodPost, "/v1/transactions/withdraw", map[string]any{
		"account_id": id, "amount_minor": 1500, "idempotency_key": "wd-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/v1/accounts/"+id+"/balance", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var bal struct {
		BalanceMinor int64  `json:"balance_minor"`
		Currency     string `json:"currency"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &bal); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if bal.BalanceMinor != 3500 || bal.Currency != "USD" {
		t.Fatalf("unexpected balance: %+v", bal)
	}

	rec = do(t, h, http.MethodGet, "/v1/accounts/"+id+"/entries", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var entries []struct {
		AmountMinor int64 `json:"amount_minor"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 2 || entries[0].AmountMinor != -1500 {
		t.Fatalf("expected most recent entry first, got %+v", entries)
	}
}

func TestDuplicateReturns409(t *testing.T) {
	h := setup(t)
	id := createAccount(t, h)

	first := deposit(t, h, id, 5000, "dep-1")

	rec := do(t, h, http.MethodPost, "/v1/transactions/deposit", map[string]any{
		"account_id": id, "amount_minor": 5000, "idempotency_key": "dep-1",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	var e errResp
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Code != "DUPLICATE_REQUEST" || e.TransactionID != first.ID || e.Status != "COMPLETED" {
		t.Fatalf("unexpected duplicate payload: %+v", e)
	}
}

func TestInsufficientFundsReturns422(t *testing.T) {
	h := setup(t)
	id := createAccount(t, h)
	deposit(t, h, id, 1000, "dep-1")

	rec := do(t, h, http.MethodPost, "/v1/transactions/withdraw", map[string]any{
		"account_id": id, "amount_minor": 2000, "idempotency_key": "wd-1",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	var e errResp
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Code != "INSUFFICIENT_FUNDS" {
		t.Fatalf("unexpected code: %+v", e)
	}
}

func TestTransferAndGetTransaction(t *testing.T) {
	h := setup(t)
	from := createAccount(t, h)
	to := createAccount(t, h)
	deposit(t, h, from, 10000, "dep-1")

	rec := do(t, h, http.MethodPost, "/v1/transactions/transfer", map[string]any{
		"from_account_id": from, "to_account_id": to, "amount_minor": 4000, "idempotency_key": "tr-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var tx txResp
	if err := json.Unmarshal(rec.Body.Bytes(), &tx); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tx.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", tx)
	}

	rec = do(t, h, http.MethodGet, "/v1/transactions/"+tx.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got txResp
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.IdempotencyKey != "tr-1" || got.Status != "COMPLETED" || len(got.Entries) != 2 {
		t.Fatalf("unexpected transaction: %+v", got)
	}

	// Transfer to an unknown account
	rec = do(t, h, http.MethodPost, "/v1/transactions/transfer", map[string]any{
		"from_account_id": from, "to_account_id": uuid.NewString(), "amount_minor": 10, "idempotency_key": "tr-2",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMultiLegTransaction(t *testing.T) {
	h := setup(t)
	a := createAccount(t, h)
	b := createAccount(t, h)
	c := createAccount(t, h)
	deposit(t, h, a, 10000, "dep-1")

	rec := do(t, h, http.MethodPost, "/v1/transactions", map[string]any{
		"idempotency_key": "split-1",
		"entries": []map[string]any{
			{"account_id": a, "amount_minor": -3000},
			{"account_id": b, "amount_minor": 1000},
			{"account_id": c, "amount_minor": 2000},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var tx txResp
	if err := json.Unmarshal(rec.Body.Bytes(), &tx); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tx.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %+v", tx)
	}

	// Unbalanced set is rejected before any state changes.
	rec = do(t, h, http.MethodPost, "/v1/transactions", map[string]any{
		"idempotency_key": "bad-1",
		"entries": []map[string]any{
			{"account_id": a, "amount_minor": -3000},
			{"account_id": b, "amount_minor": 2999},
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestClosedAccountReturns422(t *testing.T) {
	h := setup(t)
	id := createAccount(t, h)
	deposit(t, h, id, 1000, "dep-1")

	rec := do(t, h, http.MethodDelete, "/v1/accounts/"+id, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodPost, "/v1/transactions/deposit", map[string]any{
		"account_id": id, "amount_minor": 100, "idempotency_key": "dep-2",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	var e errResp
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Code != "ACCOUNT_CLOSED" {
		t.Fatalf("unexpected code: %+v", e)
	}

	// History and balance remain readable.
	rec = do(t, h, http.MethodGet, "/v1/accounts/"+id+"/balance", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestIntegrityEndpoint(t *testing.T) {
	h := setup(t)
	a := createAccount(t, h)
	b := createAccount(t, h)
	deposit(t, h, a, 20000, "dep-a")
	deposit(t, h, b, 14000, "dep-b")

	rec := do(t, h, http.MethodPost, "/v1/transactions/transfer", map[string]any{
		"from_account_id": a, "to_account_id": b, "amount_minor": 5000, "idempotency_key": "tr-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/v1/ledger/integrity", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var integrity struct {
		GlobalSumMinor int64    `json:"global_sum_minor"`
		Unbalanced     []string `json:"unbalanced_transactions"`
		Healthy        bool     `json:"healthy"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &integrity); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if integrity.GlobalSumMinor != 34000 || !integrity.Healthy || len(integrity.Unbalanced) != 0 {
		t.Fatalf("unexpected integrity report: %+v", integrity)
	}
}

func TestHealthEndpoints(t *testing.T) {
	h := setup(t)
	if rec := do(t, h, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/readyz", nil); rec.Code != http.StatusOK {
		t.Fatalf("readyz: expected 200, got %d", rec.Code)
	}
}

func TestBadJSONReturns400(t *testing.T) {
	h := setup(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/transactions/deposit", bytes.NewReader([]byte("{nope")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	// Missing idempotency key
	rec = do(t, h, http.MethodPost, "/v1/transactions/deposit", map[string]any{
		"account_id": uuid.NewString(), "amount_minor": 100,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}
