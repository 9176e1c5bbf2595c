package httpapi

import (
	"encoding/json"
	"net/http"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hartwell/ledgerd/internal/ledger"
)

// POST /v1/transactions posts an arbitrary balanced set of entries.
func (s *Server) postTransaction(w http.ResponseWriter, r *http.Request) {
	var req postTransactionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		badRequest(w, "invalid JSON: "+err.Error())
		return
	}
	legs := make([]ledger.Leg, 0, len(req.Entries))
	for _, e := range req.Entries {
		legs = append(legs, ledger.Leg{AccountID: e.AccountID, Amount: e.AmountMinor})
	}
	record, err := s.engine.Process(r.Context(), ledger.Request{
		IdempotencyKey: req.IdempotencyKey,
		Legs:           legs,
	})
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	s.writeTransaction(w, r, record)
}

// POST /v1/transactions/deposit
func (s *Server) postDeposit(w http.ResponseWriter, r *http.Request) {
	var req postDepositRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		badRequest(w, "invalid JSON: "+err.Error())
		return
	}
	record, err := s.engine.Deposit(r.Context(), req.AccountID, req.AmountMinor, req.IdempotencyKey)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	s.writeTransaction(w, r, record)
}

// POST /v1/transactions/withdraw
func (s *Server) postWithdraw(w http.ResponseWriter, r *http.Request) {
	var req postDepositRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		badRequest(w, "invalid JSON: "+err.Error())
		return
	}
	record, err := s.engine.Withdraw(r.Context(), req.AccountID, req.AmountMinor, req.IdempotencyKey)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	s.writeTransaction(w, r, record)
}

// POST /v1/transactions/transfer
func (s *Server) postTransfer(w http.ResponseWriter, r *http.Request) {
	var req postTransferRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		badRequest(w, "invalid JSON: "+err.Error())
		return
	}
	record, err := s.engine.Transfer(r.Context(), req.FromAccountID, req.ToAccountID, req.AmountMinor, req.IdempotencyKey)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	s.writeTransaction(w, r, record)
}

// GET /v1/transactions/{id}
func (s *Server) getTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid transaction id")
		return
	}
	record, err := s.txReader.Transaction(r.Context(), id)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	entries, err := s.txReader.EntriesByTransaction(r.Context(), id)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toTransactionResponse(record, entries))
}

func (s *Server) writeTransaction(w http.ResponseWriter, r *http.Request, record ledger.Transaction) {
	entries, err := s.txReader.EntriesByTransaction(r.Context(), record.ID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusCreated, toTransactionResponse(record, entries))
}
