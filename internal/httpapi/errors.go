package httpapi

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/hartwell/ledgerd/internal/errs"
	"github.com/hartwell/ledgerd/internal/ledger"
)

// errorResponse is the standard error payload for the API.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// duplicateResponse is returned for idempotency-key replays. The body points
// the caller at the transaction the key already resolved to.
type duplicateResponse struct {
	Error         string                   `json:"error"`
	Code          string                   `json:"code"`
	TransactionID uuid.UUID                `json:"transaction_id"`
	Status        ledger.TransactionStatus `json:"status"`
}

func writeErr(w http.ResponseWriter, status int, msg, code string) {
	toJSON(w, status, errorResponse{Error: msg, Code: code})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeErr(w, http.StatusBadRequest, msg, "BAD_REQUEST")
}

func notFound(w http.ResponseWriter) {
	writeErr(w, http.StatusNotFound, "account not found", "ACCOUNT_NOT_FOUND")
}

// writeDomainErr maps service errors onto the API's status and code surface.
func writeDomainErr(w http.ResponseWriter, err error) {
	var dup *errs.DuplicateRequestError
	if errors.As(err, &dup) {
		toJSON(w, http.StatusConflict, duplicateResponse{
			Error:         "idempotency key already used",
			Code:          "DUPLICATE_REQUEST",
			TransactionID: dup.TransactionID,
			Status:        dup.Status,
		})
		return
	}
	var insufficient *errs.InsufficientFundsError
	if errors.As(err, &insufficient) {
		writeErr(w, http.StatusUnprocessableEntity, err.Error(), "INSUFFICIENT_FUNDS")
		return
	}
	switch {
	case errors.Is(err, errs.ErrInvalid):
		badRequest(w, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		notFound(w)
	case errors.Is(err, errs.ErrAccountClosed):
		writeErr(w, http.StatusUnprocessableEntity, err.Error(), "ACCOUNT_CLOSED")
	case errors.Is(err, errs.ErrInsufficientFunds):
		writeErr(w, http.StatusUnprocessableEntity, err.Error(), "INSUFFICIENT_FUNDS")
	case errors.Is(err, errs.ErrConflict):
		writeErr(w, http.StatusConflict, err.Error(), "DUPLICATE_REQUEST")
	default:
		writeErr(w, http.StatusInternalServerError, "internal error", "INTERNAL_ERROR")
	}
}
