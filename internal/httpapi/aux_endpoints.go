package httpapi

import (
	"context"
	"net/http"
	"time"
)

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// If the underlying store implements ReadyChecker, call it with a short timeout.
	type readyIf interface{ Ready(context.Context) error }
	ctx, cancel := context.WithTimeout(r.Context(), 800*time.Millisecond)
	defer cancel()
	if rc, ok := any(s.txReader).(readyIf); ok {
		if err := rc.Ready(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

// GET /v1/ledger/integrity audits the whole ledger. Every multi-entry
// transaction must balance to zero; the global sum is reported as the net
// external flow (deposits minus withdrawals) for reconciliation.
func (s *Server) getIntegrity(w http.ResponseWriter, r *http.Request) {
	sum, err := s.integrity.GlobalSum(r.Context())
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	unbalanced, err := s.integrity.UnbalancedTransactions(r.Context())
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, integrityResponse{
		GlobalSumMinor: sum,
		Unbalanced:     unbalanced,
		Healthy:        len(unbalanced) == 0,
	})
}
