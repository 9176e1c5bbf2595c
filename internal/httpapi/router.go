// Package httpapi wires the HTTP surface of the ledger service.
// It keeps handlers thin, delegating business rules to the service layer.
package httpapi

import (
	"net/http"

	chi "github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"log/slog"

	"github.com/hartwell/ledgerd/internal/service/account"
	"github.com/hartwell/ledgerd/internal/service/engine"
)

// Server wires handlers and middleware using Chi.
type Server struct {
	engine     engine.Service
	accountSvc account.Service
	txReader   TransactionReader
	integrity  IntegrityReader
	log        *slog.Logger
	rt         *chi.Mux
}

// New constructs the HTTP server with routes and middleware.
// The logger is used by basic request/response logging and panic recovery.
func New(eng engine.Service, accountSvc account.Service, txReader TransactionReader, integrity IntegrityReader, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestLogger(logger))
	r.Use(recoverer(logger))
	r.Use(metricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	s := &Server{
		engine:     eng,
		accountSvc: accountSvc,
		txReader:   txReader,
		integrity:  integrity,
		rt:         r,
		log:        logger,
	}
	s.routes()
	return s
}

// Handler exposes the configured http.Handler.
func (s *Server) Handler() http.Handler { return s.rt }

// routes declares the public HTTP API endpoints.
func (s *Server) routes() {
	// Accounts
	s.rt.Post("/v1/accounts", s.postAccount)
	s.rt.Get("/v1/accounts", s.listAccounts)
	s.rt.Get("/v1/accounts/{id}", s.getAccount)
	s.rt.Get("/v1/accounts/{id}/balance", s.getAccountBalance)
	s.rt.Get("/v1/accounts/{id}/entries", s.getAccountEntries)
	s.rt.Delete("/v1/accounts/{id}", s.closeAccount)
	// Transactions
	s.rt.Post("/v1/transactions", s.postTransaction)
	s.rt.Post("/v1/transactions/deposit", s.postDeposit)
	s.rt.Post("/v1/transactions/withdraw", s.postWithdraw)
	s.rt.Post("/v1/transactions/transfer", s.postTransfer)
	s.rt.Get("/v1/transactions/{id}", s.getTransaction)
	// Audit
	s.rt.Get("/v1/ledger/integrity", s.getIntegrity)
	// Health and metrics (unversioned)
	s.rt.Get("/healthz", s.healthz)
	s.rt.Get("/readyz", s.readyz)
	s.rt.Handle("/metrics", metricsHandler())
}
