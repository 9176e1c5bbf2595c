package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hartwell/ledgerd/internal/config"
	"github.com/hartwell/ledgerd/internal/httpapi"
	"github.com/hartwell/ledgerd/internal/service/account"
	"github.com/hartwell/ledgerd/internal/service/engine"
	"github.com/hartwell/ledgerd/internal/storage/memory"
	pgstore "github.com/hartwell/ledgerd/internal/storage/postgres"
	sqlitestore "github.com/hartwell/ledgerd/internal/storage/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := buildLogger(cfg)
	slog.SetDefault(logger)

	var handler http.Handler
	var closeFn func()

	switch {
	case strings.TrimSpace(cfg.DatabaseURL) != "":
		pg, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "err", err)
			os.Exit(1)
		}
		closeFn = pg.Close
		eng := engine.New(pg, logger, nil)
		accounts := account.New(pg, pg, nil)
		handler = httpapi.New(eng, accounts, pg, pg, logger).Handler()
		logger.Info("storage backend: postgres")
	case strings.TrimSpace(cfg.SQLitePath) != "":
		db, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			logger.Error("failed to open sqlite database", "err", err, "path", cfg.SQLitePath)
			os.Exit(1)
		}
		closeFn = func() { _ = db.Close() }
		eng := engine.New(db, logger, nil)
		accounts := account.New(db, db, nil)
		handler = httpapi.New(eng, accounts, db, db, logger).Handler()
		logger.Info("storage backend: sqlite", "path", cfg.SQLitePath)
	default:
		store := memory.New()
		eng := engine.New(store, logger, nil)
		accounts := account.New(store, store, nil)
		handler = httpapi.New(eng, accounts, store, store, logger).Handler()
		logger.Info("storage backend: memory")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ledger service listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctxShutdown); err != nil {
			logger.Error("server shutdown error", "err", err)
		}
	case err := <-errCh:
		logger.Error("server error", "err", err)
	}
	if closeFn != nil {
		closeFn()
	}
}

// parseLogLevel maps env values to slog.Leveler
func parseLogLevel(s string) slog.Leveler {
	switch s {
	case "DEBUG", "debug":
		return slog.LevelDebug
	case "WARN", "WARNING", "warn", "warning":
		return slog.LevelWarn
	case "ERROR", "ERR", "error", "err":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildLogger(cfg config.Config) *slog.Logger {
	level := parseLogLevel(cfg.LogLevel)
	if strings.ToLower(strings.TrimSpace(cfg.LogFormat)) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	// default to JSON
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
