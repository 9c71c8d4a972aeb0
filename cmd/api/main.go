package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcclellann/coopledger/pkg/config"
	"github.com/mcclellann/coopledger/pkg/observability"
	"github.com/mcclellann/coopledger/pkg/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := observability.InitLogger(cfg.Log)
	logger.Info("starting "+cfg.ServiceName,
		"http_port", cfg.HTTPPort,
		"db_path", cfg.DBPath,
		"audit_interval", cfg.AuditInterval.String(),
	)

	sqliteStore, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize SQLite store: %w", err)
	}
	defer sqliteStore.Close()

	metrics := observability.NewMetrics(cfg.ServiceName)
	server := NewServer(sqliteStore, logger, metrics, cfg)

	// Periodic strict reconciliation of disbursed loans.
	go server.ledger.RunAudit(ctx, cfg.AuditInterval)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server error", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info(cfg.ServiceName + " stopped")
	return nil
}
