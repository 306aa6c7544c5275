// Package main provides the entry point for the factory approval API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/castwave/release-factory/internal/bootstrap"
	"github.com/castwave/release-factory/internal/config"
	"github.com/castwave/release-factory/internal/preflight"
	"github.com/castwave/release-factory/internal/server"
	"github.com/castwave/release-factory/internal/trackcatalog"
	"github.com/castwave/release-factory/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.APIPassword == "" {
		return config.ErrAPIPasswordRequired
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting factory API",
		slog.Int("port", cfg.Port),
		slog.String("storage_root", cfg.StorageRoot),
		slog.String("origin_backend", cfg.OriginBackend),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
	)

	ctx := context.Background()
	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer func() { _ = deps.Close() }()

	pf := preflight.New(deps.Store, deps.Origin, logger)
	cat := trackcatalog.New(deps.Store, deps.Origin, cfg, logger, worker.NewID("api"))

	handlers := server.NewHandlers(deps.Store, deps.Layout, pf, cat, logger)
	router := server.NewRouter(handlers, logger, server.Config{
		AllowedOrigins: []string{"*"},
		APIUser:        cfg.APIUser,
		APIPassword:    cfg.APIPassword,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
