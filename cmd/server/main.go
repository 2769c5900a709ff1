// Package main is the entrypoint for the clipforge API server.
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

	"github.com/kiranshivaraju/clipforge/internal/api"
	"github.com/kiranshivaraju/clipforge/internal/api/handler"
	mw "github.com/kiranshivaraju/clipforge/internal/api/middleware"
	"github.com/kiranshivaraju/clipforge/internal/app"
	"github.com/kiranshivaraju/clipforge/internal/config"
	"github.com/kiranshivaraju/clipforge/internal/reconcile"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, failing fast when invalid
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "public_url", cfg.Server.PublicBaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect store and cache, wire components
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// 3. Start the reconciliation loop
	loopDone := make(chan struct{})
	if cfg.Reconcile.Enabled {
		go func() {
			defer close(loopDone)
			a.Reconciler.Run(ctx, reconcile.TickerScheduler{}, cfg.Reconcile.Interval)
		}()
		slog.Info("reconciliation loop started",
			"interval", cfg.Reconcile.Interval,
			"stuck_threshold", cfg.Reconcile.StuckThreshold,
		)
	} else {
		close(loopDone)
		slog.Warn("reconciliation loop disabled")
	}

	// 4. Build router with dependencies
	router := api.NewRouter(newDependencies(cfg, a))

	// 5. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Reconcile.TickTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	select {
	case <-loopDone:
	case <-shutdownCtx.Done():
		slog.Warn("reconciliation tick still running at shutdown")
	}

	slog.Info("server stopped gracefully")
	return nil
}

func newDependencies(cfg *config.Config, a *app.App) api.Dependencies {
	if cfg.Admin.TokenHash == "" {
		slog.Warn("ADMIN_TOKEN_HASH not set, internal endpoints will reject every request")
	}

	return api.Dependencies{
		Auth:      mw.NewAdminAuth(cfg.Admin.TokenHash),
		RateLimit: mw.NewRateLimit(a.Cache, cfg.Admin.RequestsPerMinute),
		Signature: mw.NewWebhookSignature(cfg.Webhook.Secrets, cfg.Webhook.MaxBodyBytes),

		HealthHandler: handler.NewHealthHandler(map[string]handler.Pinger{
			"database": a.Store,
			"cache":    a.Cache,
		}),
		WebhookHandler: handler.NewWebhookHandler(handler.WebhookDeps{
			Applier:    a.Applier,
			Validator:  a.Validator,
			Deliveries: a.Cache,
			DedupeTTL:  cfg.Webhook.DedupeTTL,
		}),
		ReconcileHandler: handler.NewReconcileHandler(a.Reconciler),
		SubmitJobHandler: handler.NewSubmitJobHandler(a.Submitter),
		GetJobHandler:    handler.NewGetJobHandler(a.Store),
		JobStatusHandler: handler.NewGetJobStatusHandler(a.Cache, a.Store),
	}
}
