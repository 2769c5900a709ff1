// Command clipforgectl is the operator CLI: run a reconciliation tick by hand,
// inspect a job and apply migrations.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kiranshivaraju/clipforge/internal/app"
	"github.com/kiranshivaraju/clipforge/internal/config"
	"github.com/kiranshivaraju/clipforge/internal/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	if err := newRootCmd(connect, migrate).Execute(); err != nil {
		os.Exit(1)
	}
}

func connect(ctx context.Context) (*backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &backend{
		Ticker:  a.Reconciler,
		Jobs:    a.Store,
		Records: a.Records,
		Fields:  cfg.RecordStore.Fields,
		Close:   a.Close,
	}, nil
}

func migrate(_ context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir)
}
