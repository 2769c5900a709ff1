// Package app assembles the service's components from configuration. The HTTP
// server and the operator CLI share it.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/clipforge/internal/cache"
	"github.com/kiranshivaraju/clipforge/internal/config"
	"github.com/kiranshivaraju/clipforge/internal/probe"
	"github.com/kiranshivaraju/clipforge/internal/provider/registry"
	"github.com/kiranshivaraju/clipforge/internal/reconcile"
	"github.com/kiranshivaraju/clipforge/internal/records"
	"github.com/kiranshivaraju/clipforge/internal/store"
	"github.com/kiranshivaraju/clipforge/internal/submit"
	"github.com/kiranshivaraju/clipforge/internal/webhook"
)

// App holds every long-lived component.
type App struct {
	Config     *config.Config
	Store      *store.PostgresStore
	Cache      *cache.RedisCache
	Applier    *reconcile.Applier
	Reconciler *reconcile.Reconciler
	Submitter  *submit.Service
	Validator  *webhook.Validator
	Records    *records.HTTPClient

	pool *pgxpool.Pool
}

// New connects to Postgres and Redis, applies migrations and wires the
// components. Call Close when done.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create redis cache: %w", err)
	}
	if err := redisCache.Ping(ctx); err != nil {
		pool.Close()
		redisCache.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	prober, err := NewProber(cfg)
	if err != nil {
		pool.Close()
		redisCache.Close()
		return nil, err
	}

	validator, err := webhook.NewValidator()
	if err != nil {
		pool.Close()
		redisCache.Close()
		return nil, fmt.Errorf("compile webhook schemas: %w", err)
	}

	providers := registry.New(cfg.Providers)
	slog.Info("providers configured", "providers", providers.Names())

	st := store.NewPostgresStore(pool)
	recordClient := records.NewHTTPClient(cfg.RecordStore.BaseURL, cfg.RecordStore.BaseID, cfg.RecordStore.APIKey, cfg.RecordStore.Timeout)
	propagator := records.NewPropagator(recordClient, cfg.RecordStore.Fields)
	applier := reconcile.NewApplier(st, propagator, redisCache)

	return &App{
		Config:  cfg,
		Store:   st,
		Cache:   redisCache,
		Applier: applier,
		Reconciler: reconcile.NewReconciler(st, prober, applier, redisCache, reconcile.Options{
			StuckThreshold: cfg.Reconcile.StuckThreshold,
			Concurrency:    cfg.Reconcile.ProbeConcurrency,
			BatchSize:      cfg.Reconcile.BatchSize,
			TickTimeout:    cfg.Reconcile.TickTimeout,
			ArchiveHorizon: cfg.Reconcile.ArchiveHorizon,

			MaxPropagationAttempts: cfg.Reconcile.MaxPropagationAttempts,
		}),
		Submitter: submit.NewService(st, providers, applier, redisCache, cfg.Server.PublicBaseURL, cfg.Providers.Timeout),
		Validator: validator,
		Records:   recordClient,
		pool:      pool,
	}, nil
}

// NewProber builds the output prober: plain HTTP(S) locations are checked with
// HEAD requests and s3:// locations through MinIO when an endpoint is set.
func NewProber(cfg *config.Config) (*probe.Prober, error) {
	conventions, err := probe.LoadConventions(cfg.Probe.ConventionsFile, cfg.Probe.BaseURL)
	if err != nil {
		return nil, err
	}

	httpChecker := probe.NewHTTPChecker(cfg.Probe.Timeout)
	checkers := map[string]probe.Checker{
		"http":  httpChecker,
		"https": httpChecker,
	}
	if cfg.Storage.MinIOEndpoint != "" {
		minioChecker, err := probe.NewMinIOChecker(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("create minio checker: %w", err)
		}
		checkers["s3"] = minioChecker
		slog.Info("object storage probing enabled", "endpoint", cfg.Storage.MinIOEndpoint)
	}

	return probe.NewProber(conventions, probe.NewMultiChecker(checkers), cfg.Probe.Timeout, cfg.Probe.FailureCeiling), nil
}

func (a *App) Close() {
	if err := a.Cache.Close(); err != nil {
		slog.Warn("closing redis", "error", err)
	}
	a.pool.Close()
}
