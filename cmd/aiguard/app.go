package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/aiguard/internal/config"
	"github.com/mihaimyh/aiguard/pkg/aiguard"
	zerologadapter "github.com/mihaimyh/aiguard/pkg/aiguard/logger/zerolog"
	prommetrics "github.com/mihaimyh/aiguard/pkg/aiguard/metrics/prometheus"
	"github.com/mihaimyh/aiguard/storage/memory"
	"github.com/mihaimyh/aiguard/storage/postgres"
	redisstorage "github.com/mihaimyh/aiguard/storage/redis"
	"github.com/mihaimyh/aiguard/storage/tiered"
)

// app holds the wired guard and the resources that must be released on exit
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	logger   aiguard.Logger
	manager  *aiguard.Manager
	registry *prometheus.Registry
	storage  aiguard.Storage
	postgres *postgres.Storage

	pingers []func(context.Context) error
	closers []func()
}

// newApp connects the configured stores and builds the guard manager.
// Without a postgres DSN the guard runs on in-memory storage.
func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}

	guard, err := cfg.GuardConfig()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.logger = zerologadapter.NewLogger(log)
	guard.Logger = a.logger
	if !cfg.Metrics.Disabled {
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		guard.Metrics = prommetrics.NewMetrics(a.registry, cfg.Metrics.Namespace)
	}
	if ts, ok := a.storage.(aiguard.TimeSource); ok {
		guard.TimeSource = ts
	}

	a.manager, err = aiguard.NewManager(a.storage, guard)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create manager: %w", err)
	}
	return a, nil
}

func (a *app) connect(ctx context.Context) error {
	if a.cfg.Postgres.DSN == "" {
		a.log.Warn().Msg("no postgres dsn configured, using in-memory storage")
		a.storage = memory.New()
		return nil
	}

	pgConfig := postgres.DefaultConfig()
	pgConfig.ConnectionString = a.cfg.Postgres.DSN
	pgConfig.AutoMigrate = a.cfg.Postgres.AutoMigrate
	if a.cfg.Postgres.MaxConns > 0 {
		pgConfig.MaxConns = a.cfg.Postgres.MaxConns
	}
	if a.cfg.Postgres.MinConns > 0 {
		pgConfig.MinConns = a.cfg.Postgres.MinConns
	}
	pg, err := postgres.New(ctx, pgConfig)
	if err != nil {
		return err
	}
	a.postgres = pg
	a.storage = pg
	a.pingers = append(a.pingers, pg.Ping)
	a.closers = append(a.closers, pg.Close)

	if a.cfg.Redis.Addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	a.closers = append(a.closers, func() { _ = client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	hot, err := redisstorage.New(client, redisstorage.Config{
		KeyPrefix: a.cfg.Redis.KeyPrefix,
		UsageTTL:  a.cfg.Redis.UsageTTL,
	})
	if err != nil {
		return err
	}
	a.pingers = append(a.pingers, hot.Ping)

	store, err := tiered.New(tiered.Config{
		Hot:            hot,
		Cold:           pg,
		AsyncUsageSync: a.cfg.Redis.AsyncMirror,
		AsyncErrorHandler: func(err error) {
			a.log.Error().Err(err).Msg("usage mirror to postgres failed")
		},
	})
	if err != nil {
		return err
	}
	// drain the mirror queue before the pool closes
	a.closers = append(a.closers, func() { _ = store.Close() })
	a.storage = store
	return nil
}

// Ping checks every connected store
func (a *app) Ping(ctx context.Context) error {
	for _, ping := range a.pingers {
		if err := ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
