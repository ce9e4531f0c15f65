package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mihaimyh/aiguard/storage/postgres"
)

// MigrateCmd applies the PostgreSQL schema. The schema is idempotent.
type MigrateCmd struct {
	DSN     string        `name:"dsn" help:"PostgreSQL connection string, overrides the config file."`
	Timeout time.Duration `help:"Timeout for connecting and applying the schema." default:"30s"`
}

func (c *MigrateCmd) Run(cli *CLI, log zerolog.Logger) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}
	dsn := cfg.Postgres.DSN
	if c.DSN != "" {
		dsn = c.DSN
	}
	if dsn == "" {
		return fmt.Errorf("a postgres dsn is required (--dsn or AIGUARD_POSTGRES_DSN)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	pgConfig := postgres.DefaultConfig()
	pgConfig.ConnectionString = dsn
	pgConfig.MaxConns = 1
	pgConfig.MinConns = 0
	storage, err := postgres.New(ctx, pgConfig)
	if err != nil {
		return err
	}
	defer storage.Close()

	if err := storage.Migrate(ctx); err != nil {
		return err
	}
	log.Info().Msg("schema applied")
	return nil
}
