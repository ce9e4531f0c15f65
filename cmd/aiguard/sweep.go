package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// SweepCmd deactivates expired restrictions once. Useful from cron when the
// server runs with the sweeper disabled.
type SweepCmd struct{}

func (c *SweepCmd) Run(cli *CLI, log zerolog.Logger) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.manager.Restrictions().SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	log.Info().Int("deactivated", n).Msg("sweep finished")
	return nil
}
