package main

import (
	"fmt"
	"io"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mihaimyh/aiguard/internal/config"
)

// ValidateCmd validates the configuration without connecting to any store.
type ValidateCmd struct {
	PrintConfig bool `short:"p" name:"print-config" help:"Print the effective configuration with secrets redacted."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}
	return c.validate(os.Stdout, cfg)
}

func (c *ValidateCmd) validate(w io.Writer, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !c.PrintConfig {
		fmt.Fprintf(w, "configuration valid: %d feature policies\n", len(cfg.Features))
		return nil
	}

	out, err := yaml.Marshal(redacted(cfg))
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	_, err = w.Write(out)
	return err
}

// redacted returns a copy of cfg without credentials
func redacted(cfg *config.Config) *config.Config {
	cp := *cfg
	if cp.Redis.Password != "" {
		cp.Redis.Password = "xxxxx"
	}
	if u, err := url.Parse(cp.Postgres.DSN); err == nil && u.User != nil {
		cp.Postgres.DSN = u.Redacted()
	}
	return &cp
}
