// Command aiguard runs the AI usage guard service.
//
// Usage:
//
//	aiguard serve --config aiguard.yaml
//	aiguard migrate --config aiguard.yaml
//	aiguard sweep --config aiguard.yaml
//	aiguard validate --config aiguard.yaml --print-config
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/aiguard/internal/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the guard HTTP API and the restriction sweeper."`
	Migrate  MigrateCmd  `cmd:"" help:"Apply the PostgreSQL schema."`
	Sweep    SweepCmd    `cmd:"" help:"Deactivate expired restrictions once and exit."`
	Validate ValidateCmd `cmd:"" help:"Validate the configuration file."`

	Config    string `short:"c" help:"Path to the policy file." type:"path" env:"AIGUARD_CONFIG"`
	EnvFile   string `name:"env-file" help:"Dotenv file loaded before the environment is read." default:".env"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info" env:"AIGUARD_LOG_LEVEL"`
	LogFormat string `help:"Log format (console, json)." default:"json" enum:"console,json" env:"AIGUARD_LOG_FORMAT"`
}

// load reads the configuration selected by the global flags
func (c *CLI) load() (*config.Config, error) {
	cfg, err := config.Load(c.Config, c.EnvFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from the level and format flags
func newLogger(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}

	switch format {
	case "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case "json", "":
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q", format)
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("aiguard"),
		kong.Description("Usage limits, violation detection and appeals for AI features."),
		kong.UsageOnError(),
	)

	logger, err := newLogger(os.Stderr, cli.LogLevel, cli.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	ctx.Bind(logger)

	err = ctx.Run(&cli)
	if err != nil {
		logger.Error().Err(err).Str("command", ctx.Command()).Msg("command failed")
	}
	ctx.FatalIfErrorf(err)
}
