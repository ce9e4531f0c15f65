// Package config loads the aiguard service configuration: a YAML policy file
// overlaid with AIGUARD_* environment variables, optionally read from .env.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mihaimyh/aiguard/pkg/aiguard"
)

// Environment variables that override the policy file
const (
	EnvHTTPAddr        = "AIGUARD_HTTP_ADDR"
	EnvPostgresDSN     = "AIGUARD_POSTGRES_DSN"
	EnvRedisAddr       = "AIGUARD_REDIS_ADDR"
	EnvRedisPassword   = "AIGUARD_REDIS_PASSWORD"
	EnvRedisDB         = "AIGUARD_REDIS_DB"
	EnvTimezone        = "AIGUARD_TIMEZONE"
	EnvAppealURL       = "AIGUARD_APPEAL_URL"
	EnvSweepInterval   = "AIGUARD_SWEEP_INTERVAL"
	EnvMetricsDisabled = "AIGUARD_METRICS_DISABLED"
)

// Config is the service configuration
type Config struct {
	Server         ServerConfig                                  `yaml:"server"`
	Postgres       PostgresConfig                                `yaml:"postgres"`
	Redis          RedisConfig                                   `yaml:"redis"`
	CircuitBreaker CircuitBreakerConfig                          `yaml:"circuit_breaker"`
	Metrics        MetricsConfig                                 `yaml:"metrics"`
	Timezone       string                                        `yaml:"timezone"`
	Features       map[aiguard.FeatureType]aiguard.FeaturePolicy `yaml:"features"`
	DefaultPolicy  *aiguard.FeaturePolicy                        `yaml:"default_policy"`
	Escalation     aiguard.EscalationPolicy                      `yaml:"escalation"`
	Appeals        AppealsConfig                                 `yaml:"appeals"`
}

// ServerConfig configures the HTTP server of the serve command
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	UserHeader      string        `yaml:"user_header"`
	AdminHeader     string        `yaml:"admin_header"`

	// SweepInterval is how often expired restrictions are deactivated (0 disables the sweeper)
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// PostgresConfig configures the source-of-truth store
type PostgresConfig struct {
	DSN         string `yaml:"dsn"`
	MaxConns    int32  `yaml:"max_conns"`
	MinConns    int32  `yaml:"min_conns"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// RedisConfig configures the hot usage counters. An empty Addr disables Redis.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	UsageTTL  time.Duration `yaml:"usage_ttl"`

	// AsyncMirror mirrors usage records to Postgres in the background
	AsyncMirror bool `yaml:"async_mirror"`
}

// CircuitBreakerConfig configures the breaker around storage
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Disabled  bool   `yaml:"disabled"`
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

// AppealsConfig configures the appeal workflow
type AppealsConfig struct {
	GracePeriod time.Duration `yaml:"grace_period"`
	URL         string        `yaml:"url"`
}

// Default returns a Config with sensible defaults and no feature policies
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			SweepInterval:   time.Minute,
		},
		Postgres: PostgresConfig{
			MaxConns: 10,
			MinConns: 2,
		},
		Redis: RedisConfig{
			KeyPrefix: "aiguard:",
			UsageTTL:  40 * 24 * time.Hour,
		},
		Metrics: MetricsConfig{
			Namespace: "aiguard",
			Path:      "/metrics",
		},
		Timezone: "UTC",
	}
}

// Load reads the policy file at path (skipped when empty), then applies
// environment overrides. Variables from envFiles are loaded first without
// replacing variables already set; a missing env file is not an error.
func Load(path string, envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Addr, EnvHTTPAddr)
	setString(&c.Postgres.DSN, EnvPostgresDSN)
	setString(&c.Redis.Addr, EnvRedisAddr)
	setString(&c.Redis.Password, EnvRedisPassword)
	setString(&c.Timezone, EnvTimezone)
	setString(&c.Appeals.URL, EnvAppealURL)

	if v, ok := os.LookupEnv(EnvRedisDB); ok {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRedisDB, err)
		}
		c.Redis.DB = db
	}
	if v, ok := os.LookupEnv(EnvSweepInterval); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvSweepInterval, err)
		}
		c.Server.SweepInterval = d
	}
	if v, ok := os.LookupEnv(EnvMetricsDisabled); ok {
		disabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMetricsDisabled, err)
		}
		c.Metrics.Disabled = disabled
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// Validate checks the service settings and the guard policy
func (c *Config) Validate() error {
	if c.Server.SweepInterval < 0 {
		return fmt.Errorf("%w: sweep interval must not be negative", aiguard.ErrInvalidConfig)
	}
	if c.Redis.Addr != "" && c.Postgres.DSN == "" {
		return fmt.Errorf("%w: redis counters require a postgres dsn", aiguard.ErrInvalidConfig)
	}
	if c.Redis.UsageTTL < 0 {
		return fmt.Errorf("%w: redis usage ttl must not be negative", aiguard.ErrInvalidConfig)
	}
	guard, err := c.GuardConfig()
	if err != nil {
		return err
	}
	return guard.Validate()
}

// GuardConfig builds the core guard configuration. Logger, metrics and time
// source are left for the caller to fill in.
func (c *Config) GuardConfig() (*aiguard.Config, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %w", aiguard.ErrInvalidConfig, c.Timezone, err)
	}

	guard := &aiguard.Config{
		Features:          c.Features,
		DefaultPolicy:     c.DefaultPolicy,
		Escalation:        c.Escalation,
		AppealGracePeriod: c.Appeals.GracePeriod,
		AppealURL:         c.Appeals.URL,
		Location:          loc,
	}
	if c.CircuitBreaker.Enabled {
		guard.CircuitBreakerConfig = &aiguard.CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: c.CircuitBreaker.FailureThreshold,
			ResetTimeout:     c.CircuitBreaker.ResetTimeout,
		}
	}
	return guard, nil
}
