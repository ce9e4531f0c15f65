package aiguard

import (
	"fmt"
	"time"
)

const (
	defaultEscalationWindow  = 24 * time.Hour
	defaultBanThreshold      = 2
	defaultRateLimitDuration = time.Hour
	defaultBanDuration       = 24 * time.Hour
	defaultAppealGracePeriod = 7 * 24 * time.Hour
)

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if len(c.Features) == 0 && c.DefaultPolicy == nil {
		return fmt.Errorf("%w: at least one feature policy or a default policy is required", ErrInvalidConfig)
	}
	for feature, policy := range c.Features {
		if feature == "" {
			return fmt.Errorf("%w: feature name must not be empty", ErrInvalidConfig)
		}
		if err := policy.validate(); err != nil {
			return fmt.Errorf("%w: feature %s: %w", ErrInvalidConfig, feature, err)
		}
	}
	if c.DefaultPolicy != nil {
		if err := c.DefaultPolicy.validate(); err != nil {
			return fmt.Errorf("%w: default policy: %w", ErrInvalidConfig, err)
		}
	}

	e := c.Escalation
	if e.Window < 0 {
		return fmt.Errorf("%w: escalation window must not be negative", ErrInvalidConfig)
	}
	if e.BanThreshold < 0 {
		return fmt.Errorf("%w: ban threshold must not be negative", ErrInvalidConfig)
	}
	if e.RateLimitDuration < 0 {
		return fmt.Errorf("%w: rate limit duration must not be negative", ErrInvalidConfig)
	}
	if c.AppealGracePeriod < 0 {
		return fmt.Errorf("%w: appeal grace period must not be negative", ErrInvalidConfig)
	}
	if cb := c.CircuitBreakerConfig; cb != nil && cb.Enabled {
		if cb.FailureThreshold < 0 || cb.ResetTimeout < 0 {
			return fmt.Errorf("%w: circuit breaker settings must not be negative", ErrInvalidConfig)
		}
	}
	return nil
}

func (p FeaturePolicy) validate() error {
	if p.MaxPerHour < 0 || p.MaxPerDay < 0 || p.MaxPerWeek < 0 || p.MaxPerMonth < 0 {
		return fmt.Errorf("thresholds must not be negative")
	}
	if p.MinInterval < 0 {
		return fmt.Errorf("min interval must not be negative")
	}
	return nil
}

// withDefaults returns a copy of c with defaults filled in
func (c Config) withDefaults() Config {
	if c.Escalation.Window == 0 {
		c.Escalation.Window = defaultEscalationWindow
	}
	if c.Escalation.BanThreshold == 0 {
		c.Escalation.BanThreshold = defaultBanThreshold
	}
	if c.Escalation.RateLimitDuration == 0 {
		c.Escalation.RateLimitDuration = defaultRateLimitDuration
	}
	if c.Escalation.BanDuration == 0 {
		c.Escalation.BanDuration = defaultBanDuration
	}
	if c.AppealGracePeriod == 0 {
		c.AppealGracePeriod = defaultAppealGracePeriod
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.Metrics == nil {
		c.Metrics = &NoopMetrics{}
	}
	if c.Logger == nil {
		c.Logger = &NoopLogger{}
	}
	if cb := c.CircuitBreakerConfig; cb != nil && cb.Enabled {
		cfg := *cb
		if cfg.FailureThreshold == 0 {
			cfg.FailureThreshold = 5
		}
		if cfg.ResetTimeout == 0 {
			cfg.ResetTimeout = 30 * time.Second
		}
		c.CircuitBreakerConfig = &cfg
	}
	return c
}

// policyFor returns the detection policy of a feature
func (c *Config) policyFor(feature FeatureType) (FeaturePolicy, error) {
	if feature == "" {
		return FeaturePolicy{}, fmt.Errorf("%w: feature is required", ErrInvalidRequest)
	}
	if p, ok := c.Features[feature]; ok {
		return p, nil
	}
	if c.DefaultPolicy != nil {
		return *c.DefaultPolicy, nil
	}
	return FeaturePolicy{}, fmt.Errorf("%w: %s", ErrUnknownFeature, feature)
}
