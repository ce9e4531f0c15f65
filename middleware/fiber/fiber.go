// Package fiber provides Fiber middleware that guards AI features
package fiber

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/mihaimyh/aiguard/pkg/aiguard"
)

// UserIDExtractor extracts the user ID from a Fiber context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *fiber.Ctx) string

// FeatureExtractor extracts the guarded feature from a Fiber context
type FeatureExtractor func(c *fiber.Ctx) aiguard.FeatureType

// Config holds middleware configuration
type Config struct {
	// Manager is the guard manager instance
	Manager *aiguard.Manager

	// GetUserID extracts user ID from context (required)
	GetUserID UserIDExtractor

	// GetFeature extracts the feature from context (required)
	GetFeature FeatureExtractor

	// OnDenied is called when the user is restricted
	// If nil, returns 403 JSON with the denial message and a Retry-After header
	OnDenied func(c *fiber.Ctx, decision *aiguard.AccessDecision) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error

	// OnError is called when the access check fails
	// If nil, returns 503 for storage failures and 500 otherwise
	OnError func(c *fiber.Ctx, err error) error

	// OnRecordError is called when usage could not be recorded after the
	// handler succeeded
	OnRecordError func(c *fiber.Ctx, err error)
}

// Middleware creates a Fiber middleware that checks access before the
// handler runs and records usage when it succeeds
func Middleware(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("aiguard/fiber: Config.Manager is required")
	}
	if cfg.GetUserID == nil {
		panic("aiguard/fiber: Config.GetUserID is required")
	}
	if cfg.GetFeature == nil {
		panic("aiguard/fiber: Config.GetFeature is required")
	}

	return func(c *fiber.Ctx) error {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return defaultUnauthorized(c)
		}

		ctx := c.UserContext()
		feature := cfg.GetFeature(c)
		decision, err := cfg.Manager.CheckAccess(ctx, userID, feature)
		if err != nil {
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return defaultError(c, err)
		}
		if !decision.Allowed {
			if cfg.OnDenied != nil {
				return cfg.OnDenied(c, decision)
			}
			return defaultDenied(c, decision, cfg.Manager.Now(ctx))
		}

		if err := c.Next(); err != nil {
			return err
		}
		if c.Response().StatusCode() >= fiber.StatusBadRequest {
			return nil
		}

		if _, err := cfg.Manager.RecordUsage(context.WithoutCancel(ctx), userID, feature); err != nil {
			if cfg.OnRecordError != nil {
				cfg.OnRecordError(c, err)
			}
		}
		return nil
	}
}

// Default error handlers

func defaultUnauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
}

func defaultDenied(c *fiber.Ctx, decision *aiguard.AccessDecision, now time.Time) error {
	body := fiber.Map{"error": decision.Message}
	if r := decision.Restriction; r != nil {
		body["restriction_id"] = r.ID
		body["can_appeal"] = r.CanAppeal
		if r.EndTime != nil {
			body["until"] = r.EndTime
			secs := math.Max(1, math.Ceil(r.EndTime.Sub(now).Seconds()))
			c.Set(fiber.HeaderRetryAfter, fmt.Sprintf("%.0f", secs))
		}
	}
	return c.Status(fiber.StatusForbidden).JSON(body)
}

func defaultError(c *fiber.Ctx, err error) error {
	if errors.Is(err, aiguard.ErrStoreUnavailable) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Service Unavailable"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Fiber locals
// This is the recommended approach for integrating with auth middleware that sets
// user information via c.Locals("UserID", "...").
func FromContext(key string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		if userID, ok := c.Locals(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Params(paramName)
	}
}

// Convenience extractors for Feature

// FixedFeature returns a FeatureExtractor that always returns the same feature
func FixedFeature(feature aiguard.FeatureType) FeatureExtractor {
	return func(*fiber.Ctx) aiguard.FeatureType {
		return feature
	}
}

// FeatureFromParam returns a FeatureExtractor that reads a route parameter
func FeatureFromParam(paramName string) FeatureExtractor {
	return func(c *fiber.Ctx) aiguard.FeatureType {
		return aiguard.FeatureType(c.Params(paramName))
	}
}
