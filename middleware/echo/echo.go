// Package echo provides Echo middleware that guards AI features
package echo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/aiguard/pkg/aiguard"
)

// UserIDExtractor extracts the user ID from an Echo context
// Return empty string if user is not authenticated
type UserIDExtractor func(c echo.Context) string

// FeatureExtractor extracts the guarded feature from an Echo context
type FeatureExtractor func(c echo.Context) aiguard.FeatureType

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
	OnDenied func(c echo.Context, decision *aiguard.AccessDecision) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c echo.Context) error

	// OnError is called when the access check fails
	// If nil, returns 503 for storage failures and 500 otherwise
	OnError func(c echo.Context, err error) error

	// OnRecordError is called when usage could not be recorded after the
	// handler succeeded. The response is already committed at that point.
	OnRecordError func(c echo.Context, err error)
}

// Middleware creates an Echo middleware that checks access before the
// handler runs and records usage when it returns without error and with a
// status below 400
func Middleware(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("aiguard/echo: Config.Manager is required")
	}
	if cfg.GetUserID == nil {
		panic("aiguard/echo: Config.GetUserID is required")
	}
	if cfg.GetFeature == nil {
		panic("aiguard/echo: Config.GetFeature is required")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := cfg.GetUserID(c)
			if userID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return defaultUnauthorized(c)
			}

			ctx := c.Request().Context()
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

			if err := next(c); err != nil {
				return err
			}
			if c.Response().Status >= http.StatusBadRequest {
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
}

// Default error handlers

func defaultUnauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
}

func defaultDenied(c echo.Context, decision *aiguard.AccessDecision, now time.Time) error {
	body := map[string]interface{}{"error": decision.Message}
	if r := decision.Restriction; r != nil {
		body["restriction_id"] = r.ID
		body["can_appeal"] = r.CanAppeal
		if r.EndTime != nil {
			body["until"] = r.EndTime
			secs := math.Max(1, math.Ceil(r.EndTime.Sub(now).Seconds()))
			c.Response().Header().Set("Retry-After", fmt.Sprintf("%.0f", secs))
		}
	}
	return c.JSON(http.StatusForbidden, body)
}

func defaultError(c echo.Context, err error) error {
	if errors.Is(err, aiguard.ErrStoreUnavailable) {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Service Unavailable"})
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Echo context values
// Works with auth middleware that calls c.Set("UserID", "...").
func FromContext(key string) UserIDExtractor {
	return func(c echo.Context) string {
		if userID, ok := c.Get(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a path parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Param(paramName)
	}
}

// Convenience extractors for Feature

// FixedFeature returns a FeatureExtractor that always returns the same feature
func FixedFeature(feature aiguard.FeatureType) FeatureExtractor {
	return func(echo.Context) aiguard.FeatureType {
		return feature
	}
}

// FeatureFromParam returns a FeatureExtractor that reads a path parameter
func FeatureFromParam(paramName string) FeatureExtractor {
	return func(c echo.Context) aiguard.FeatureType {
		return aiguard.FeatureType(c.Param(paramName))
	}
}
