// Package gin provides Gin middleware that guards AI features
package gin

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/aiguard/pkg/aiguard"
)

// UserIDExtractor extracts the user ID from a Gin context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *gongin.Context) string

// FeatureExtractor extracts the guarded feature from a Gin context
type FeatureExtractor func(c *gongin.Context) aiguard.FeatureType

// Config holds middleware configuration
type Config struct {
	// Manager is the guard manager instance
	Manager *aiguard.Manager

	// GetUserID extracts user ID from context (required)
	GetUserID UserIDExtractor

	// GetFeature extracts the feature from context (required)
	GetFeature FeatureExtractor

	// OnDenied is called when the user is restricted
	// If nil, returns 403 JSON with the denial message
	OnDenied func(c *gongin.Context, decision *aiguard.AccessDecision)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when the access check fails
	// If nil, returns 503 for storage failures and 500 otherwise
	OnError func(c *gongin.Context, err error)

	// OnRecordError is called when usage could not be recorded after the
	// handler succeeded. Do not write to the response here.
	OnRecordError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that checks access before the
// handlers run and records usage when they succeed (status below 400)
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("aiguard/gin: Config.Manager is required")
	}
	if cfg.GetUserID == nil {
		panic("aiguard/gin: Config.GetUserID is required")
	}
	if cfg.GetFeature == nil {
		panic("aiguard/gin: Config.GetFeature is required")
	}

	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.JSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
			}
			c.Abort()
			return
		}

		ctx := c.Request.Context()
		feature := cfg.GetFeature(c)
		decision, err := cfg.Manager.CheckAccess(ctx, userID, feature)
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				defaultError(c, err)
			}
			c.Abort()
			return
		}
		if !decision.Allowed {
			if cfg.OnDenied != nil {
				cfg.OnDenied(c, decision)
			} else {
				defaultDenied(c, decision, cfg.Manager.Now(ctx))
			}
			c.Abort()
			return
		}

		c.Next()

		if c.Writer.Status() >= http.StatusBadRequest || c.IsAborted() {
			return
		}
		if _, err := cfg.Manager.RecordUsage(context.WithoutCancel(ctx), userID, feature); err != nil {
			if cfg.OnRecordError != nil {
				cfg.OnRecordError(c, err)
			}
		}
	}
}

// Default error handlers

func defaultDenied(c *gongin.Context, decision *aiguard.AccessDecision, now time.Time) {
	body := gongin.H{"error": decision.Message}
	if r := decision.Restriction; r != nil {
		body["restriction_id"] = r.ID
		body["can_appeal"] = r.CanAppeal
		if r.EndTime != nil {
			body["until"] = r.EndTime
			c.Header("Retry-After", retryAfter(*r.EndTime, now))
		}
	}
	c.JSON(http.StatusForbidden, body)
}

func defaultError(c *gongin.Context, err error) {
	if errors.Is(err, aiguard.ErrStoreUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gongin.H{"error": "Service Unavailable"})
		return
	}
	c.JSON(http.StatusInternalServerError, gongin.H{"error": "Internal Server Error"})
}

func retryAfter(end, now time.Time) string {
	return fmt.Sprintf("%.0f", math.Max(1, math.Ceil(end.Sub(now).Seconds())))
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Gin context values
// This is the recommended approach for integrating with auth middleware that sets
// user information via c.Set("UserID", "...") or similar.
//
// Example:
//
//	// In your auth middleware:
//	c.Set("UserID", userID)
//
//	// In guard middleware config:
//	GetUserID: gin.FromContext("UserID")
func FromContext(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetString(key)
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// Convenience extractors for Feature

// FixedFeature returns a FeatureExtractor that always returns the same feature
func FixedFeature(feature aiguard.FeatureType) FeatureExtractor {
	return func(*gongin.Context) aiguard.FeatureType {
		return feature
	}
}

// FeatureFromParam returns a FeatureExtractor that reads a route parameter
func FeatureFromParam(paramName string) FeatureExtractor {
	return func(c *gongin.Context) aiguard.FeatureType {
		return aiguard.FeatureType(c.Param(paramName))
	}
}
