package api

import (
	"fmt"
	"net/http"

	"github.com/mihaimyh/aiguard/pkg/aiguard"
)

// Default headers carrying the caller identity
const (
	DefaultUserHeader  = "X-User-ID"
	DefaultAdminHeader = "X-Admin-ID"
)

// Config holds configuration for the guard API handler
type Config struct {
	// Manager is the guard manager instance (required)
	Manager *aiguard.Manager

	// GetUserID extracts the end user ID from the request.
	// Default: FromHeader(DefaultUserHeader)
	GetUserID func(*http.Request) string

	// GetAdminID extracts the reviewing admin ID from the request. Requests
	// to the admin routes without an admin ID are rejected with 401.
	// Default: FromHeader(DefaultAdminHeader)
	GetAdminID func(*http.Request) string

	// OnError handles errors (auth, validation, storage, etc.)
	// If nil, uses default JSON error handling
	OnError func(w http.ResponseWriter, r *http.Request, err error, statusCode int)

	// Logger records server-side failures (default: NoopLogger)
	Logger aiguard.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Manager == nil {
		return fmt.Errorf("manager is required")
	}
	return nil
}

// NewHandler creates a new guard API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.GetUserID == nil {
		config.GetUserID = FromHeader(DefaultUserHeader)
	}
	if config.GetAdminID == nil {
		config.GetAdminID = FromHeader(DefaultAdminHeader)
	}
	if config.Logger == nil {
		config.Logger = &aiguard.NoopLogger{}
	}
	return &Handler{
		config: config,
	}, nil
}

// Helper functions for common ID extraction patterns

// FromHeader returns an extractor that reads the ID from a header
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns an extractor that reads the ID from request context
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if id, ok := r.Context().Value(key).(string); ok {
			return id
		}
		return ""
	}
}
