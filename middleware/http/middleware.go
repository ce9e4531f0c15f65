// Package http provides HTTP middleware that guards AI features
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/mihaimyh/aiguard/pkg/aiguard"
)

// UserIDExtractor extracts the user ID from an HTTP request
// Return empty string if user is not authenticated
type UserIDExtractor func(r *http.Request) string

// FeatureExtractor extracts the guarded feature from an HTTP request
type FeatureExtractor func(r *http.Request) aiguard.FeatureType

// Config holds middleware configuration
type Config struct {
	// Manager is the guard manager instance
	Manager *aiguard.Manager

	// GetUserID extracts user ID from request (required)
	GetUserID UserIDExtractor

	// GetFeature extracts the feature from request (required)
	GetFeature FeatureExtractor

	// OnDenied is called when the user is restricted
	// If nil, returns 403 JSON with the denial message
	OnDenied func(w http.ResponseWriter, r *http.Request, decision *aiguard.AccessDecision)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when the access check fails
	// If nil, returns 503 for storage failures and 500 otherwise
	OnError func(w http.ResponseWriter, r *http.Request, err error)

	// OnRecordError is called when usage could not be recorded after the
	// handler succeeded. The response has already been written.
	OnRecordError func(r *http.Request, err error)
}

// Middleware creates an HTTP middleware that checks access before the
// handler runs and records usage when it succeeds (status below 400)
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.Manager == nil {
		panic("aiguard/http: Config.Manager is required")
	}
	if config.GetUserID == nil {
		panic("aiguard/http: Config.GetUserID is required")
	}
	if config.GetFeature == nil {
		panic("aiguard/http: Config.GetFeature is required")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
				}
				return
			}

			ctx := r.Context()
			feature := config.GetFeature(r)
			decision, err := config.Manager.CheckAccess(ctx, userID, feature)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					defaultError(w, err)
				}
				return
			}
			if !decision.Allowed {
				if config.OnDenied != nil {
					config.OnDenied(w, r, decision)
				} else {
					defaultDenied(w, decision, config.Manager.Now(ctx))
				}
				return
			}

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if rec.status() >= http.StatusBadRequest {
				return
			}

			// The call happened even if the client has gone away
			if _, err := config.Manager.RecordUsage(context.WithoutCancel(ctx), userID, feature); err != nil {
				if config.OnRecordError != nil {
					config.OnRecordError(r, err)
				}
			}
		})
	}
}

// HandlerFunc creates the middleware in HandlerFunc form
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return middleware(next).ServeHTTP
	}
}

// statusRecorder remembers the status code written by the handler
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.code == 0 {
		s.code = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.code == 0 {
		s.code = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func (s *statusRecorder) status() int {
	if s.code == 0 {
		return http.StatusOK
	}
	return s.code
}

// DeniedBody is the default JSON body of a denied request
type DeniedBody struct {
	Error         string     `json:"error"`
	RestrictionID string     `json:"restriction_id,omitempty"`
	Until         *time.Time `json:"until,omitempty"`
	CanAppeal     bool       `json:"can_appeal"`
}

func defaultDenied(w http.ResponseWriter, decision *aiguard.AccessDecision, now time.Time) {
	body := DeniedBody{Error: decision.Message}
	if r := decision.Restriction; r != nil {
		body.RestrictionID = r.ID
		body.Until = r.EndTime
		body.CanAppeal = r.CanAppeal
		if r.EndTime != nil {
			w.Header().Set("Retry-After", RetryAfter(*r.EndTime, now))
		}
	}
	writeJSON(w, http.StatusForbidden, body)
}

func defaultError(w http.ResponseWriter, err error) {
	if errors.Is(err, aiguard.ErrStoreUnavailable) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Service Unavailable"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // Response already started
}

// RetryAfter formats the seconds until end for a Retry-After header, at least 1
func RetryAfter(end, now time.Time) string {
	secs := math.Ceil(end.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("%.0f", secs)
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// UserIDKey is the context key for user ID
	UserIDKey ContextKey = "aiguard:userID"
)

// FromContext returns an UserIDExtractor that gets user ID from request context
func FromContext(key ContextKey) UserIDExtractor {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromHeader returns an UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FixedFeature returns a FeatureExtractor that always returns the same feature
func FixedFeature(feature aiguard.FeatureType) FeatureExtractor {
	return func(*http.Request) aiguard.FeatureType {
		return feature
	}
}

// FromPathValue returns a FeatureExtractor reading a net/http pattern wildcard
func FromPathValue(name string) FeatureExtractor {
	return func(r *http.Request) aiguard.FeatureType {
		return aiguard.FeatureType(r.PathValue(name))
	}
}

// WithUserID adds user ID to request context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}
