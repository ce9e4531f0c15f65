package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mihaimyh/aiguard/pkg/aiguard"
)

const (
	maxUserIDLen   = 255
	maxRequestBody = 64 << 10
)

type adminKey struct{}

// Handler provides HTTP endpoints for access checks, usage recording,
// appeals and the admin surface
type Handler struct {
	config Config
}

// Routes returns a router with every endpoint mounted:
//
//	GET  /v1/features/{feature}/access
//	GET  /v1/features/{feature}/usage
//	POST /v1/features/{feature}/usage
//	POST /v1/restrictions/{id}/appeals
//	GET  /admin/violations
//	POST /admin/violations
//	POST /admin/violations/{id}/resolve
//	GET  /admin/restrictions
//	POST /admin/restrictions
//	POST /admin/restrictions/{id}/lift
//	GET  /admin/appeals
//	POST /admin/appeals/{id}/resolve
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/v1", func(r chi.Router) {
		r.Get("/features/{feature}/access", h.CheckAccess)
		r.Get("/features/{feature}/usage", h.GetUsage)
		r.Post("/features/{feature}/usage", h.RecordUsage)
		r.Post("/restrictions/{id}/appeals", h.SubmitAppeal)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Get("/violations", h.ListViolations)
		r.Post("/violations", h.ReportViolation)
		r.Post("/violations/{id}/resolve", h.ResolveViolation)
		r.Get("/restrictions", h.ListRestrictions)
		r.Post("/restrictions", h.ApplyRestriction)
		r.Post("/restrictions/{id}/lift", h.LiftRestriction)
		r.Get("/appeals", h.ListAppeals)
		r.Post("/appeals/{id}/resolve", h.ResolveAppeal)
	})

	return r
}

// CheckAccess reports whether the caller may use the feature right now
func (h *Handler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	decision, err := h.config.Manager.CheckAccess(r.Context(), userID, feature(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, AccessResponse{
		Allowed:     decision.Allowed,
		Message:     decision.Message,
		Restriction: toRestriction(decision.Restriction),
	})
}

// RecordUsage counts one successful call of the feature by the caller
func (h *Handler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	outcome, err := h.config.Manager.RecordUsage(r.Context(), userID, feature(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, UsageResponse{
		Counts:      outcome.Counts,
		Violation:   toViolation(outcome.Violation),
		Restriction: toRestriction(outcome.Restriction),
	})
}

// GetUsage returns the caller's counters for today. Counters of a day
// without calls are zero.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	now := h.config.Manager.Now(ctx)
	rec, err := h.config.Manager.GetUsage(ctx, userID, feature(r), now)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	resp := UsageRecordResponse{UserID: userID, Feature: feature(r)}
	if rec != nil {
		resp.Date = rec.Date
		resp.Counts = rec.Counts
		resp.LastUsedAt = &rec.LastUsedAt
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// SubmitAppeal files an appeal against one of the caller's restrictions
func (h *Handler) SubmitAppeal(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req SubmitAppealRequest
	if !h.decode(w, r, &req) {
		return
	}

	appeal, err := h.config.Manager.Appeals().Submit(r.Context(), userID, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, toAppeal(appeal))
}

func feature(r *http.Request) aiguard.FeatureType {
	return aiguard.FeatureType(chi.URLParam(r, "feature"))
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := h.config.GetUserID(r)
	if userID == "" {
		h.writeError(w, r, fmt.Errorf("user ID not found"), http.StatusUnauthorized)
		return "", false
	}
	if len(userID) > maxUserIDLen {
		h.writeError(w, r, fmt.Errorf("invalid user ID format"), http.StatusBadRequest)
		return "", false
	}
	return userID, true
}

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adminID := h.config.GetAdminID(r)
		if adminID == "" {
			h.writeError(w, r, fmt.Errorf("admin ID not found"), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), adminKey{}, adminID)))
	})
}

func adminID(r *http.Request) string {
	id, _ := r.Context().Value(adminKey{}).(string)
	return id
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, r, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return false
	}
	return true
}

// StatusCode maps a guard error to an HTTP status code
func StatusCode(err error) int {
	switch {
	case errors.Is(err, aiguard.ErrRestrictionNotFound),
		errors.Is(err, aiguard.ErrAppealNotFound),
		errors.Is(err, aiguard.ErrViolationNotFound):
		return http.StatusNotFound
	case errors.Is(err, aiguard.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, aiguard.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.config.Logger.Error("request failed",
			aiguard.Field{Key: "method", Value: r.Method},
			aiguard.Field{Key: "path", Value: r.URL.Path},
			aiguard.Field{Key: "error", Value: err})
	}
	h.writeError(w, r, err, status)
}

// writeError writes an error with the given status code
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err, statusCode)
		return
	}
	h.writeJSON(w, statusCode, ErrorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Response already sent
		_ = err
	}
}

func queryBool(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", aiguard.ErrInvalidRequest, name)
	}
	return b, nil
}

func queryLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: limit must be a non-negative integer", aiguard.ErrInvalidRequest)
	}
	return n, nil
}
