package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mihaimyh/aiguard/pkg/aiguard"
)

// ListViolations lists violations filtered by user_id, feature and unresolved
func (h *Handler) ListViolations(w http.ResponseWriter, r *http.Request) {
	unresolved, err := queryBool(r, "unresolved")
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	q := r.URL.Query()
	violations, err := h.config.Manager.ListViolations(r.Context(), aiguard.ViolationFilter{
		UserID:         q.Get("user_id"),
		Feature:        aiguard.FeatureType(q.Get("feature")),
		UnresolvedOnly: unresolved,
		Limit:          limit,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, mapSlice(violations, toViolation))
}

// ReportViolation records a manually reported violation
func (h *Handler) ReportViolation(w http.ResponseWriter, r *http.Request) {
	var req ReportViolationRequest
	if !h.decode(w, r, &req) {
		return
	}

	v, restriction, err := h.config.Manager.ReportViolation(r.Context(), aiguard.ReportViolationRequest{
		UserID:           req.UserID,
		Feature:          req.Feature,
		Type:             req.Type,
		Note:             req.Note,
		ReportedBy:       adminID(r),
		PlaceUnderReview: req.PlaceUnderReview,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, ReportResponse{
		Violation:   toViolation(v),
		Restriction: toRestriction(restriction),
	})
}

// ResolveViolation marks a violation resolved by the calling admin
func (h *Handler) ResolveViolation(w http.ResponseWriter, r *http.Request) {
	v, err := h.config.Manager.ResolveViolation(r.Context(), chi.URLParam(r, "id"), adminID(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toViolation(v))
}

// ListRestrictions lists restrictions filtered by user_id, feature and active
func (h *Handler) ListRestrictions(w http.ResponseWriter, r *http.Request) {
	active, err := queryBool(r, "active")
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	q := r.URL.Query()
	restrictions, err := h.config.Manager.Restrictions().List(r.Context(), aiguard.RestrictionFilter{
		UserID:     q.Get("user_id"),
		Feature:    aiguard.FeatureType(q.Get("feature")),
		ActiveOnly: active,
		Limit:      limit,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, mapSlice(restrictions, toRestriction))
}

// ApplyRestriction applies a manual restriction, superseding the active one
func (h *Handler) ApplyRestriction(w http.ResponseWriter, r *http.Request) {
	var req ApplyRestrictionRequest
	if !h.decode(w, r, &req) {
		return
	}

	restriction, err := h.config.Manager.Restrictions().Apply(r.Context(), aiguard.ApplyRestrictionRequest{
		UserID:    req.UserID,
		Feature:   req.Feature,
		Type:      req.Type,
		Reason:    req.Reason,
		EndTime:   req.EndTime,
		CanAppeal: req.CanAppeal,
		CreatedBy: adminID(r),
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toRestriction(restriction))
}

// LiftRestriction deactivates a restriction and returns its final state
func (h *Handler) LiftRestriction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	restrictions := h.config.Manager.Restrictions()

	if err := restrictions.Lift(r.Context(), id, adminID(r)); err != nil {
		h.handleError(w, r, err)
		return
	}
	restriction, err := restrictions.Get(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRestriction(restriction))
}

// ListAppeals lists appeals filtered by status and user_id
func (h *Handler) ListAppeals(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	q := r.URL.Query()
	appeals, err := h.config.Manager.Appeals().List(r.Context(), aiguard.AppealFilter{
		UserID:        q.Get("user_id"),
		RestrictionID: q.Get("restriction_id"),
		Status:        aiguard.AppealStatus(q.Get("status")),
		Limit:         limit,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, mapSlice(appeals, toAppeal))
}

// ResolveAppeal approves or rejects a pending appeal
func (h *Handler) ResolveAppeal(w http.ResponseWriter, r *http.Request) {
	var req ResolveAppealRequest
	if !h.decode(w, r, &req) {
		return
	}

	appeal, err := h.config.Manager.Appeals().Resolve(r.Context(), chi.URLParam(r, "id"), adminID(r), req.Decision, req.Response)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toAppeal(appeal))
}
