package api

import (
	"time"

	"github.com/mihaimyh/aiguard/pkg/aiguard"
)

// AccessResponse is the answer of the access check endpoint
type AccessResponse struct {
	Allowed     bool                 `json:"allowed"`
	Message     string               `json:"message,omitempty"`
	Restriction *RestrictionResponse `json:"restriction,omitempty"`
}

// UsageResponse is returned after recording a call
type UsageResponse struct {
	Counts      aiguard.Counts       `json:"counts"`
	Violation   *ViolationResponse   `json:"violation,omitempty"`
	Restriction *RestrictionResponse `json:"restriction,omitempty"`
}

// UsageRecordResponse holds the counters of one calendar day
type UsageRecordResponse struct {
	UserID     string              `json:"user_id"`
	Feature    aiguard.FeatureType `json:"feature"`
	Date       string              `json:"date,omitempty"`
	Counts     aiguard.Counts      `json:"counts"`
	LastUsedAt *time.Time          `json:"last_used_at,omitempty"`
}

// ViolationResponse is the JSON form of aiguard.Violation
type ViolationResponse struct {
	ID                 string                   `json:"id"`
	UserID             string                   `json:"user_id"`
	Feature            aiguard.FeatureType      `json:"feature"`
	Type               aiguard.ViolationType    `json:"type"`
	Details            aiguard.ViolationDetails `json:"details"`
	WarningSent        bool                     `json:"warning_sent"`
	RestrictionApplied bool                     `json:"restriction_applied"`
	Resolved           bool                     `json:"resolved"`
	ResolvedBy         string                   `json:"resolved_by,omitempty"`
	ResolvedAt         *time.Time               `json:"resolved_at,omitempty"`
	CreatedAt          time.Time                `json:"created_at"`
}

// RestrictionResponse is the JSON form of aiguard.Restriction
type RestrictionResponse struct {
	ID            string                  `json:"id"`
	UserID        string                  `json:"user_id"`
	Feature       aiguard.FeatureType     `json:"feature"`
	Type          aiguard.RestrictionType `json:"type"`
	StartTime     time.Time               `json:"start_time"`
	EndTime       *time.Time              `json:"end_time,omitempty"` // absent until lifted
	Reason        string                  `json:"reason"`
	CanAppeal     bool                    `json:"can_appeal"`
	IsActive      bool                    `json:"is_active"`
	ViolationID   string                  `json:"violation_id,omitempty"`
	CreatedBy     string                  `json:"created_by"`
	DeactivatedAt *time.Time              `json:"deactivated_at,omitempty"`
	DeactivatedBy string                  `json:"deactivated_by,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
}

// AppealResponse is the JSON form of aiguard.Appeal
type AppealResponse struct {
	ID            string               `json:"id"`
	RestrictionID string               `json:"restriction_id"`
	UserID        string               `json:"user_id"`
	Reason        string               `json:"reason"`
	Status        aiguard.AppealStatus `json:"status"`
	AdminResponse string               `json:"admin_response,omitempty"`
	ReviewedBy    string               `json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time           `json:"reviewed_at,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

// ReportResponse is returned when an admin reports a violation
type ReportResponse struct {
	Violation   *ViolationResponse   `json:"violation"`
	Restriction *RestrictionResponse `json:"restriction,omitempty"`
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error string `json:"error"`
}

// SubmitAppealRequest is the body of an appeal submission
type SubmitAppealRequest struct {
	Reason string `json:"reason"`
}

// ResolveAppealRequest is the body of an appeal decision
type ResolveAppealRequest struct {
	Decision aiguard.AppealStatus `json:"decision"`
	Response string               `json:"response"`
}

// ReportViolationRequest is the body of a manual violation report
type ReportViolationRequest struct {
	UserID           string                `json:"user_id"`
	Feature          aiguard.FeatureType   `json:"feature"`
	Type             aiguard.ViolationType `json:"type"`
	Note             string                `json:"note"`
	PlaceUnderReview bool                  `json:"place_under_review"`
}

// ApplyRestrictionRequest is the body of a manual restriction
type ApplyRestrictionRequest struct {
	UserID    string                  `json:"user_id"`
	Feature   aiguard.FeatureType     `json:"feature"`
	Type      aiguard.RestrictionType `json:"type"`
	Reason    string                  `json:"reason"`
	EndTime   *time.Time              `json:"end_time"`
	CanAppeal bool                    `json:"can_appeal"`
}

func toViolation(v *aiguard.Violation) *ViolationResponse {
	if v == nil {
		return nil
	}
	return &ViolationResponse{
		ID:                 v.ID,
		UserID:             v.UserID,
		Feature:            v.Feature,
		Type:               v.Type,
		Details:            v.Details,
		WarningSent:        v.WarningSent,
		RestrictionApplied: v.RestrictionApplied,
		Resolved:           v.Resolved,
		ResolvedBy:         v.ResolvedBy,
		ResolvedAt:         v.ResolvedAt,
		CreatedAt:          v.CreatedAt,
	}
}

func toRestriction(r *aiguard.Restriction) *RestrictionResponse {
	if r == nil {
		return nil
	}
	return &RestrictionResponse{
		ID:            r.ID,
		UserID:        r.UserID,
		Feature:       r.Feature,
		Type:          r.Type,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		Reason:        r.Reason,
		CanAppeal:     r.CanAppeal,
		IsActive:      r.IsActive,
		ViolationID:   r.ViolationID,
		CreatedBy:     r.CreatedBy,
		DeactivatedAt: r.DeactivatedAt,
		DeactivatedBy: r.DeactivatedBy,
		CreatedAt:     r.CreatedAt,
	}
}

func toAppeal(a *aiguard.Appeal) *AppealResponse {
	if a == nil {
		return nil
	}
	return &AppealResponse{
		ID:            a.ID,
		RestrictionID: a.RestrictionID,
		UserID:        a.UserID,
		Reason:        a.Reason,
		Status:        a.Status,
		AdminResponse: a.AdminResponse,
		ReviewedBy:    a.ReviewedBy,
		ReviewedAt:    a.ReviewedAt,
		CreatedAt:     a.CreatedAt,
	}
}

func mapSlice[T, R any](in []T, f func(T) R) []R {
	out := make([]R, 0, len(in))
	for _, v := range in {
		out = append(out, f(v))
	}
	return out
}
