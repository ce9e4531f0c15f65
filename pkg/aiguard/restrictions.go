package aiguard

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Restrictions is the authority on whether a user may use a feature and
// owns the restriction lifecycle.
type Restrictions struct {
	store RestrictionStore
	env   *env
}

// ApplyRestrictionRequest describes a restriction to apply
type ApplyRestrictionRequest struct {
	UserID  string
	Feature FeatureType
	Type    RestrictionType
	Reason  string
	// EndTime nil means the restriction lasts until lifted
	EndTime     *time.Time
	CanAppeal   bool
	ViolationID string
	CreatedBy   string
}

// Active returns the active, non-expired restriction for the pair or nil.
// An expired restriction found on the way is deactivated.
func (s *Restrictions) Active(ctx context.Context, userID string, feature FeatureType) (*Restriction, error) {
	start := time.Now()
	r, err := s.store.GetActiveRestriction(ctx, userID, feature)
	s.env.observe("get_active_restriction", start, err)
	if err != nil {
		return nil, storeError("get active restriction", err)
	}
	if r == nil {
		return nil, nil
	}

	now := s.env.now(ctx)
	if !r.ExpiredAt(now) {
		return r, nil
	}

	changed, err := s.store.DeactivateRestriction(ctx, r.ID, now, DeactivatedByExpiry)
	if err != nil {
		return nil, storeError("expire restriction", err)
	}
	if changed {
		s.env.config.Metrics.RecordRestrictionLifted(feature, "expired")
		s.env.config.Logger.Info("restriction expired", subjectFields(userID, feature,
			Field{Key: "restriction_id", Value: r.ID})...)
	}
	return nil, nil
}

// IsRestricted reports whether an active, non-expired restriction blocks the
// pair. On error it reports true.
func (s *Restrictions) IsRestricted(ctx context.Context, userID string, feature FeatureType) (bool, error) {
	r, err := s.Active(ctx, userID, feature)
	if err != nil {
		return true, err
	}
	return r != nil, nil
}

// Apply supersedes the active restriction of the pair, if any, with a new one.
// The feature must be one the guard checks.
func (s *Restrictions) Apply(ctx context.Context, req ApplyRestrictionRequest) (*Restriction, error) {
	if req.UserID == "" || req.Feature == "" {
		return nil, invalidf("user id and feature are required")
	}
	if _, err := s.env.config.policyFor(req.Feature); err != nil {
		return nil, err
	}
	if !req.Type.Valid() {
		return nil, invalidf("unknown restriction type %q", req.Type)
	}
	if req.CreatedBy == "" {
		req.CreatedBy = SystemActor
	}

	now := s.env.now(ctx)
	if req.EndTime != nil && !req.EndTime.After(now) {
		return nil, invalidf("end time must be in the future")
	}

	r := &Restriction{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Feature:     req.Feature,
		Type:        req.Type,
		StartTime:   now,
		EndTime:     req.EndTime,
		Reason:      req.Reason,
		CanAppeal:   req.CanAppeal,
		IsActive:    true,
		ViolationID: req.ViolationID,
		CreatedBy:   req.CreatedBy,
		CreatedAt:   now,
	}

	start := time.Now()
	superseded, err := s.store.ApplyRestriction(ctx, r)
	s.env.observe("apply_restriction", start, err)
	if err != nil {
		return nil, storeError("apply restriction", err)
	}

	for _, old := range superseded {
		s.env.config.Logger.Debug("restriction superseded", subjectFields(old.UserID, old.Feature,
			Field{Key: "restriction_id", Value: old.ID},
			Field{Key: "superseded_by", Value: r.ID})...)
	}
	s.env.config.Metrics.RecordRestrictionApplied(r.Feature, r.Type)
	s.env.config.Logger.Info("restriction applied", subjectFields(r.UserID, r.Feature,
		Field{Key: "restriction_id", Value: r.ID},
		Field{Key: "restriction_type", Value: string(r.Type)},
		Field{Key: "created_by", Value: r.CreatedBy})...)
	return r, nil
}

// Lift deactivates a restriction. Lifting an inactive restriction is a no-op.
func (s *Restrictions) Lift(ctx context.Context, restrictionID, liftedBy string) error {
	if restrictionID == "" || liftedBy == "" {
		return invalidf("restriction id and lifter are required")
	}
	r, err := s.store.GetRestriction(ctx, restrictionID)
	if err != nil {
		return storeError("get restriction", err)
	}
	if !r.IsActive {
		return nil
	}

	changed, err := s.store.DeactivateRestriction(ctx, restrictionID, s.env.now(ctx), liftedBy)
	if err != nil {
		return storeError("lift restriction", err)
	}
	if changed {
		s.env.config.Metrics.RecordRestrictionLifted(r.Feature, deactivationCauseAdmin)
		s.env.config.Logger.Info("restriction lifted", subjectFields(r.UserID, r.Feature,
			Field{Key: "restriction_id", Value: r.ID},
			Field{Key: "lifted_by", Value: liftedBy})...)
	}
	return nil
}

// Get returns a restriction by id
func (s *Restrictions) Get(ctx context.Context, restrictionID string) (*Restriction, error) {
	r, err := s.store.GetRestriction(ctx, restrictionID)
	return r, storeError("get restriction", err)
}

// List returns restrictions matching filter, newest first
func (s *Restrictions) List(ctx context.Context, filter RestrictionFilter) ([]*Restriction, error) {
	list, err := s.store.ListRestrictions(ctx, filter)
	return list, storeError("list restrictions", err)
}

// SweepExpired deactivates all expired restrictions and returns how many were changed
func (s *Restrictions) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.store.DeactivateExpired(ctx, s.env.now(ctx))
	if err != nil {
		return 0, storeError("sweep restrictions", err)
	}
	for _, r := range expired {
		s.env.config.Metrics.RecordRestrictionLifted(r.Feature, "sweep")
	}
	if len(expired) > 0 {
		s.env.config.Logger.Info("expired restrictions swept", Field{Key: "count", Value: len(expired)})
	}
	return len(expired), nil
}
