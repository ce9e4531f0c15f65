package aiguard

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Appeals implements the appeal workflow: restricted users submit appeals,
// admins approve or reject them.
type Appeals struct {
	store        AppealStore
	restrictions RestrictionStore
	env          *env
}

// Submit files an appeal by userID against one of their restrictions
func (a *Appeals) Submit(ctx context.Context, userID, restrictionID, reason string) (*Appeal, error) {
	reason = strings.TrimSpace(reason)
	if userID == "" || restrictionID == "" {
		return nil, invalidf("user id and restriction id are required")
	}
	if reason == "" {
		return nil, invalidf("appeal reason is required")
	}

	r, err := a.restrictions.GetRestriction(ctx, restrictionID)
	if errors.Is(err, ErrRestrictionNotFound) {
		return nil, invalidf("restriction %s does not exist", restrictionID)
	}
	if err != nil {
		return nil, storeError("get restriction", err)
	}
	if r.UserID != userID {
		return nil, invalidf("restriction does not belong to user")
	}
	if !r.CanAppeal {
		return nil, invalidf("restriction cannot be appealed")
	}

	now := a.env.now(ctx)
	if !a.appealable(r, now) {
		return nil, invalidf("restriction is no longer active")
	}

	appeal := &Appeal{
		ID:            uuid.NewString(),
		RestrictionID: r.ID,
		UserID:        userID,
		Reason:        reason,
		Status:        AppealPending,
		CreatedAt:     now,
	}
	if err := a.store.CreateAppeal(ctx, appeal); err != nil {
		return nil, storeError("create appeal", err)
	}

	a.env.config.Metrics.RecordAppeal(AppealPending)
	a.env.config.Logger.Info("appeal submitted", subjectFields(userID, r.Feature,
		Field{Key: "appeal_id", Value: appeal.ID},
		Field{Key: "restriction_id", Value: r.ID})...)
	return appeal, nil
}

// appealable reports whether r is active or was deactivated within the grace period
func (a *Appeals) appealable(r *Restriction, now time.Time) bool {
	grace := a.env.config.AppealGracePeriod
	switch {
	case r.IsActive && r.ExpiredAt(now):
		return now.Sub(*r.EndTime) <= grace
	case r.IsActive:
		return true
	case r.DeactivatedAt != nil:
		return now.Sub(*r.DeactivatedAt) <= grace
	default:
		return false
	}
}

// Resolve records an admin decision on a pending appeal. Approval lifts the
// appealed restriction; rejection leaves it untouched.
//
// Approval only deactivates the appealed restriction itself. When that
// restriction was already superseded, the newer one keeps blocking the
// feature; Resolve logs a warning naming it and leaves lifting it to the admin.
func (a *Appeals) Resolve(ctx context.Context, appealID, adminID string, decision AppealStatus, response string) (*Appeal, error) {
	if appealID == "" || adminID == "" {
		return nil, invalidf("appeal id and admin id are required")
	}
	if !decision.IsDecision() {
		return nil, invalidf("decision must be %q or %q", AppealApproved, AppealRejected)
	}

	existing, err := a.store.GetAppeal(ctx, appealID)
	if err != nil {
		return nil, storeError("get appeal", err)
	}
	if existing.Status != AppealPending {
		return nil, ErrAppealNotPending
	}

	res, err := a.store.ResolveAppeal(ctx, &ResolveAppealRequest{
		AppealID:        appealID,
		Status:          decision,
		AdminResponse:   response,
		ReviewedBy:      adminID,
		ReviewedAt:      a.env.now(ctx),
		LiftRestriction: decision == AppealApproved,
	})
	if err != nil {
		return nil, storeError("resolve appeal", err)
	}
	resolved := res.Appeal

	a.env.config.Metrics.RecordAppeal(decision)
	fields := []Field{
		{Key: "appeal_id", Value: resolved.ID},
		{Key: "restriction_id", Value: resolved.RestrictionID},
		{Key: "decision", Value: string(decision)},
		{Key: "admin_id", Value: adminID},
	}
	a.env.config.Logger.Info("appeal resolved", append([]Field{{Key: "user_id", Value: resolved.UserID}}, fields...)...)

	if decision == AppealApproved {
		a.afterApproval(ctx, resolved, res.Lifted)
	}
	return resolved, nil
}

// afterApproval reports the lift of an approved appeal, or the restriction
// that still blocks the user when nothing was lifted
func (a *Appeals) afterApproval(ctx context.Context, appeal *Appeal, lifted bool) {
	r, err := a.restrictions.GetRestriction(ctx, appeal.RestrictionID)
	if err != nil {
		return
	}
	if lifted {
		a.env.config.Metrics.RecordRestrictionLifted(r.Feature, deactivationCauseAppeal)
		return
	}

	blocking, err := a.restrictions.GetActiveRestriction(ctx, appeal.UserID, r.Feature)
	if err != nil || blocking == nil || blocking.ExpiredAt(a.env.now(ctx)) {
		return
	}
	a.env.config.Logger.Warn("approved appeal lifted nothing, a newer restriction is still active",
		subjectFields(appeal.UserID, r.Feature,
			Field{Key: "appeal_id", Value: appeal.ID},
			Field{Key: "restriction_id", Value: appeal.RestrictionID},
			Field{Key: "active_restriction_id", Value: blocking.ID})...)
}

// Get returns an appeal by id
func (a *Appeals) Get(ctx context.Context, appealID string) (*Appeal, error) {
	appeal, err := a.store.GetAppeal(ctx, appealID)
	return appeal, storeError("get appeal", err)
}

// List returns appeals matching filter, newest first
func (a *Appeals) List(ctx context.Context, filter AppealFilter) ([]*Appeal, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, invalidf("unknown appeal status %q", filter.Status)
	}
	list, err := a.store.ListAppeals(ctx, filter)
	return list, storeError("list appeals", err)
}
