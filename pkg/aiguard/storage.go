package aiguard

import (
	"context"
	"time"
)

// UsageStore persists per-day usage records.
type UsageStore interface {
	// RecordUsage atomically applies one call to the counters of the
	// (user, feature) pair. Concurrent calls for the same pair must be
	// serialized by the implementation.
	RecordUsage(ctx context.Context, req *RecordUsageRequest) (*UsageResult, error)

	// GetUsage returns the record for a calendar day, or nil if there is none
	GetUsage(ctx context.Context, userID string, feature FeatureType, date string) (*UsageRecord, error)
}

// ViolationStore persists violations.
type ViolationStore interface {
	CreateViolation(ctx context.Context, v *Violation) error

	// GetViolation returns ErrViolationNotFound for unknown ids
	GetViolation(ctx context.Context, id string) (*Violation, error)

	// ListViolations returns matching violations, newest first
	ListViolations(ctx context.Context, filter ViolationFilter) ([]*Violation, error)

	// CountViolations counts violations for the pair created at or after since
	CountViolations(ctx context.Context, userID string, feature FeatureType, since time.Time) (int, error)

	// UpdateViolation sets the lifecycle flags present in update.
	// Flags only ever move from false to true.
	UpdateViolation(ctx context.Context, id string, update ViolationUpdate) (*Violation, error)
}

// RestrictionStore persists restrictions.
type RestrictionStore interface {
	// GetActiveRestriction returns the active restriction for the pair, or nil
	GetActiveRestriction(ctx context.Context, userID string, feature FeatureType) (*Restriction, error)

	// ApplyRestriction deactivates any active restriction for the same pair
	// and inserts r as active, in one atomic step. Returns the superseded
	// restrictions.
	ApplyRestriction(ctx context.Context, r *Restriction) ([]*Restriction, error)

	// DeactivateRestriction marks a restriction inactive. Returns false when
	// it was already inactive. Returns ErrRestrictionNotFound for unknown ids.
	DeactivateRestriction(ctx context.Context, id string, at time.Time, by string) (bool, error)

	// GetRestriction returns ErrRestrictionNotFound for unknown ids
	GetRestriction(ctx context.Context, id string) (*Restriction, error)

	// ListRestrictions returns matching restrictions, newest first
	ListRestrictions(ctx context.Context, filter RestrictionFilter) ([]*Restriction, error)

	// DeactivateExpired deactivates every active restriction whose end time
	// is at or before now and returns them
	DeactivateExpired(ctx context.Context, now time.Time) ([]*Restriction, error)
}

// AppealStore persists appeals.
type AppealStore interface {
	// CreateAppeal inserts a pending appeal. Returns ErrDuplicateAppeal when
	// the restriction already has a pending appeal.
	CreateAppeal(ctx context.Context, a *Appeal) error

	// GetAppeal returns ErrAppealNotFound for unknown ids
	GetAppeal(ctx context.Context, id string) (*Appeal, error)

	// ListAppeals returns matching appeals, newest first
	ListAppeals(ctx context.Context, filter AppealFilter) ([]*Appeal, error)

	// ResolveAppeal moves a pending appeal to a terminal status and, when
	// req.LiftRestriction is set, deactivates the appealed restriction in
	// the same atomic step. Returns ErrAppealNotPending for decided appeals.
	ResolveAppeal(ctx context.Context, req *ResolveAppealRequest) (*ResolveAppealResult, error)
}

// Storage is the full persistence contract of the guard
type Storage interface {
	UsageStore
	ViolationStore
	RestrictionStore
	AppealStore
}

// TimeSource defines an interface for getting time from the storage engine.
// Using the storage engine's clock keeps window boundaries consistent across
// horizontally scaled instances.
type TimeSource interface {
	Now(ctx context.Context) (time.Time, error)
}

// TimeSourceFunc adapts a function to TimeSource
type TimeSourceFunc func(ctx context.Context) (time.Time, error)

func (f TimeSourceFunc) Now(ctx context.Context) (time.Time, error) {
	return f(ctx)
}

// FixedTime returns a TimeSource reading the time from *t. Intended for tests.
func FixedTime(t *time.Time) TimeSource {
	return TimeSourceFunc(func(context.Context) (time.Time, error) {
		return *t, nil
	})
}

// RecordUsageRequest carries one call to be counted
type RecordUsageRequest struct {
	UserID  string
	Feature FeatureType
	Now     time.Time
	// Location is the calendar location for window boundaries
	Location *time.Location
}

// ViolationFilter selects violations. Zero fields match everything.
type ViolationFilter struct {
	UserID         string
	Feature        FeatureType
	UnresolvedOnly bool
	// Limit caps the result size (default: 100)
	Limit int
}

// ViolationUpdate sets lifecycle flags on a violation
type ViolationUpdate struct {
	WarningSent        bool
	RestrictionApplied bool
	Resolved           bool
	ResolvedBy         string
	ResolvedAt         time.Time
}

// RestrictionFilter selects restrictions. Zero fields match everything.
type RestrictionFilter struct {
	UserID     string
	Feature    FeatureType
	ActiveOnly bool
	Limit      int
}

// AppealFilter selects appeals. Zero fields match everything.
type AppealFilter struct {
	UserID        string
	RestrictionID string
	Status        AppealStatus
	Limit         int
}

// ResolveAppealRequest is the storage-level appeal resolution
type ResolveAppealRequest struct {
	AppealID        string
	Status          AppealStatus
	AdminResponse   string
	ReviewedBy      string
	ReviewedAt      time.Time
	LiftRestriction bool
}

// ResolveAppealResult is the outcome of AppealStore.ResolveAppeal
type ResolveAppealResult struct {
	Appeal *Appeal
	// Lifted is true when the appealed restriction was still active and
	// this resolution deactivated it
	Lifted bool
}

// DefaultListLimit is applied to list filters without a limit
const DefaultListLimit = 100

// EffectiveLimit returns the limit to apply for a requested limit
func EffectiveLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
