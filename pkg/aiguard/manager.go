package aiguard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SystemActor is recorded as creator of automatic restrictions
const SystemActor = "system"

// Deactivation actors recorded by the guard itself
const (
	DeactivatedByExpiry     = "system:expired"
	DeactivatedBySupersede  = "system:superseded"
	DeactivatedBySweep      = "system:sweep"
	deactivationCauseAdmin  = "admin"
	deactivationCauseAppeal = "appeal"
)

// Manager guards AI features: it answers access checks, records usage,
// detects violations and applies restrictions.
type Manager struct {
	storage  Storage
	env      *env
	detector Detector

	restrictions *Restrictions
	appeals      *Appeals
}

// env carries the configuration shared by the guard components
type env struct {
	config Config
}

func (e *env) now(ctx context.Context) time.Time {
	if e.config.TimeSource != nil {
		t, err := e.config.TimeSource.Now(ctx)
		if err == nil {
			return t.UTC()
		}
		e.config.Logger.Warn("time source failed, using local clock", errField(err))
	}
	return time.Now().UTC()
}

func (e *env) observe(op string, start time.Time, err error) {
	e.config.Metrics.RecordStorageOperation(op, time.Since(start), err)
}

// NewManager creates a new guard with the given storage and configuration
func NewManager(storage Storage, config *Config) (*Manager, error) {
	if storage == nil {
		return nil, ErrStoreUnavailable
	}
	if config == nil {
		return nil, fmt.Errorf("%w: config is required", ErrInvalidConfig)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	cfg := config.withDefaults()
	e := &env{config: cfg}

	if cb := cfg.CircuitBreakerConfig; cb != nil && cb.Enabled {
		breaker := NewDefaultCircuitBreaker(cb.FailureThreshold, cb.ResetTimeout, func(state CircuitBreakerState) {
			cfg.Metrics.RecordCircuitBreakerStateChange(string(state))
			cfg.Logger.Warn("storage circuit breaker state changed", Field{Key: "state", Value: string(state)})
		})
		storage = NewCircuitBreakerStorage(storage, breaker)
	}

	return &Manager{
		storage:      storage,
		env:          e,
		restrictions: &Restrictions{store: storage, env: e},
		appeals:      &Appeals{store: storage, restrictions: storage, env: e},
	}, nil
}

// Restrictions returns the restriction manager
func (m *Manager) Restrictions() *Restrictions {
	return m.restrictions
}

// Appeals returns the appeal workflow
func (m *Manager) Appeals() *Appeals {
	return m.appeals
}

// CheckAccess reports whether userID may use feature right now.
//
// On storage failure the returned decision denies access and the error wraps
// ErrStoreUnavailable.
func (m *Manager) CheckAccess(ctx context.Context, userID string, feature FeatureType) (*AccessDecision, error) {
	start := time.Now()
	denied := &AccessDecision{Allowed: false, Message: "this feature is temporarily unavailable"}

	if userID == "" {
		return denied, invalidf("user id is required")
	}
	if _, err := m.env.config.policyFor(feature); err != nil {
		return denied, err
	}

	r, err := m.restrictions.Active(ctx, userID, feature)
	if err != nil {
		m.env.config.Metrics.RecordAccessCheck(feature, false, time.Since(start))
		m.env.config.Logger.Error("access check failed, denying", subjectFields(userID, feature, errField(err))...)
		return denied, err
	}
	if r != nil {
		m.env.config.Metrics.RecordAccessCheck(feature, false, time.Since(start))
		m.env.config.Logger.Debug("access denied", subjectFields(userID, feature,
			Field{Key: "restriction_id", Value: r.ID},
			Field{Key: "restriction_type", Value: string(r.Type)})...)
		return &AccessDecision{
			Allowed:     false,
			Restriction: r,
			Message:     DenialMessage(r, m.env.config.AppealURL),
		}, nil
	}

	m.env.config.Metrics.RecordAccessCheck(feature, true, time.Since(start))
	return &AccessDecision{Allowed: true}, nil
}

// DenialMessage renders the user-visible explanation of a restriction
func DenialMessage(r *Restriction, appealURL string) string {
	msg := fmt.Sprintf("you are temporarily restricted from %s, reason: %s", r.Feature, r.Reason)
	if r.EndTime != nil {
		msg += ", until " + r.EndTime.UTC().Format(time.RFC3339)
	}
	if r.CanAppeal && appealURL != "" {
		msg += ", appeal at " + appealURL
	}
	return msg
}

// RecordUsage counts one successful call of feature by userID, evaluates the
// updated counters and applies a restriction when a violation is found.
//
// When violation handling fails after the usage was stored, the outcome
// still carries the counts together with the error.
func (m *Manager) RecordUsage(ctx context.Context, userID string, feature FeatureType) (*UsageOutcome, error) {
	if userID == "" {
		return nil, invalidf("user id is required")
	}
	policy, err := m.env.config.policyFor(feature)
	if err != nil {
		return nil, err
	}

	now := m.env.now(ctx)
	start := time.Now()
	res, err := m.storage.RecordUsage(ctx, &RecordUsageRequest{
		UserID:   userID,
		Feature:  feature,
		Now:      now,
		Location: m.env.config.Location,
	})
	m.env.observe("record_usage", start, err)
	m.env.config.Metrics.RecordUsage(feature, time.Since(start), err)
	if err != nil {
		m.env.config.Logger.Error("failed to record usage", subjectFields(userID, feature, errField(err))...)
		return nil, storeError("record usage", err)
	}

	outcome := &UsageOutcome{Counts: res.Record.Counts}

	var sinceLast *time.Duration
	if res.PreviousUsedAt != nil {
		d := res.Record.LastUsedAt.Sub(*res.PreviousUsedAt)
		if d < 0 {
			d = 0
		}
		sinceLast = &d
	}

	finding := m.detector.Evaluate(res.Record.Counts, sinceLast, policy)
	if finding == nil {
		return outcome, nil
	}

	v, r, err := m.handleFinding(ctx, userID, feature, finding, now)
	outcome.Violation = v
	outcome.Restriction = r
	return outcome, err
}

// handleFinding persists a violation, escalates it into a restriction and
// notifies the configured notifier
func (m *Manager) handleFinding(
	ctx context.Context, userID string, feature FeatureType, finding *Finding, now time.Time,
) (*Violation, *Restriction, error) {
	cfg := m.env.config

	v := &Violation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Feature:   feature,
		Type:      finding.Type,
		Details:   finding.Details,
		CreatedAt: now,
	}
	if err := m.storage.CreateViolation(ctx, v); err != nil {
		return nil, nil, storeError("create violation", err)
	}
	cfg.Metrics.RecordViolation(feature, v.Type)
	cfg.Logger.Warn("usage violation detected", subjectFields(userID, feature,
		Field{Key: "violation_id", Value: v.ID},
		Field{Key: "violation_type", Value: string(v.Type)},
		Field{Key: "details", Value: finding.Describe()})...)

	n, err := m.storage.CountViolations(ctx, userID, feature, now.Add(-cfg.Escalation.Window))
	if err != nil {
		return v, nil, storeError("count violations", err)
	}
	if n < 1 {
		n = 1
	}

	typ, end := escalate(cfg.Escalation, n, now)
	r, err := m.restrictions.Apply(ctx, ApplyRestrictionRequest{
		UserID:      userID,
		Feature:     feature,
		Type:        typ,
		Reason:      finding.Describe(),
		EndTime:     end,
		CanAppeal:   !cfg.Escalation.AppealsDisabled,
		ViolationID: v.ID,
		CreatedBy:   SystemActor,
	})
	if err != nil {
		return v, nil, err
	}

	updated, err := m.storage.UpdateViolation(ctx, v.ID, ViolationUpdate{RestrictionApplied: true})
	if err != nil {
		return v, r, storeError("update violation", err)
	}
	v = updated

	m.notify(ctx, v, r)
	return v, r, nil
}

// notify delivers a warning and marks it sent. Failures are logged only.
func (m *Manager) notify(ctx context.Context, v *Violation, r *Restriction) {
	cfg := m.env.config
	if cfg.Notifier == nil {
		return
	}
	if err := cfg.Notifier.NotifyViolation(ctx, v, r); err != nil {
		cfg.Logger.Warn("violation notification failed", subjectFields(v.UserID, v.Feature,
			Field{Key: "violation_id", Value: v.ID}, errField(err))...)
		return
	}
	updated, err := m.storage.UpdateViolation(ctx, v.ID, ViolationUpdate{WarningSent: true})
	if err != nil {
		cfg.Logger.Warn("failed to mark warning sent", subjectFields(v.UserID, v.Feature,
			Field{Key: "violation_id", Value: v.ID}, errField(err))...)
		return
	}
	*v = *updated
}

// ReportViolationRequest is an admin report of abusive behavior
type ReportViolationRequest struct {
	UserID     string
	Feature    FeatureType
	Type       ViolationType // default: suspicious_pattern
	Note       string
	ReportedBy string

	// PlaceUnderReview blocks the feature with an under_review restriction
	// until an admin lifts it
	PlaceUnderReview bool
}

// ReportViolation records a manually reported violation
func (m *Manager) ReportViolation(ctx context.Context, req ReportViolationRequest) (*Violation, *Restriction, error) {
	if req.UserID == "" || req.Feature == "" {
		return nil, nil, invalidf("user id and feature are required")
	}
	if req.ReportedBy == "" {
		return nil, nil, invalidf("reporter is required")
	}
	if _, err := m.env.config.policyFor(req.Feature); err != nil {
		return nil, nil, err
	}
	if req.Type == "" {
		req.Type = ViolationSuspiciousPattern
	}
	if !req.Type.Valid() {
		return nil, nil, invalidf("unknown violation type %q", req.Type)
	}

	now := m.env.now(ctx)
	v := &Violation{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Feature:   req.Feature,
		Type:      req.Type,
		Details:   ViolationDetails{Note: req.Note},
		CreatedAt: now,
	}
	if err := m.storage.CreateViolation(ctx, v); err != nil {
		return nil, nil, storeError("create violation", err)
	}
	m.env.config.Metrics.RecordViolation(req.Feature, req.Type)
	m.env.config.Logger.Info("violation reported", subjectFields(req.UserID, req.Feature,
		Field{Key: "violation_id", Value: v.ID},
		Field{Key: "reported_by", Value: req.ReportedBy})...)

	if !req.PlaceUnderReview {
		return v, nil, nil
	}

	reason := req.Note
	if reason == "" {
		reason = "account activity under review"
	}
	r, err := m.restrictions.Apply(ctx, ApplyRestrictionRequest{
		UserID:      req.UserID,
		Feature:     req.Feature,
		Type:        RestrictionUnderReview,
		Reason:      reason,
		CanAppeal:   true,
		ViolationID: v.ID,
		CreatedBy:   req.ReportedBy,
	})
	if err != nil {
		return v, nil, err
	}
	updated, err := m.storage.UpdateViolation(ctx, v.ID, ViolationUpdate{RestrictionApplied: true})
	if err != nil {
		return v, r, storeError("update violation", err)
	}
	return updated, r, nil
}

// ResolveViolation marks a violation resolved by an admin. Idempotent.
func (m *Manager) ResolveViolation(ctx context.Context, violationID, adminID string) (*Violation, error) {
	if violationID == "" || adminID == "" {
		return nil, invalidf("violation id and admin id are required")
	}
	v, err := m.storage.GetViolation(ctx, violationID)
	if err != nil {
		return nil, storeError("get violation", err)
	}
	if v.Resolved {
		return v, nil
	}
	updated, err := m.storage.UpdateViolation(ctx, violationID, ViolationUpdate{
		Resolved:   true,
		ResolvedBy: adminID,
		ResolvedAt: m.env.now(ctx),
	})
	if err != nil {
		return nil, storeError("resolve violation", err)
	}
	m.env.config.Logger.Info("violation resolved", subjectFields(v.UserID, v.Feature,
		Field{Key: "violation_id", Value: v.ID},
		Field{Key: "admin_id", Value: adminID})...)
	return updated, nil
}

// ListViolations returns violations matching filter, newest first
func (m *Manager) ListViolations(ctx context.Context, filter ViolationFilter) ([]*Violation, error) {
	list, err := m.storage.ListViolations(ctx, filter)
	return list, storeError("list violations", err)
}

// GetUsage returns the usage record of the calendar day containing at, or nil
func (m *Manager) GetUsage(ctx context.Context, userID string, feature FeatureType, at time.Time) (*UsageRecord, error) {
	rec, err := m.storage.GetUsage(ctx, userID, feature, KeysAt(at, m.env.config.Location).Date)
	return rec, storeError("get usage", err)
}

// Now returns the guard's current time
func (m *Manager) Now(ctx context.Context) time.Time {
	return m.env.now(ctx)
}
