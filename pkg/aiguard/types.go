package aiguard

import (
	"context"
	"time"
)

// FeatureType names an AI-gated capability
type FeatureType string

const (
	// FeatureInterviewPractice is the mock interview practice feature
	FeatureInterviewPractice FeatureType = "interview_practice"
	// FeatureQAGenerator is the interview Q&A generator
	FeatureQAGenerator FeatureType = "qa_generator"
	// FeatureHenryFeedback is the Henry chat assistant feedback feature
	FeatureHenryFeedback FeatureType = "henry_feedback"
	// FeatureDocumentGeneration covers CV and cover letter generation
	FeatureDocumentGeneration FeatureType = "document_generation"
)

// Window is a calendar-aligned counting period
type Window string

const (
	WindowHour  Window = "hour"
	WindowDay   Window = "day"
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
)

// ViolationType classifies a detected abuse pattern
type ViolationType string

const (
	// ViolationExcessiveUsage is raised when a window threshold is exceeded
	ViolationExcessiveUsage ViolationType = "excessive_usage"
	// ViolationRapidRequests is raised when calls arrive faster than the minimum interval
	ViolationRapidRequests ViolationType = "rapid_requests"
	// ViolationSuspiciousPattern is reported manually by an admin
	ViolationSuspiciousPattern ViolationType = "suspicious_pattern"
)

// Valid reports whether t is a known violation type
func (t ViolationType) Valid() bool {
	switch t {
	case ViolationExcessiveUsage, ViolationRapidRequests, ViolationSuspiciousPattern:
		return true
	}
	return false
}

// RestrictionType defines how a user's access to a feature is limited
type RestrictionType string

const (
	// RestrictionRateLimit is a short restriction applied on a first violation
	RestrictionRateLimit RestrictionType = "rate_limit"
	// RestrictionTemporaryBan is applied on repeated violations
	RestrictionTemporaryBan RestrictionType = "temporary_ban"
	// RestrictionUnderReview blocks access until an admin decides
	RestrictionUnderReview RestrictionType = "under_review"
)

// Valid reports whether t is a known restriction type
func (t RestrictionType) Valid() bool {
	switch t {
	case RestrictionRateLimit, RestrictionTemporaryBan, RestrictionUnderReview:
		return true
	}
	return false
}

// AppealStatus is the state of an appeal. pending is the only non-terminal state.
type AppealStatus string

const (
	AppealPending  AppealStatus = "pending"
	AppealApproved AppealStatus = "approved"
	AppealRejected AppealStatus = "rejected"
)

// Valid reports whether s is a known appeal status
func (s AppealStatus) Valid() bool {
	switch s {
	case AppealPending, AppealApproved, AppealRejected:
		return true
	}
	return false
}

// IsDecision reports whether s is a terminal status an admin may choose
func (s AppealStatus) IsDecision() bool {
	return s == AppealApproved || s == AppealRejected
}

// Counts holds the four window counters of a usage record
type Counts struct {
	Hourly  int `json:"hourly"`
	Daily   int `json:"daily"`
	Weekly  int `json:"weekly"`
	Monthly int `json:"monthly"`
}

// UsageRecord tracks usage of one feature by one user on one calendar day.
// Records are never deleted.
type UsageRecord struct {
	UserID     string
	Feature    FeatureType
	Date       string // 2006-01-02 in the configured location
	Counts     Counts
	LastHour   int
	LastUsedAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// UsageResult is returned by a store after recording one call
type UsageResult struct {
	Record *UsageRecord

	// PreviousUsedAt is the time of the previous call for the same user and
	// feature, nil on the very first call
	PreviousUsedAt *time.Time
}

// ViolationDetails is the audit payload stored with a violation
type ViolationDetails struct {
	Window      Window        `json:"window,omitempty"`
	Count       int           `json:"count,omitempty"`
	Limit       int           `json:"limit,omitempty"`
	Interval    time.Duration `json:"interval,omitempty"`
	MinInterval time.Duration `json:"min_interval,omitempty"`
	Counts      *Counts       `json:"counts,omitempty"`
	Note        string        `json:"note,omitempty"`
}

// Violation records a detected or reported abuse pattern
type Violation struct {
	ID                 string
	UserID             string
	Feature            FeatureType
	Type               ViolationType
	Details            ViolationDetails
	WarningSent        bool
	RestrictionApplied bool
	Resolved           bool
	ResolvedBy         string
	ResolvedAt         *time.Time
	CreatedAt          time.Time
}

// Restriction limits a user's access to a feature. At most one restriction
// per (user, feature) is active at any time.
type Restriction struct {
	ID        string
	UserID    string
	Feature   FeatureType
	Type      RestrictionType
	StartTime time.Time
	// EndTime is nil for restrictions that last until lifted
	EndTime     *time.Time
	Reason      string
	CanAppeal   bool
	IsActive    bool
	ViolationID string
	CreatedBy   string

	DeactivatedAt *time.Time
	DeactivatedBy string
	CreatedAt     time.Time
}

// ExpiredAt reports whether the restriction has a non-null end time at or before now
func (r *Restriction) ExpiredAt(now time.Time) bool {
	return r.EndTime != nil && !r.EndTime.After(now)
}

// Appeal is a user's request to lift a restriction
type Appeal struct {
	ID            string
	RestrictionID string
	UserID        string
	Reason        string
	Status        AppealStatus
	AdminResponse string
	ReviewedBy    string
	ReviewedAt    *time.Time
	CreatedAt     time.Time
}

// FeaturePolicy holds detection thresholds for a feature. Zero disables a threshold.
type FeaturePolicy struct {
	MaxPerHour  int           `yaml:"max_per_hour"`
	MaxPerDay   int           `yaml:"max_per_day"`
	MaxPerWeek  int           `yaml:"max_per_week"`
	MaxPerMonth int           `yaml:"max_per_month"`
	MinInterval time.Duration `yaml:"min_interval"`
}

// EscalationPolicy decides which restriction follows a violation
type EscalationPolicy struct {
	// Window is the rolling period in which violations are counted (default: 24h)
	Window time.Duration `yaml:"window"`

	// BanThreshold is the number of violations within Window, including the
	// current one, that escalates to a temporary ban (default: 2)
	BanThreshold int `yaml:"ban_threshold"`

	// RateLimitDuration is the length of a rate_limit restriction (default: 1h)
	RateLimitDuration time.Duration `yaml:"rate_limit_duration"`

	// BanDuration is the length of a temporary_ban (default: 24h).
	// A negative value makes bans last until lifted.
	BanDuration time.Duration `yaml:"ban_duration"`

	// AppealsDisabled marks automatic restrictions as not appealable
	AppealsDisabled bool `yaml:"appeals_disabled"`
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	// Enabled determines if the circuit breaker is active
	Enabled bool

	// FailureThreshold is the number of consecutive failures before opening the circuit (default: 5)
	FailureThreshold int

	// ResetTimeout is the duration to wait before transitioning from Open to Half-Open (default: 30 seconds)
	ResetTimeout time.Duration
}

// Config holds guard configuration
type Config struct {
	// Features maps feature names to their detection thresholds
	Features map[FeatureType]FeaturePolicy

	// DefaultPolicy applies to features missing from Features.
	// If nil, unknown features are rejected with ErrUnknownFeature.
	DefaultPolicy *FeaturePolicy

	// Escalation configures the restriction applied after a violation
	Escalation EscalationPolicy

	// AppealGracePeriod is how long after deactivation a restriction may
	// still be appealed (default: 7 days)
	AppealGracePeriod time.Duration

	// AppealURL is shown to denied users when the restriction can be appealed
	AppealURL string

	// Location is used for calendar windows (default: UTC)
	Location *time.Location

	// TimeSource provides the current time (default: local system clock)
	TimeSource TimeSource

	// Metrics is used for tracking guard operations (default: NoopMetrics)
	Metrics Metrics

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Notifier is told about every new violation (optional)
	Notifier ViolationNotifier

	// CircuitBreakerConfig configures the circuit breaker around storage
	CircuitBreakerConfig *CircuitBreakerConfig
}

// ViolationNotifier delivers warnings about new violations, e.g. by email.
// A nil error marks the violation's warning as sent.
type ViolationNotifier interface {
	NotifyViolation(ctx context.Context, v *Violation, r *Restriction) error
}

// AccessDecision is the answer to "can this user use this feature now"
type AccessDecision struct {
	Allowed     bool
	Restriction *Restriction
	Message     string
}

// UsageOutcome is returned after recording a call
type UsageOutcome struct {
	Counts      Counts
	Violation   *Violation
	Restriction *Restriction
}
