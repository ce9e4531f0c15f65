package aiguard

import "time"

// Metrics defines the interface for tracking guard operations and performance.
type Metrics interface {
	// RecordAccessCheck records the outcome and latency of an access check.
	RecordAccessCheck(feature FeatureType, allowed bool, duration time.Duration)

	// RecordUsage records a usage write.
	RecordUsage(feature FeatureType, duration time.Duration, err error)

	// RecordViolation records a new violation.
	RecordViolation(feature FeatureType, violationType ViolationType)

	// RecordRestrictionApplied records a newly applied restriction.
	RecordRestrictionApplied(feature FeatureType, restrictionType RestrictionType)

	// RecordRestrictionLifted records a deactivation and its cause
	// ("expired", "admin", "appeal", "sweep").
	RecordRestrictionLifted(feature FeatureType, cause string)

	// RecordAppeal records an appeal transition to status.
	RecordAppeal(status AppealStatus)

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)

	// RecordCircuitBreakerStateChange records a circuit breaker state change.
	RecordCircuitBreakerStateChange(state string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordAccessCheck(FeatureType, bool, time.Duration)    {}
func (n *NoopMetrics) RecordUsage(FeatureType, time.Duration, error)         {}
func (n *NoopMetrics) RecordViolation(FeatureType, ViolationType)            {}
func (n *NoopMetrics) RecordRestrictionApplied(FeatureType, RestrictionType) {}
func (n *NoopMetrics) RecordRestrictionLifted(FeatureType, string)           {}
func (n *NoopMetrics) RecordAppeal(AppealStatus)                             {}
func (n *NoopMetrics) RecordStorageOperation(string, time.Duration, error)   {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(string)                {}
