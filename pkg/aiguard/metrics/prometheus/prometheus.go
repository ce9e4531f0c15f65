// Package prommetrics implements aiguard.Metrics with Prometheus collectors.
package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/aiguard/pkg/aiguard"
)

// Metrics implements aiguard.Metrics using Prometheus.
type Metrics struct {
	accessChecksTotal          *prometheus.CounterVec
	accessCheckDuration        *prometheus.HistogramVec
	usageRecordedTotal         *prometheus.CounterVec
	usageRecordDuration        *prometheus.HistogramVec
	violationsTotal            *prometheus.CounterVec
	restrictionsAppliedTotal   *prometheus.CounterVec
	restrictionsLiftedTotal    *prometheus.CounterVec
	appealsTotal               *prometheus.CounterVec
	storageOpsDuration         *prometheus.HistogramVec
	storageOpsErrors           *prometheus.CounterVec
	circuitBreakerStateChanges *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		accessChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_checks_total",
			Help:      "Total number of feature access checks.",
		}, []string{"feature", "allowed"}),

		accessCheckDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "access_check_duration_seconds",
			Help:      "Latency of feature access checks.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"feature"}),

		usageRecordedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_recorded_total",
			Help:      "Total number of usage writes.",
		}, []string{"feature", "success"}),

		usageRecordDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "usage_record_duration_seconds",
			Help:      "Latency of usage writes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"feature"}),

		violationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_total",
			Help:      "Total number of usage violations.",
		}, []string{"feature", "type"}),

		restrictionsAppliedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restrictions_applied_total",
			Help:      "Total number of restrictions applied.",
		}, []string{"feature", "type"}),

		restrictionsLiftedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restrictions_lifted_total",
			Help:      "Total number of restrictions deactivated, by cause.",
		}, []string{"feature", "cause"}),

		appealsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appeals_total",
			Help:      "Total number of appeal transitions, by resulting status.",
		}, []string{"status"}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of storage operation errors.",
		}, []string{"operation"}),

		circuitBreakerStateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state changes.",
		}, []string{"state"}),
	}
}

func (m *Metrics) RecordAccessCheck(feature aiguard.FeatureType, allowed bool, duration time.Duration) {
	m.accessChecksTotal.WithLabelValues(string(feature), strconv.FormatBool(allowed)).Inc()
	m.accessCheckDuration.WithLabelValues(string(feature)).Observe(duration.Seconds())
}

func (m *Metrics) RecordUsage(feature aiguard.FeatureType, duration time.Duration, err error) {
	m.usageRecordedTotal.WithLabelValues(string(feature), strconv.FormatBool(err == nil)).Inc()
	m.usageRecordDuration.WithLabelValues(string(feature)).Observe(duration.Seconds())
}

func (m *Metrics) RecordViolation(feature aiguard.FeatureType, violationType aiguard.ViolationType) {
	m.violationsTotal.WithLabelValues(string(feature), string(violationType)).Inc()
}

func (m *Metrics) RecordRestrictionApplied(feature aiguard.FeatureType, restrictionType aiguard.RestrictionType) {
	m.restrictionsAppliedTotal.WithLabelValues(string(feature), string(restrictionType)).Inc()
}

func (m *Metrics) RecordRestrictionLifted(feature aiguard.FeatureType, cause string) {
	m.restrictionsLiftedTotal.WithLabelValues(string(feature), cause).Inc()
}

func (m *Metrics) RecordAppeal(status aiguard.AppealStatus) {
	m.appealsTotal.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordCircuitBreakerStateChange(state string) {
	m.circuitBreakerStateChanges.WithLabelValues(state).Inc()
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
