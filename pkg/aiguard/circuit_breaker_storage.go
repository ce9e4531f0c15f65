package aiguard

import (
	"context"
	"time"
)

// CircuitBreakerStorage wraps a Storage implementation with circuit breaker protection.
type CircuitBreakerStorage struct {
	storage Storage
	cb      CircuitBreaker
}

// NewCircuitBreakerStorage creates a new storage wrapper with circuit breaker.
func NewCircuitBreakerStorage(storage Storage, cb CircuitBreaker) *CircuitBreakerStorage {
	return &CircuitBreakerStorage{
		storage: storage,
		cb:      cb,
	}
}

func (s *CircuitBreakerStorage) RecordUsage(ctx context.Context, req *RecordUsageRequest) (*UsageResult, error) {
	var res *UsageResult
	err := s.cb.Execute(ctx, func() error {
		var e error
		res, e = s.storage.RecordUsage(ctx, req)
		return e
	})
	return res, err
}

func (s *CircuitBreakerStorage) GetUsage(
	ctx context.Context, userID string, feature FeatureType, date string,
) (*UsageRecord, error) {
	var rec *UsageRecord
	err := s.cb.Execute(ctx, func() error {
		var e error
		rec, e = s.storage.GetUsage(ctx, userID, feature, date)
		return e
	})
	return rec, err
}

func (s *CircuitBreakerStorage) CreateViolation(ctx context.Context, v *Violation) error {
	return s.cb.Execute(ctx, func() error {
		return s.storage.CreateViolation(ctx, v)
	})
}

func (s *CircuitBreakerStorage) GetViolation(ctx context.Context, id string) (*Violation, error) {
	var v *Violation
	err := s.cb.Execute(ctx, func() error {
		var e error
		v, e = s.storage.GetViolation(ctx, id)
		return e
	})
	return v, err
}

func (s *CircuitBreakerStorage) ListViolations(ctx context.Context, filter ViolationFilter) ([]*Violation, error) {
	var list []*Violation
	err := s.cb.Execute(ctx, func() error {
		var e error
		list, e = s.storage.ListViolations(ctx, filter)
		return e
	})
	return list, err
}

func (s *CircuitBreakerStorage) CountViolations(
	ctx context.Context, userID string, feature FeatureType, since time.Time,
) (int, error) {
	var n int
	err := s.cb.Execute(ctx, func() error {
		var e error
		n, e = s.storage.CountViolations(ctx, userID, feature, since)
		return e
	})
	return n, err
}

func (s *CircuitBreakerStorage) UpdateViolation(
	ctx context.Context, id string, update ViolationUpdate,
) (*Violation, error) {
	var v *Violation
	err := s.cb.Execute(ctx, func() error {
		var e error
		v, e = s.storage.UpdateViolation(ctx, id, update)
		return e
	})
	return v, err
}

func (s *CircuitBreakerStorage) GetActiveRestriction(
	ctx context.Context, userID string, feature FeatureType,
) (*Restriction, error) {
	var r *Restriction
	err := s.cb.Execute(ctx, func() error {
		var e error
		r, e = s.storage.GetActiveRestriction(ctx, userID, feature)
		return e
	})
	return r, err
}

func (s *CircuitBreakerStorage) ApplyRestriction(ctx context.Context, r *Restriction) ([]*Restriction, error) {
	var superseded []*Restriction
	err := s.cb.Execute(ctx, func() error {
		var e error
		superseded, e = s.storage.ApplyRestriction(ctx, r)
		return e
	})
	return superseded, err
}

func (s *CircuitBreakerStorage) DeactivateRestriction(
	ctx context.Context, id string, at time.Time, by string,
) (bool, error) {
	var changed bool
	err := s.cb.Execute(ctx, func() error {
		var e error
		changed, e = s.storage.DeactivateRestriction(ctx, id, at, by)
		return e
	})
	return changed, err
}

func (s *CircuitBreakerStorage) GetRestriction(ctx context.Context, id string) (*Restriction, error) {
	var r *Restriction
	err := s.cb.Execute(ctx, func() error {
		var e error
		r, e = s.storage.GetRestriction(ctx, id)
		return e
	})
	return r, err
}

func (s *CircuitBreakerStorage) ListRestrictions(
	ctx context.Context, filter RestrictionFilter,
) ([]*Restriction, error) {
	var list []*Restriction
	err := s.cb.Execute(ctx, func() error {
		var e error
		list, e = s.storage.ListRestrictions(ctx, filter)
		return e
	})
	return list, err
}

func (s *CircuitBreakerStorage) DeactivateExpired(ctx context.Context, now time.Time) ([]*Restriction, error) {
	var expired []*Restriction
	err := s.cb.Execute(ctx, func() error {
		var e error
		expired, e = s.storage.DeactivateExpired(ctx, now)
		return e
	})
	return expired, err
}

func (s *CircuitBreakerStorage) CreateAppeal(ctx context.Context, a *Appeal) error {
	return s.cb.Execute(ctx, func() error {
		return s.storage.CreateAppeal(ctx, a)
	})
}

func (s *CircuitBreakerStorage) GetAppeal(ctx context.Context, id string) (*Appeal, error) {
	var a *Appeal
	err := s.cb.Execute(ctx, func() error {
		var e error
		a, e = s.storage.GetAppeal(ctx, id)
		return e
	})
	return a, err
}

func (s *CircuitBreakerStorage) ListAppeals(ctx context.Context, filter AppealFilter) ([]*Appeal, error) {
	var list []*Appeal
	err := s.cb.Execute(ctx, func() error {
		var e error
		list, e = s.storage.ListAppeals(ctx, filter)
		return e
	})
	return list, err
}

func (s *CircuitBreakerStorage) ResolveAppeal(ctx context.Context, req *ResolveAppealRequest) (*ResolveAppealResult, error) {
	var a *ResolveAppealResult
	err := s.cb.Execute(ctx, func() error {
		var e error
		a, e = s.storage.ResolveAppeal(ctx, req)
		return e
	})
	return a, err
}
