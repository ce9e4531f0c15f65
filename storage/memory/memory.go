// Package memory provides an in-memory implementation of the aiguard.Storage interface.
// It is intended for tests, development and single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mihaimyh/aiguard/pkg/aiguard"
)

// Storage implements aiguard.Storage using in-memory maps
type Storage struct {
	mu sync.Mutex

	usage        map[string]*aiguard.UsageRecord // user:feature:date
	latest       map[string]string               // user:feature -> date of newest record
	violations   map[string]*aiguard.Violation
	restrictions map[string]*aiguard.Restriction
	appeals      map[string]*aiguard.Appeal

	// seq orders entities created within the same instant
	seq   int64
	order map[string]int64
}

// New creates a new in-memory storage adapter
func New() *Storage {
	s := &Storage{}
	s.reset()
	return s
}

func (s *Storage) reset() {
	s.usage = make(map[string]*aiguard.UsageRecord)
	s.latest = make(map[string]string)
	s.violations = make(map[string]*aiguard.Violation)
	s.restrictions = make(map[string]*aiguard.Restriction)
	s.appeals = make(map[string]*aiguard.Appeal)
	s.order = make(map[string]int64)
	s.seq = 0
}

// Clear removes all data (useful for testing)
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// Now implements aiguard.TimeSource
func (s *Storage) Now(_ context.Context) (time.Time, error) {
	return time.Now().UTC(), nil
}

func pairKey(userID string, feature aiguard.FeatureType) string {
	return fmt.Sprintf("%s:%s", userID, feature)
}

func usageKey(userID string, feature aiguard.FeatureType, date string) string {
	return fmt.Sprintf("%s:%s:%s", userID, feature, date)
}

func (s *Storage) remember(id string) {
	s.seq++
	s.order[id] = s.seq
}

// RecordUsage implements aiguard.UsageStore
func (s *Storage) RecordUsage(_ context.Context, req *aiguard.RecordUsageRequest) (*aiguard.UsageResult, error) {
	if req == nil || req.UserID == "" || req.Feature == "" {
		return nil, fmt.Errorf("invalid usage request")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pair := pairKey(req.UserID, req.Feature)
	var last *aiguard.UsageRecord
	if date, ok := s.latest[pair]; ok {
		last = s.usage[usageKey(req.UserID, req.Feature, date)]
	}

	next, res, err := aiguard.ApplyUsage(last, req)
	if err != nil {
		return nil, err
	}

	stored := *next
	s.usage[usageKey(req.UserID, req.Feature, next.Date)] = &stored
	s.latest[pair] = next.Date

	out := *next
	res.Record = &out
	return res, nil
}

// GetUsage implements aiguard.UsageStore
func (s *Storage) GetUsage(
	_ context.Context, userID string, feature aiguard.FeatureType, date string,
) (*aiguard.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.usage[usageKey(userID, feature, date)]
	if !ok {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

// PutUsageRecord stores a record computed elsewhere, such as by a hot tier.
// A record older than the stored one for the same day is ignored.
func (s *Storage) PutUsageRecord(_ context.Context, rec *aiguard.UsageRecord) error {
	if rec == nil || rec.UserID == "" || rec.Feature == "" || rec.Date == "" {
		return fmt.Errorf("invalid usage record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := usageKey(rec.UserID, rec.Feature, rec.Date)
	if cur, ok := s.usage[key]; ok && newerUsage(cur, rec) {
		return nil
	}
	stored := *rec
	s.usage[key] = &stored

	pair := pairKey(rec.UserID, rec.Feature)
	if date, ok := s.latest[pair]; !ok || date <= rec.Date {
		s.latest[pair] = rec.Date
	}
	return nil
}

// newerUsage reports whether a supersedes b. Late calls share the last use
// time of the record they joined, so ties go to the higher daily count.
func newerUsage(a, b *aiguard.UsageRecord) bool {
	if !a.LastUsedAt.Equal(b.LastUsedAt) {
		return a.LastUsedAt.After(b.LastUsedAt)
	}
	return a.Counts.Daily > b.Counts.Daily
}

// CreateViolation implements aiguard.ViolationStore
func (s *Storage) CreateViolation(_ context.Context, v *aiguard.Violation) error {
	if v == nil || v.ID == "" {
		return fmt.Errorf("invalid violation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.violations[v.ID]; exists {
		return fmt.Errorf("violation %s already exists", v.ID)
	}
	s.violations[v.ID] = cloneViolation(v)
	s.remember(v.ID)
	return nil
}

// GetViolation implements aiguard.ViolationStore
func (s *Storage) GetViolation(_ context.Context, id string) (*aiguard.Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.violations[id]
	if !ok {
		return nil, aiguard.ErrViolationNotFound
	}
	return cloneViolation(v), nil
}

// ListViolations implements aiguard.ViolationStore
func (s *Storage) ListViolations(_ context.Context, filter aiguard.ViolationFilter) ([]*aiguard.Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]*aiguard.Violation, 0)
	for _, v := range s.violations {
		if filter.UserID != "" && v.UserID != filter.UserID {
			continue
		}
		if filter.Feature != "" && v.Feature != filter.Feature {
			continue
		}
		if filter.UnresolvedOnly && v.Resolved {
			continue
		}
		list = append(list, cloneViolation(v))
	}
	sort.Slice(list, func(i, j int) bool {
		return s.newer(list[i].CreatedAt, list[j].CreatedAt, list[i].ID, list[j].ID)
	})
	return truncate(list, filter.Limit), nil
}

// CountViolations implements aiguard.ViolationStore
func (s *Storage) CountViolations(
	_ context.Context, userID string, feature aiguard.FeatureType, since time.Time,
) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, v := range s.violations {
		if v.UserID == userID && v.Feature == feature && !v.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// UpdateViolation implements aiguard.ViolationStore
func (s *Storage) UpdateViolation(
	_ context.Context, id string, update aiguard.ViolationUpdate,
) (*aiguard.Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.violations[id]
	if !ok {
		return nil, aiguard.ErrViolationNotFound
	}
	if update.WarningSent {
		v.WarningSent = true
	}
	if update.RestrictionApplied {
		v.RestrictionApplied = true
	}
	if update.Resolved && !v.Resolved {
		v.Resolved = true
		v.ResolvedBy = update.ResolvedBy
		at := update.ResolvedAt
		v.ResolvedAt = &at
	}
	return cloneViolation(v), nil
}

// GetActiveRestriction implements aiguard.RestrictionStore
func (s *Storage) GetActiveRestriction(
	_ context.Context, userID string, feature aiguard.FeatureType,
) (*aiguard.Restriction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r := s.activeLocked(userID, feature); r != nil {
		return cloneRestriction(r), nil
	}
	return nil, nil
}

func (s *Storage) activeLocked(userID string, feature aiguard.FeatureType) *aiguard.Restriction {
	for _, r := range s.restrictions {
		if r.IsActive && r.UserID == userID && r.Feature == feature {
			return r
		}
	}
	return nil
}

// ApplyRestriction implements aiguard.RestrictionStore
func (s *Storage) ApplyRestriction(_ context.Context, r *aiguard.Restriction) ([]*aiguard.Restriction, error) {
	if r == nil || r.ID == "" {
		return nil, fmt.Errorf("invalid restriction")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.restrictions[r.ID]; exists {
		return nil, fmt.Errorf("restriction %s already exists", r.ID)
	}

	var superseded []*aiguard.Restriction
	for {
		old := s.activeLocked(r.UserID, r.Feature)
		if old == nil {
			break
		}
		deactivate(old, r.StartTime, aiguard.DeactivatedBySupersede)
		superseded = append(superseded, cloneRestriction(old))
	}

	stored := cloneRestriction(r)
	stored.IsActive = true
	s.restrictions[r.ID] = stored
	s.remember(r.ID)
	return superseded, nil
}

// DeactivateRestriction implements aiguard.RestrictionStore
func (s *Storage) DeactivateRestriction(_ context.Context, id string, at time.Time, by string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.restrictions[id]
	if !ok {
		return false, aiguard.ErrRestrictionNotFound
	}
	if !r.IsActive {
		return false, nil
	}
	deactivate(r, at, by)
	return true, nil
}

func deactivate(r *aiguard.Restriction, at time.Time, by string) {
	r.IsActive = false
	r.DeactivatedAt = &at
	r.DeactivatedBy = by
}

// GetRestriction implements aiguard.RestrictionStore
func (s *Storage) GetRestriction(_ context.Context, id string) (*aiguard.Restriction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.restrictions[id]
	if !ok {
		return nil, aiguard.ErrRestrictionNotFound
	}
	return cloneRestriction(r), nil
}

// ListRestrictions implements aiguard.RestrictionStore
func (s *Storage) ListRestrictions(
	_ context.Context, filter aiguard.RestrictionFilter,
) ([]*aiguard.Restriction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]*aiguard.Restriction, 0)
	for _, r := range s.restrictions {
		if filter.UserID != "" && r.UserID != filter.UserID {
			continue
		}
		if filter.Feature != "" && r.Feature != filter.Feature {
			continue
		}
		if filter.ActiveOnly && !r.IsActive {
			continue
		}
		list = append(list, cloneRestriction(r))
	}
	sort.Slice(list, func(i, j int) bool {
		return s.newer(list[i].CreatedAt, list[j].CreatedAt, list[i].ID, list[j].ID)
	})
	return truncate(list, filter.Limit), nil
}

// DeactivateExpired implements aiguard.RestrictionStore
func (s *Storage) DeactivateExpired(_ context.Context, now time.Time) ([]*aiguard.Restriction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*aiguard.Restriction
	for _, r := range s.restrictions {
		if r.IsActive && r.ExpiredAt(now) {
			deactivate(r, now, aiguard.DeactivatedBySweep)
			expired = append(expired, cloneRestriction(r))
		}
	}
	return expired, nil
}

// CreateAppeal implements aiguard.AppealStore
func (s *Storage) CreateAppeal(_ context.Context, a *aiguard.Appeal) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("invalid appeal")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.restrictions[a.RestrictionID]; !ok {
		return aiguard.ErrRestrictionNotFound
	}
	for _, existing := range s.appeals {
		if existing.RestrictionID == a.RestrictionID && existing.Status == aiguard.AppealPending {
			return aiguard.ErrDuplicateAppeal
		}
	}

	stored := cloneAppeal(a)
	stored.Status = aiguard.AppealPending
	s.appeals[a.ID] = stored
	s.remember(a.ID)
	return nil
}

// GetAppeal implements aiguard.AppealStore
func (s *Storage) GetAppeal(_ context.Context, id string) (*aiguard.Appeal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.appeals[id]
	if !ok {
		return nil, aiguard.ErrAppealNotFound
	}
	return cloneAppeal(a), nil
}

// ListAppeals implements aiguard.AppealStore
func (s *Storage) ListAppeals(_ context.Context, filter aiguard.AppealFilter) ([]*aiguard.Appeal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]*aiguard.Appeal, 0)
	for _, a := range s.appeals {
		if filter.UserID != "" && a.UserID != filter.UserID {
			continue
		}
		if filter.RestrictionID != "" && a.RestrictionID != filter.RestrictionID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		list = append(list, cloneAppeal(a))
	}
	sort.Slice(list, func(i, j int) bool {
		return s.newer(list[i].CreatedAt, list[j].CreatedAt, list[i].ID, list[j].ID)
	})
	return truncate(list, filter.Limit), nil
}

// ResolveAppeal implements aiguard.AppealStore
func (s *Storage) ResolveAppeal(_ context.Context, req *aiguard.ResolveAppealRequest) (*aiguard.ResolveAppealResult, error) {
	if req == nil || !req.Status.IsDecision() {
		return nil, fmt.Errorf("invalid appeal resolution")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.appeals[req.AppealID]
	if !ok {
		return nil, aiguard.ErrAppealNotFound
	}
	if a.Status != aiguard.AppealPending {
		return nil, aiguard.ErrAppealNotPending
	}

	lifted := false
	if req.LiftRestriction {
		r, ok := s.restrictions[a.RestrictionID]
		if !ok {
			return nil, aiguard.ErrRestrictionNotFound
		}
		if r.IsActive {
			deactivate(r, req.ReviewedAt, req.ReviewedBy)
			lifted = true
		}
	}

	a.Status = req.Status
	a.AdminResponse = req.AdminResponse
	a.ReviewedBy = req.ReviewedBy
	at := req.ReviewedAt
	a.ReviewedAt = &at
	return &aiguard.ResolveAppealResult{Appeal: cloneAppeal(a), Lifted: lifted}, nil
}

// newer orders by creation time descending, then by insertion order descending
func (s *Storage) newer(a, b time.Time, idA, idB string) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return s.order[idA] > s.order[idB]
}

func truncate[T any](list []T, limit int) []T {
	limit = aiguard.EffectiveLimit(limit)
	if len(list) > limit {
		return list[:limit]
	}
	return list
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneViolation(v *aiguard.Violation) *aiguard.Violation {
	c := *v
	c.ResolvedAt = cloneTime(v.ResolvedAt)
	if v.Details.Counts != nil {
		counts := *v.Details.Counts
		c.Details.Counts = &counts
	}
	return &c
}

func cloneRestriction(r *aiguard.Restriction) *aiguard.Restriction {
	c := *r
	c.EndTime = cloneTime(r.EndTime)
	c.DeactivatedAt = cloneTime(r.DeactivatedAt)
	return &c
}

func cloneAppeal(a *aiguard.Appeal) *aiguard.Appeal {
	c := *a
	c.ReviewedAt = cloneTime(a.ReviewedAt)
	return &c
}
