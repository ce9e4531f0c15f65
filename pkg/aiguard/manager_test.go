package aiguard_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/aiguard/pkg/aiguard"
	"github.com/mihaimyh/aiguard/storage/memory"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// Helper function to create a test manager with in-memory storage and a controllable clock
func newTestManager(t *testing.T, mutate ...func(c *aiguard.Config)) (*aiguard.Manager, *memory.Storage, *testClock) {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 6, 3, 10, 0, 0, 0, time.UTC)}
	storage := memory.New()
	config := &aiguard.Config{
		Features: map[aiguard.FeatureType]aiguard.FeaturePolicy{
			aiguard.FeatureInterviewPractice: {MaxPerHour: 10, MaxPerDay: 50, MaxPerWeek: 200, MaxPerMonth: 500},
			aiguard.FeatureQAGenerator:       {MaxPerHour: 20, MaxPerDay: 100, MinInterval: 2 * time.Second},
			aiguard.FeatureHenryFeedback:     {MaxPerDay: 30},
		},
		AppealURL:  "https://example.com/appeals",
		TimeSource: aiguard.FixedTime(&clock.now),
	}
	for _, fn := range mutate {
		fn(config)
	}

	manager, err := aiguard.NewManager(storage, config)
	require.NoError(t, err)
	return manager, storage, clock
}

func TestNewManager(t *testing.T) {
	config := &aiguard.Config{
		Features: map[aiguard.FeatureType]aiguard.FeaturePolicy{aiguard.FeatureQAGenerator: {MaxPerHour: 1}},
	}

	manager, err := aiguard.NewManager(memory.New(), config)
	require.NoError(t, err)
	assert.NotNil(t, manager)

	_, err = aiguard.NewManager(nil, config)
	assert.ErrorIs(t, err, aiguard.ErrStoreUnavailable)

	_, err = aiguard.NewManager(memory.New(), nil)
	assert.ErrorIs(t, err, aiguard.ErrInvalidConfig)

	_, err = aiguard.NewManager(memory.New(), &aiguard.Config{})
	assert.ErrorIs(t, err, aiguard.ErrInvalidConfig)
}

func TestManager_CheckAccess_NoHistory(t *testing.T) {
	manager, _, _ := newTestManager(t)

	decision, err := manager.CheckAccess(context.Background(), "user1", aiguard.FeatureInterviewPractice)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Nil(t, decision.Restriction)
}

func TestManager_CheckAccess_InvalidInput(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	decision, err := manager.CheckAccess(ctx, "", aiguard.FeatureInterviewPractice)
	assert.ErrorIs(t, err, aiguard.ErrInvalidRequest)
	assert.False(t, decision.Allowed)

	decision, err = manager.CheckAccess(ctx, "user1", "image_generation")
	assert.ErrorIs(t, err, aiguard.ErrUnknownFeature)
	assert.False(t, decision.Allowed)
}

func TestManager_DefaultPolicyAcceptsUnknownFeature(t *testing.T) {
	manager, _, _ := newTestManager(t, func(c *aiguard.Config) {
		c.DefaultPolicy = &aiguard.FeaturePolicy{MaxPerHour: 1}
	})
	ctx := context.Background()

	decision, err := manager.CheckAccess(ctx, "user1", "image_generation")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	_, err = manager.RecordUsage(ctx, "user1", "image_generation")
	require.NoError(t, err)
	outcome, err := manager.RecordUsage(ctx, "user1", "image_generation")
	require.NoError(t, err)
	require.NotNil(t, outcome.Violation)
}

func TestManager_RecordUsage_Counts(t *testing.T) {
	manager, _, clock := newTestManager(t)
	ctx := context.Background()

	outcome, err := manager.RecordUsage(ctx, "user1", aiguard.FeatureInterviewPractice)
	require.NoError(t, err)
	assert.Equal(t, aiguard.Counts{Hourly: 1, Daily: 1, Weekly: 1, Monthly: 1}, outcome.Counts)
	assert.Nil(t, outcome.Violation)

	clock.Advance(10 * time.Minute)
	outcome, err = manager.RecordUsage(ctx, "user1", aiguard.FeatureInterviewPractice)
	require.NoError(t, err)
	assert.Equal(t, aiguard.Counts{Hourly: 2, Daily: 2, Weekly: 2, Monthly: 2}, outcome.Counts)

	clock.Advance(time.Hour)
	outcome, err = manager.RecordUsage(ctx, "user1", aiguard.FeatureInterviewPractice)
	require.NoError(t, err)
	assert.Equal(t, aiguard.Counts{Hourly: 1, Daily: 3, Weekly: 3, Monthly: 3}, outcome.Counts)

	rec, err := manager.GetUsage(ctx, "user1", aiguard.FeatureInterviewPractice, clock.now)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "2026-06-03", rec.Date)
	assert.Equal(t, 3, rec.Counts.Daily)

	// other pairs are independent
	outcome, err = manager.RecordUsage(ctx, "user2", aiguard.FeatureInterviewPractice)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Counts.Daily)
	outcome, err = manager.RecordUsage(ctx, "user1", aiguard.FeatureQAGenerator)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Counts.Daily)
}

func TestManager_RecordUsage_MidnightRollover(t *testing.T) {
	manager, _, clock := newTestManager(t)
	ctx := context.Background()

	clock.now = time.Date(2026, 5, 31, 23, 59, 59, 0, time.UTC)
	_, err := manager.RecordUsage(ctx, "user1", aiguard.FeatureInterviewPractice)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	outcome, err := manager.RecordUsage(ctx, "user1", aiguard.FeatureInterviewPractice)
	require.NoError(t, err)
	assert.Equal(t, aiguard.Counts{Hourly: 1, Daily: 1, Weekly: 1, Monthly: 1}, outcome.Counts)

	prev, err := manager.GetUsage(ctx, "user1", aiguard.FeatureInterviewPractice, time.Date(2026, 5, 31, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, 1, prev.Counts.Daily)
}

func TestManager_ExceedHourlyLimit(t *testing.T) {
	manager, _, clock := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		outcome, err := manager.RecordUsage(ctx, "user1", aiguard.FeatureInterviewPractice)
		require.NoError(t, err)
		assert.Nil(t, outcome.Violation, "call %d", i+1)
		clock.Advance(time.Minute)
	}

	outcome, err := manager.RecordUsage(ctx, "user1", aiguard.FeatureInterviewPractice)
	require.NoError(t, err)
	require.NotNil(t, outcome.Violation)
	require.NotNil(t, outcome.Restriction)

	v := outcome.Violation
	assert.Equal(t, aiguard.ViolationExcessiveUsage, v.Type)
	assert.Equal(t, aiguard.WindowHour, v.Details.Window)
	assert.Equal(t, 11, v.Details.Count)
	assert.Equal(t, 10, v.Details.Limit)
	assert.True(t, v.RestrictionApplied)
	assert.False(t, v.Resolved)

	r := outcome.Restriction
	assert.Equal(t, aiguard.RestrictionRateLimit, r.Type)
	assert.True(t, r.IsActive)
	assert.True(t, r.CanAppeal)
	assert.Equal(t, v.ID, r.ViolationID)
	assert.Equal(t, aiguard.SystemActor, r.CreatedBy)
	require.NotNil(t, r.EndTime)
	assert.Equal(t, clock.now.Add(time.Hour), *r.EndTime)

	decision, err := manager.CheckAccess(ctx, "user1", aiguard.FeatureInterviewPractice)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	require.NotNil(t, decision.Restriction)
	assert.Equal(t, r.ID, decision.Restriction.ID)
	assert.Contains(t, decision.Message, "excessive usage")
	assert.Contains(t, decision.Message, "https://example.com/appeals")

	// the restriction is scoped to the feature
	decision, err = manager.CheckAccess(ctx, "user1", aiguard.FeatureQAGenerator)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestManager_EscalatesToTemporaryBan(t *testing.T) {
	manager, _, clock := newTestManager(t)
	ctx := context.Background()

	var first *aiguard.Restriction
	for i := 0; i < 11; i++ {
		outcome, err := manager.RecordUsage(ctx, "user1", aiguard.FeatureInterviewPractice)
		require.NoError(t, err)
		first = outcome.Restriction
	}
	require.NotNil(t, first)
	assert.Equal(t, aiguard.RestrictionRateLimit, first.Type)

	clock.Advance(time.Minute)
	outcome, err := manager.RecordUsage(ctx, "user1", aiguard.FeatureInterviewPractice)
	require.NoError(t, err)
	require.NotNil(t, outcome.Restriction)

	ban := outcome.Restriction
	assert.Equal(t, aiguard.RestrictionTemporaryBan, ban.Type)
	require.NotNil(t, ban.EndTime)
	assert.Equal(t, clock.now.Add(24*time.Hour), *ban.EndTime)

	active, err := manager.Restrictions().List(ctx, aiguard.RestrictionFilter{
		UserID: "user1", Feature: aiguard.FeatureInterviewPractice, ActiveOnly: true,
	})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, ban.ID, active[0].ID)

	old, err := manager.Restrictions().Get(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)
	assert.Equal(t, aiguard.DeactivatedBySupersede, old.DeactivatedBy)

	all, err := manager.ListViolations(ctx, aiguard.ViolationFilter{UserID: "user1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestManager_EscalationWindowExpires(t *testing.T) {
	manager, _, clock := newTestManager(t, func(c *aiguard.Config) {
		c.Escalation.Window = time.Hour
	})
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		_, err := manager.RecordUsage(ctx, "user1", aiguard.FeatureInterviewPractice)
		require.NoError(t, err)
	}

	// next day, the first violation is outside the escalation window
	clock.Advance(25 * time.Hour)
	for i := 0; i < 10; i++ {
		_, err := manager.RecordUsage(ctx, "user1", aiguard.FeatureInterviewPractice)
		require.NoError(t, err)
	}
	outcome, err := manager.RecordUsage(ctx, "user1", aiguard.FeatureInterviewPractice)
	require.NoError(t, err)
	require.NotNil(t, outcome.Restriction)
	assert.Equal(t, aiguard.RestrictionRateLimit, outcome.Restriction.Type)
}

func TestManager_RapidRequests(t *testing.T) {
	manager, _, clock := newTestManager(t)
	ctx := context.Background()

	_, err := manager.RecordUsage(ctx, "user1", aiguard.FeatureQAGenerator)
	require.NoError(t, err)

	clock.Advance(3 * time.Second)
	outcome, err := manager.RecordUsage(ctx, "user1", aiguard.FeatureQAGenerator)
	require.NoError(t, err)
	assert.Nil(t, outcome.Violation)

	clock.Advance(time.Second)
	outcome, err = manager.RecordUsage(ctx, "user1", aiguard.FeatureQAGenerator)
	require.NoError(t, err)
	require.NotNil(t, outcome.Violation)
	assert.Equal(t, aiguard.ViolationRapidRequests, outcome.Violation.Type)
	assert.Equal(t, time.Second, outcome.Violation.Details.Interval)
	assert.Equal(t, 2*time.Second, outcome.Violation.Details.MinInterval)
}

func TestManager_LazyExpiry(t *testing.T) {
	manager, _, clock := newTestManager(t)
	ctx := context.Background()

	var restriction *aiguard.Restriction
	for i := 0; i < 11; i++ {
		outcome, err := manager.RecordUsage(ctx, "user1", aiguard.FeatureInterviewPractice)
		require.NoError(t, err)
		restriction = outcome.Restriction
	}
	require.NotNil(t, restriction)

	clock.Advance(30 * time.Minute)
	restricted, err := manager.Restrictions().IsRestricted(ctx, "user1", aiguard.FeatureInterviewPractice)
	require.NoError(t, err)
	assert.True(t, restricted)

	clock.Advance(31 * time.Minute)
	decision, err := manager.CheckAccess(ctx, "user1", aiguard.FeatureInterviewPractice)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	r, err := manager.Restrictions().Get(ctx, restriction.ID)
	require.NoError(t, err)
	assert.False(t, r.IsActive)
	assert.Equal(t, aiguard.DeactivatedByExpiry, r.DeactivatedBy)
}

func TestManager_ExpiryAtExactEndTime(t *testing.T) {
	manager, _, clock := newTestManager(t)
	ctx := context.Background()

	end := clock.now.Add(time.Minute)
	_, err := manager.Restrictions().Apply(ctx, aiguard.ApplyRestrictionRequest{
		UserID: "user1", Feature: aiguard.FeatureQAGenerator, Type: aiguard.RestrictionRateLimit,
		Reason: "manual", EndTime: &end, CreatedBy: "admin1",
	})
	require.NoError(t, err)

	clock.now = end
	decision, err := manager.CheckAccess(ctx, "user1", aiguard.FeatureQAGenerator)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestManager_SweepExpired(t *testing.T) {
	manager, _, clock := newTestManager(t)
	ctx := context.Background()

	for _, user := range []string{"user1", "user2"} {
		for i := 0; i < 11; i++ {
			_, err := manager.RecordUsage(ctx, user, aiguard.FeatureInterviewPractice)
			require.NoError(t, err)
		}
	}

	n, err := manager.Restrictions().SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clock.Advance(2 * time.Hour)
	n, err = manager.Restrictions().SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	active, err := manager.Restrictions().List(ctx, aiguard.RestrictionFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestManager_RunSweeperStopsOnCancel(t *testing.T) {
	manager, _, _ := newTestManager(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- manager.RunSweeper(ctx, 10*time.Millisecond) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}

	assert.ErrorIs(t, manager.RunSweeper(context.Background(), 0), aiguard.ErrInvalidRequest)
}

func TestManager_ApplyRejectsPastEndTime(t *testing.T) {
	manager, _, clock := newTestManager(t)

	past := clock.now.Add(-time.Minute)
	_, err := manager.Restrictions().Apply(context.Background(), aiguard.ApplyRestrictionRequest{
		UserID: "user1", Feature: aiguard.FeatureQAGenerator, Type: aiguard.RestrictionRateLimit, EndTime: &past,
	})
	assert.ErrorIs(t, err, aiguard.ErrInvalidRequest)

	_, err = manager.Restrictions().Apply(context.Background(), aiguard.ApplyRestrictionRequest{
		UserID: "user1", Feature: aiguard.FeatureQAGenerator, Type: "shadow_ban",
	})
	assert.ErrorIs(t, err, aiguard.ErrInvalidRequest)

	_, err = manager.Restrictions().Apply(context.Background(), aiguard.ApplyRestrictionRequest{
		UserID: "user1", Feature: "image_generation", Type: aiguard.RestrictionUnderReview,
	})
	assert.ErrorIs(t, err, aiguard.ErrUnknownFeature)
	assert.ErrorIs(t, err, aiguard.ErrInvalidRequest)
}

func TestManager_LiftRestriction(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	r, err := manager.Restrictions().Apply(ctx, aiguard.ApplyRestrictionRequest{
		UserID: "user1", Feature: aiguard.FeatureQAGenerator, Type: aiguard.RestrictionUnderReview,
		Reason: "manual review", CreatedBy: "admin1",
	})
	require.NoError(t, err)
	assert.Nil(t, r.EndTime)

	decision, err := manager.CheckAccess(ctx, "user1", aiguard.FeatureQAGenerator)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	require.NoError(t, manager.Restrictions().Lift(ctx, r.ID, "admin2"))
	require.NoError(t, manager.Restrictions().Lift(ctx, r.ID, "admin2"))

	lifted, err := manager.Restrictions().Get(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, lifted.IsActive)
	assert.Equal(t, "admin2", lifted.DeactivatedBy)

	decision, err = manager.CheckAccess(ctx, "user1", aiguard.FeatureQAGenerator)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	err = manager.Restrictions().Lift(ctx, "missing", "admin2")
	assert.ErrorIs(t, err, aiguard.ErrRestrictionNotFound)
}

func TestManager_ReportViolation(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	v, r, err := manager.ReportViolation(ctx, aiguard.ReportViolationRequest{
		UserID: "user1", Feature: aiguard.FeatureHenryFeedback, Note: "scripted prompts", ReportedBy: "admin1",
	})
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.Equal(t, aiguard.ViolationSuspiciousPattern, v.Type)
	assert.Equal(t, "scripted prompts", v.Details.Note)
	assert.False(t, v.RestrictionApplied)

	v, r, err = manager.ReportViolation(ctx, aiguard.ReportViolationRequest{
		UserID: "user1", Feature: aiguard.FeatureHenryFeedback, ReportedBy: "admin1", PlaceUnderReview: true,
	})
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, aiguard.RestrictionUnderReview, r.Type)
	assert.Nil(t, r.EndTime)
	assert.Equal(t, "admin1", r.CreatedBy)
	assert.True(t, v.RestrictionApplied)

	_, _, err = manager.ReportViolation(ctx, aiguard.ReportViolationRequest{
		UserID: "user1", Feature: aiguard.FeatureHenryFeedback, ReportedBy: "admin1", Type: "spam",
	})
	assert.ErrorIs(t, err, aiguard.ErrInvalidRequest)

	_, _, err = manager.ReportViolation(ctx, aiguard.ReportViolationRequest{
		UserID: "user1", Feature: "image_generation", ReportedBy: "admin1", PlaceUnderReview: true,
	})
	assert.ErrorIs(t, err, aiguard.ErrUnknownFeature)

	list, err := manager.ListViolations(ctx, aiguard.ViolationFilter{Feature: "image_generation"})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestManager_ResolveViolation(t *testing.T) {
	manager, _, clock := newTestManager(t)
	ctx := context.Background()

	v, _, err := manager.ReportViolation(ctx, aiguard.ReportViolationRequest{
		UserID: "user1", Feature: aiguard.FeatureHenryFeedback, ReportedBy: "admin1",
	})
	require.NoError(t, err)

	resolved, err := manager.ResolveViolation(ctx, v.ID, "admin2")
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.Equal(t, "admin2", resolved.ResolvedBy)
	require.NotNil(t, resolved.ResolvedAt)
	assert.True(t, resolved.ResolvedAt.Equal(clock.now))

	clock.Advance(time.Hour)
	again, err := manager.ResolveViolation(ctx, v.ID, "admin3")
	require.NoError(t, err)
	assert.Equal(t, "admin2", again.ResolvedBy)

	unresolved, err := manager.ListViolations(ctx, aiguard.ViolationFilter{UnresolvedOnly: true})
	require.NoError(t, err)
	assert.Empty(t, unresolved)

	_, err = manager.ResolveViolation(ctx, "missing", "admin2")
	assert.ErrorIs(t, err, aiguard.ErrViolationNotFound)
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []*aiguard.Violation
	err   error
}

func (n *recordingNotifier) NotifyViolation(_ context.Context, v *aiguard.Violation, _ *aiguard.Restriction) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, v)
	return n.err
}

func TestManager_NotifierMarksWarningSent(t *testing.T) {
	notifier := &recordingNotifier{}
	manager, _, _ := newTestManager(t, func(c *aiguard.Config) { c.Notifier = notifier })
	ctx := context.Background()

	var outcome *aiguard.UsageOutcome
	var err error
	for i := 0; i < 11; i++ {
		outcome, err = manager.RecordUsage(ctx, "user1", aiguard.FeatureInterviewPractice)
		require.NoError(t, err)
	}
	require.NotNil(t, outcome.Violation)
	assert.True(t, outcome.Violation.WarningSent)
	assert.Len(t, notifier.calls, 1)
}

func TestManager_NotifierFailureIsNotFatal(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("smtp down")}
	manager, _, _ := newTestManager(t, func(c *aiguard.Config) { c.Notifier = notifier })
	ctx := context.Background()

	var outcome *aiguard.UsageOutcome
	var err error
	for i := 0; i < 11; i++ {
		outcome, err = manager.RecordUsage(ctx, "user1", aiguard.FeatureInterviewPractice)
		require.NoError(t, err)
	}
	require.NotNil(t, outcome.Violation)
	assert.False(t, outcome.Violation.WarningSent)
	assert.NotNil(t, outcome.Restriction)
}

func TestManager_AppealsDisabled(t *testing.T) {
	manager, _, _ := newTestManager(t, func(c *aiguard.Config) { c.Escalation.AppealsDisabled = true })
	ctx := context.Background()

	var outcome *aiguard.UsageOutcome
	var err error
	for i := 0; i < 11; i++ {
		outcome, err = manager.RecordUsage(ctx, "user1", aiguard.FeatureInterviewPractice)
		require.NoError(t, err)
	}
	require.NotNil(t, outcome.Restriction)
	assert.False(t, outcome.Restriction.CanAppeal)

	decision, err := manager.CheckAccess(ctx, "user1", aiguard.FeatureInterviewPractice)
	require.NoError(t, err)
	assert.NotContains(t, decision.Message, "appeal at")
}

func TestManager_ConcurrentUsage(t *testing.T) {
	manager, _, _ := newTestManager(t, func(c *aiguard.Config) {
		c.Features[aiguard.FeatureDocumentGeneration] = aiguard.FeaturePolicy{}
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := manager.RecordUsage(ctx, "user1", aiguard.FeatureDocumentGeneration)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := manager.GetUsage(ctx, "user1", aiguard.FeatureDocumentGeneration, manager.Now(ctx))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 100, rec.Counts.Daily)
	assert.Equal(t, 100, rec.Counts.Hourly)
}

func TestDenialMessage(t *testing.T) {
	end := time.Date(2026, 6, 3, 11, 0, 0, 0, time.UTC)
	r := &aiguard.Restriction{
		Feature: aiguard.FeatureQAGenerator, Reason: "too many requests", EndTime: &end, CanAppeal: true,
	}

	msg := aiguard.DenialMessage(r, "https://example.com/appeals")
	assert.Equal(t,
		"you are temporarily restricted from qa_generator, reason: too many requests, until 2026-06-03T11:00:00Z, appeal at https://example.com/appeals",
		msg)

	r.EndTime = nil
	r.CanAppeal = false
	assert.Equal(t, "you are temporarily restricted from qa_generator, reason: too many requests", aiguard.DenialMessage(r, "https://example.com/appeals"))
}
