package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mihaimyh/aiguard/pkg/aiguard"
	"github.com/mihaimyh/aiguard/storage/memory"
)

// errorStorage fails restriction lookups and usage writes on demand
type errorStorage struct {
	*memory.Storage
	failChecks  bool
	failRecords bool
}

func (s *errorStorage) GetActiveRestriction(
	ctx context.Context, userID string, feature aiguard.FeatureType,
) (*aiguard.Restriction, error) {
	if s.failChecks {
		return nil, errors.New("connection refused")
	}
	return s.Storage.GetActiveRestriction(ctx, userID, feature)
}

func (s *errorStorage) RecordUsage(ctx context.Context, req *aiguard.RecordUsageRequest) (*aiguard.UsageResult, error) {
	if s.failRecords {
		return nil, errors.New("connection refused")
	}
	return s.Storage.RecordUsage(ctx, req)
}

var testNow = time.Date(2026, 6, 3, 10, 0, 0, 0, time.UTC)

// Test helper to create a test manager
func setupTestManager(t *testing.T, storage aiguard.Storage) *aiguard.Manager {
	t.Helper()

	now := testNow
	manager, err := aiguard.NewManager(storage, &aiguard.Config{
		Features: map[aiguard.FeatureType]aiguard.FeaturePolicy{
			aiguard.FeatureInterviewPractice: {MaxPerHour: 2},
		},
		TimeSource: aiguard.FixedTime(&now),
	})
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	return manager
}

func newHandler(manager *aiguard.Manager, status int, config Config) http.Handler {
	config.Manager = manager
	if config.GetUserID == nil {
		config.GetUserID = FromHeader("X-User-ID")
	}
	if config.GetFeature == nil {
		config.GetFeature = FixedFeature(aiguard.FeatureInterviewPractice)
	}
	return Middleware(config)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("done"))
	}))
}

func serve(handler http.Handler, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/interview/practice", http.NoBody)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func dailyCount(t *testing.T, manager *aiguard.Manager, userID string) int {
	t.Helper()
	usage, err := manager.GetUsage(context.Background(), userID, aiguard.FeatureInterviewPractice, testNow)
	if err != nil {
		t.Fatalf("Failed to get usage: %v", err)
	}
	if usage == nil {
		return 0
	}
	return usage.Counts.Daily
}

func TestMiddleware_Success(t *testing.T) {
	manager := setupTestManager(t, memory.New())
	handler := newHandler(manager, http.StatusOK, Config{})

	rec := serve(handler, "user1")

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != "done" {
		t.Errorf("Expected 'done', got %s", rec.Body.String())
	}
	if got := dailyCount(t, manager, "user1"); got != 1 {
		t.Errorf("Expected 1 recorded call, got %d", got)
	}
}

func TestMiddleware_Unauthorized(t *testing.T) {
	manager := setupTestManager(t, memory.New())
	handler := newHandler(manager, http.StatusOK, Config{})

	rec := serve(handler, "")

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rec.Code)
	}
}

func TestMiddleware_CustomUnauthorized(t *testing.T) {
	manager := setupTestManager(t, memory.New())
	handler := newHandler(manager, http.StatusOK, Config{
		OnUnauthorized: func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "login first", http.StatusTeapot)
		},
	})

	rec := serve(handler, "")

	if rec.Code != http.StatusTeapot {
		t.Errorf("Expected status 418, got %d", rec.Code)
	}
}

func TestMiddleware_DeniedAfterViolation(t *testing.T) {
	manager := setupTestManager(t, memory.New())
	handler := newHandler(manager, http.StatusOK, Config{})

	// the third call exceeds the hourly limit and is still served
	for i := 0; i < 3; i++ {
		if rec := serve(handler, "user1"); rec.Code != http.StatusOK {
			t.Fatalf("Call %d: expected status 200, got %d", i+1, rec.Code)
		}
	}

	rec := serve(handler, "user1")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("Expected status 403, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "3600" {
		t.Errorf("Expected Retry-After 3600, got %q", rec.Header().Get("Retry-After"))
	}

	var body DeniedBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body.RestrictionID == "" || !body.CanAppeal || body.Until == nil {
		t.Errorf("Unexpected denial body: %+v", body)
	}
	if got := dailyCount(t, manager, "user1"); got != 3 {
		t.Errorf("Denied call must not be recorded, got %d calls", got)
	}

	// other users are not affected
	if rec := serve(handler, "user2"); rec.Code != http.StatusOK {
		t.Errorf("Expected status 200 for user2, got %d", rec.Code)
	}
}

func TestMiddleware_CustomDenied(t *testing.T) {
	manager := setupTestManager(t, memory.New())
	_, err := manager.Restrictions().Apply(context.Background(), aiguard.ApplyRestrictionRequest{
		UserID: "user1", Feature: aiguard.FeatureInterviewPractice, Type: aiguard.RestrictionUnderReview,
		Reason: "review", CreatedBy: "admin1",
	})
	if err != nil {
		t.Fatalf("Failed to apply restriction: %v", err)
	}

	var got *aiguard.AccessDecision
	handler := newHandler(manager, http.StatusOK, Config{
		OnDenied: func(w http.ResponseWriter, _ *http.Request, decision *aiguard.AccessDecision) {
			got = decision
			w.WriteHeader(http.StatusTooManyRequests)
		},
	})

	rec := serve(handler, "user1")

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", rec.Code)
	}
	if got == nil || got.Restriction == nil || got.Restriction.Type != aiguard.RestrictionUnderReview {
		t.Errorf("Expected under_review decision, got %+v", got)
	}
}

func TestMiddleware_FailedHandlerIsNotRecorded(t *testing.T) {
	manager := setupTestManager(t, memory.New())
	handler := newHandler(manager, http.StatusBadGateway, Config{})

	rec := serve(handler, "user1")

	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", rec.Code)
	}
	if got := dailyCount(t, manager, "user1"); got != 0 {
		t.Errorf("Expected no recorded call, got %d", got)
	}
}

func TestMiddleware_ImplicitStatusIsRecorded(t *testing.T) {
	manager := setupTestManager(t, memory.New())
	handler := Middleware(Config{
		Manager:    manager,
		GetUserID:  FromHeader("X-User-ID"),
		GetFeature: FixedFeature(aiguard.FeatureInterviewPractice),
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("implicit 200"))
	}))

	serve(handler, "user1")

	if got := dailyCount(t, manager, "user1"); got != 1 {
		t.Errorf("Expected 1 recorded call, got %d", got)
	}
}

func TestMiddleware_StoreUnavailable(t *testing.T) {
	storage := &errorStorage{Storage: memory.New(), failChecks: true}
	manager := setupTestManager(t, storage)
	var called atomic.Bool
	handler := Middleware(Config{
		Manager:    manager,
		GetUserID:  FromHeader("X-User-ID"),
		GetFeature: FixedFeature(aiguard.FeatureInterviewPractice),
	})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called.Store(true)
	}))

	rec := serve(handler, "user1")

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", rec.Code)
	}
	if called.Load() {
		t.Error("Handler must not run when access cannot be checked")
	}
}

func TestMiddleware_UnknownFeature(t *testing.T) {
	manager := setupTestManager(t, memory.New())
	var gotErr error
	handler := newHandler(manager, http.StatusOK, Config{
		GetFeature: FixedFeature("image_generation"),
		OnError: func(w http.ResponseWriter, _ *http.Request, err error) {
			gotErr = err
			w.WriteHeader(http.StatusInternalServerError)
		},
	})

	rec := serve(handler, "user1")

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", rec.Code)
	}
	if !errors.Is(gotErr, aiguard.ErrUnknownFeature) {
		t.Errorf("Expected ErrUnknownFeature, got %v", gotErr)
	}
}

func TestMiddleware_RecordError(t *testing.T) {
	storage := &errorStorage{Storage: memory.New(), failRecords: true}
	manager := setupTestManager(t, storage)
	var recordErr error
	handler := newHandler(manager, http.StatusCreated, Config{
		OnRecordError: func(_ *http.Request, err error) {
			recordErr = err
		},
	})

	rec := serve(handler, "user1")

	if rec.Code != http.StatusCreated {
		t.Errorf("Response must not be rewritten, got %d", rec.Code)
	}
	if !errors.Is(recordErr, aiguard.ErrStoreUnavailable) {
		t.Errorf("Expected ErrStoreUnavailable, got %v", recordErr)
	}
}

func TestMiddleware_FromContext(t *testing.T) {
	manager := setupTestManager(t, memory.New())
	handler := newHandler(manager, http.StatusOK, Config{GetUserID: FromContext(UserIDKey)})

	req := httptest.NewRequest("POST", "/interview/practice", http.NoBody)
	req = req.WithContext(WithUserID(req.Context(), "ctx-user"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if got := dailyCount(t, manager, "ctx-user"); got != 1 {
		t.Errorf("Expected 1 recorded call, got %d", got)
	}
}

func TestMiddleware_FromPathValue(t *testing.T) {
	manager := setupTestManager(t, memory.New())
	mux := http.NewServeMux()
	mux.Handle("POST /ai/{feature}", newHandler(manager, http.StatusOK, Config{GetFeature: FromPathValue("feature")}))

	req := httptest.NewRequest("POST", "/ai/interview_practice", http.NoBody)
	req.Header.Set("X-User-ID", "user1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if got := dailyCount(t, manager, "user1"); got != 1 {
		t.Errorf("Expected 1 recorded call, got %d", got)
	}
}

func TestHandlerFunc(t *testing.T) {
	manager := setupTestManager(t, memory.New())
	wrap := HandlerFunc(Config{
		Manager:    manager,
		GetUserID:  FromHeader("X-User-ID"),
		GetFeature: FixedFeature(aiguard.FeatureInterviewPractice),
	})
	handler := wrap(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	rec := serve(handler, "user1")

	if rec.Code != http.StatusAccepted {
		t.Errorf("Expected status 202, got %d", rec.Code)
	}
}

func TestMiddleware_PanicsOnMissingConfig(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for missing manager")
		}
	}()
	Middleware(Config{})
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 6, 3, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		end  time.Time
		want string
	}{
		{now.Add(time.Hour), "3600"},
		{now.Add(1500 * time.Millisecond), "2"},
		{now, "1"},
		{now.Add(-time.Minute), "1"},
	}
	for _, tt := range tests {
		if got := RetryAfter(tt.end, now); got != tt.want {
			t.Errorf("RetryAfter(%v) = %s, want %s", tt.end, got, tt.want)
		}
	}
}
