package tiered

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

var base = time.Date(2026, 6, 3, 10, 0, 0, 0, time.UTC)

func usageReq(userID string, now time.Time) *aiguard.RecordUsageRequest {
	return &aiguard.RecordUsageRequest{UserID: userID, Feature: aiguard.FeatureQAGenerator, Now: now, Location: time.UTC}
}

// failingMirror wraps memory storage and fails every mirrored write
type failingMirror struct {
	*memory.Storage
}

func (failingMirror) PutUsageRecord(context.Context, *aiguard.UsageRecord) error {
	return errors.New("cold store down")
}

// coldWithoutMirror hides PutUsageRecord from the tiered storage
type coldWithoutMirror struct {
	aiguard.Storage
}

// blockingMirror holds mirrored writes until release is closed
type blockingMirror struct {
	*memory.Storage
	release chan struct{}
}

func (m *blockingMirror) PutUsageRecord(ctx context.Context, rec *aiguard.UsageRecord) error {
	<-m.release
	return m.Storage.PutUsageRecord(ctx, rec)
}

func TestNew(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		storage, err := New(Config{Hot: memory.New(), Cold: memory.New()})
		assert.NoError(t, err)
		assert.NotNil(t, storage)
		assert.NotNil(t, storage.mirror)
		assert.NoError(t, storage.Close())
	})

	t.Run("nil hot storage", func(t *testing.T) {
		storage, err := New(Config{Cold: memory.New()})
		assert.Error(t, err)
		assert.Nil(t, storage)
		assert.Contains(t, err.Error(), "hot and cold storage are required")
	})

	t.Run("nil cold storage", func(t *testing.T) {
		storage, err := New(Config{Hot: memory.New()})
		assert.Error(t, err)
		assert.Nil(t, storage)
	})

	t.Run("default sync buffer size", func(t *testing.T) {
		storage, err := New(Config{Hot: memory.New(), Cold: memory.New(), AsyncUsageSync: true})
		require.NoError(t, err)
		defer storage.Close()
		assert.Equal(t, 1000, cap(storage.syncQueue))
	})

	t.Run("custom sync buffer size", func(t *testing.T) {
		storage, err := New(Config{Hot: memory.New(), Cold: memory.New(), AsyncUsageSync: true, SyncBufferSize: 500})
		require.NoError(t, err)
		defer storage.Close()
		assert.Equal(t, 500, cap(storage.syncQueue))
	})

	t.Run("close twice", func(t *testing.T) {
		storage, err := New(Config{Hot: memory.New(), Cold: memory.New(), AsyncUsageSync: true})
		require.NoError(t, err)
		assert.NoError(t, storage.Close())
		assert.NoError(t, storage.Close())
	})
}

func TestStorage_RecordUsage_SyncMirror(t *testing.T) {
	hot := memory.New()
	cold := memory.New()
	storage, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)
	defer storage.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := storage.RecordUsage(ctx, usageReq("user1", base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	coldRec, err := cold.GetUsage(ctx, "user1", aiguard.FeatureQAGenerator, "2026-06-03")
	require.NoError(t, err)
	require.NotNil(t, coldRec)
	assert.Equal(t, 3, coldRec.Counts.Daily)
	assert.True(t, coldRec.LastUsedAt.Equal(base.Add(2*time.Minute)))
}

func TestStorage_RecordUsage_AsyncMirror(t *testing.T) {
	hot := memory.New()
	cold := memory.New()
	storage, err := New(Config{Hot: hot, Cold: cold, AsyncUsageSync: true})
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := storage.RecordUsage(ctx, usageReq("user1", base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}

	// Close drains the queue
	require.NoError(t, storage.Close())

	coldRec, err := cold.GetUsage(ctx, "user1", aiguard.FeatureQAGenerator, "2026-06-03")
	require.NoError(t, err)
	require.NotNil(t, coldRec)
	assert.Equal(t, 10, coldRec.Counts.Daily)
}

func TestStorage_RecordUsage_MirrorFailure(t *testing.T) {
	var mu sync.Mutex
	var reported []error
	storage, err := New(Config{
		Hot:  memory.New(),
		Cold: failingMirror{memory.New()},
		AsyncErrorHandler: func(err error) {
			mu.Lock()
			defer mu.Unlock()
			reported = append(reported, err)
		},
	})
	require.NoError(t, err)
	defer storage.Close()

	res, err := storage.RecordUsage(context.Background(), usageReq("user1", base))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Record.Counts.Daily)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 1)
	assert.Contains(t, reported[0].Error(), "cold store down")
}

func TestStorage_RecordUsage_QueueFull(t *testing.T) {
	cold := &blockingMirror{Storage: memory.New(), release: make(chan struct{})}
	var dropped sync.WaitGroup
	dropped.Add(1)
	var once sync.Once
	storage, err := New(Config{
		Hot:            memory.New(),
		Cold:           cold,
		AsyncUsageSync: true,
		SyncBufferSize: 1,
		AsyncErrorHandler: func(err error) {
			if assert.Contains(t, err.Error(), "queue full") {
				once.Do(dropped.Done)
			}
		},
	})
	require.NoError(t, err)

	// the worker blocks on the first job, the second fills the buffer
	for i := 0; i < 5; i++ {
		_, err := storage.RecordUsage(context.Background(), usageReq("user1", base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}
	dropped.Wait()

	close(cold.release)
	require.NoError(t, storage.Close())
}

func TestStorage_RecordUsage_NoMirror(t *testing.T) {
	cold := memory.New()
	storage, err := New(Config{Hot: memory.New(), Cold: coldWithoutMirror{cold}})
	require.NoError(t, err)
	defer storage.Close()
	assert.Nil(t, storage.mirror)

	_, err = storage.RecordUsage(context.Background(), usageReq("user1", base))
	require.NoError(t, err)

	rec, err := cold.GetUsage(context.Background(), "user1", aiguard.FeatureQAGenerator, "2026-06-03")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStorage_GetUsage_ReadThrough(t *testing.T) {
	hot := memory.New()
	cold := memory.New()
	storage, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)
	defer storage.Close()
	ctx := context.Background()

	t.Run("hot hit", func(t *testing.T) {
		_, err := hot.RecordUsage(ctx, usageReq("user1", base))
		require.NoError(t, err)

		rec, err := storage.GetUsage(ctx, "user1", aiguard.FeatureQAGenerator, "2026-06-03")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, 1, rec.Counts.Daily)
	})

	t.Run("hot miss, cold hit", func(t *testing.T) {
		// history from before the hot tier was introduced
		_, err := cold.RecordUsage(ctx, usageReq("user2", base.Add(-72*time.Hour)))
		require.NoError(t, err)

		rec, err := storage.GetUsage(ctx, "user2", aiguard.FeatureQAGenerator, "2026-05-31")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "user2", rec.UserID)
	})

	t.Run("miss everywhere", func(t *testing.T) {
		rec, err := storage.GetUsage(ctx, "nobody", aiguard.FeatureQAGenerator, "2026-06-03")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})
}

func TestStorage_ColdOnlyEntities(t *testing.T) {
	hot := memory.New()
	cold := memory.New()
	storage, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)
	defer storage.Close()
	ctx := context.Background()

	_, err = storage.ApplyRestriction(ctx, &aiguard.Restriction{
		ID: "r1", UserID: "user1", Feature: aiguard.FeatureQAGenerator, Type: aiguard.RestrictionUnderReview,
		StartTime: base, IsActive: true, CreatedBy: "admin1", CreatedAt: base,
	})
	require.NoError(t, err)

	r, err := cold.GetRestriction(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, r.IsActive)

	_, err = hot.GetRestriction(ctx, "r1")
	assert.ErrorIs(t, err, aiguard.ErrRestrictionNotFound)
}

func TestStorage_WithManager(t *testing.T) {
	now := base
	cold := memory.New()
	storage, err := New(Config{Hot: memory.New(), Cold: cold})
	require.NoError(t, err)
	defer storage.Close()

	manager, err := aiguard.NewManager(storage, &aiguard.Config{
		Features:   map[aiguard.FeatureType]aiguard.FeaturePolicy{aiguard.FeatureQAGenerator: {MaxPerHour: 2}},
		TimeSource: aiguard.FixedTime(&now),
	})
	require.NoError(t, err)
	ctx := context.Background()

	var outcome *aiguard.UsageOutcome
	for i := 0; i < 3; i++ {
		outcome, err = manager.RecordUsage(ctx, "user1", aiguard.FeatureQAGenerator)
		require.NoError(t, err)
	}
	require.NotNil(t, outcome.Violation)
	require.NotNil(t, outcome.Restriction)

	violations, err := cold.ListViolations(ctx, aiguard.ViolationFilter{UserID: "user1"})
	require.NoError(t, err)
	assert.Len(t, violations, 1)

	rec, err := cold.GetUsage(ctx, "user1", aiguard.FeatureQAGenerator, "2026-06-03")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Counts.Hourly)
}

func TestStorage_Now(t *testing.T) {
	storage, err := New(Config{Hot: memory.New(), Cold: memory.New()})
	require.NoError(t, err)
	defer storage.Close()

	now, err := storage.Now(context.Background())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), now, time.Second)
}
