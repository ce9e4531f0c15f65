// Package tiered provides a Hot/Cold tiered storage adapter. Usage counters
// live in a fast store (Hot, usually Redis) and are mirrored to the durable
// store (Cold, usually Postgres) for auditing. Violations, restrictions and
// appeals are always read and written on Cold.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mihaimyh/aiguard/pkg/aiguard"
)

// UsageMirror is implemented by stores that accept usage records computed
// by another store. Postgres and memory storage implement it.
type UsageMirror interface {
	PutUsageRecord(ctx context.Context, rec *aiguard.UsageRecord) error
}

// Config configures the tiered storage behavior
type Config struct {
	// Hot counts usage (e.g., Redis, Memory)
	Hot aiguard.UsageStore

	// Cold is the source of truth (e.g., Postgres)
	Cold aiguard.Storage

	// AsyncUsageSync mirrors usage records to Cold in the background.
	// If false, mirroring happens inside RecordUsage (slower but safer).
	// Mirroring is skipped when Cold does not implement UsageMirror.
	AsyncUsageSync bool

	// SyncBufferSize is the size of the buffered channel for async operations.
	// Default: 1000
	SyncBufferSize int

	// AsyncErrorHandler is called when mirroring fails.
	// Essential for monitoring consistency drift.
	AsyncErrorHandler func(error)
}

// Storage implements aiguard.Storage on top of a hot and a cold tier:
// - Hot-Primary/Async-Audit: RecordUsage (Hot atomic + Cold mirror)
// - Read-Through: GetUsage (Hot → Cold)
// - Cold-Only: violations, restrictions and appeals
type Storage struct {
	aiguard.Storage // cold

	hot    aiguard.UsageStore
	mirror UsageMirror
	conf   Config

	// Channel for async synchronization
	syncQueue chan func() error
	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ aiguard.Storage = (*Storage)(nil)

// New creates a new tiered storage adapter.
func New(config Config) (*Storage, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold storage are required")
	}

	if config.SyncBufferSize <= 0 {
		config.SyncBufferSize = 1000
	}

	s := &Storage{
		Storage:   config.Cold,
		hot:       config.Hot,
		conf:      config,
		syncQueue: make(chan func() error, config.SyncBufferSize),
		shutdown:  make(chan struct{}),
	}
	s.mirror, _ = config.Cold.(UsageMirror)

	if config.AsyncUsageSync {
		s.startWorker()
	}

	return s, nil
}

// Close gracefully shuts down the async worker (if enabled), flushing queued mirrors.
func (s *Storage) Close() error {
	if s.conf.AsyncUsageSync {
		s.closeOnce.Do(func() {
			close(s.shutdown)
			s.wg.Wait()
		})
	}
	return nil
}

// startWorker runs the background synchronization loop.
// Jobs run one at a time so mirrors of the same pair keep their order.
func (s *Storage) startWorker() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.syncQueue:
				s.run(job)
			case <-s.shutdown:
				for {
					select {
					case job := <-s.syncQueue:
						s.run(job)
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Storage) run(job func() error) {
	if err := job(); err != nil {
		s.reportError(fmt.Errorf("tiered sync failed: %w", err))
	}
}

func (s *Storage) reportError(err error) {
	if s.conf.AsyncErrorHandler != nil {
		s.conf.AsyncErrorHandler(err)
	}
}

// RecordUsage implements aiguard.UsageStore with hot-primary/async-audit strategy.
func (s *Storage) RecordUsage(ctx context.Context, req *aiguard.RecordUsageRequest) (*aiguard.UsageResult, error) {
	// 1. Count on Hot store (atomic, fast)
	res, err := s.hot.RecordUsage(ctx, req)
	if err != nil {
		return nil, err
	}
	if s.mirror == nil {
		return res, nil
	}

	// 2. Mirror to Cold store (audit trail)
	rec := *res.Record
	if s.conf.AsyncUsageSync {
		select {
		case s.syncQueue <- func() error {
			// Background context so the mirror completes after the request ends
			return s.mirror.PutUsageRecord(context.Background(), &rec)
		}:
		default:
			s.reportError(errors.New("tiered storage: sync queue full, dropping cold write"))
		}
		return res, nil
	}

	// Hot already counted the call, so a cold failure is reported and not returned
	if err := s.mirror.PutUsageRecord(ctx, &rec); err != nil {
		s.reportError(fmt.Errorf("tiered storage: sync cold write failed: %w", err))
	}
	return res, nil
}

// GetUsage implements aiguard.UsageStore with read-through strategy.
func (s *Storage) GetUsage(
	ctx context.Context, userID string, feature aiguard.FeatureType, date string,
) (*aiguard.UsageRecord, error) {
	rec, err := s.hot.GetUsage(ctx, userID, feature, date)
	if err == nil && rec != nil {
		return rec, nil
	}
	return s.Storage.GetUsage(ctx, userID, feature, date)
}

// Now uses Hot store time for consistency (usually Redis TIME).
// Falls back to Cold if Hot doesn't support it, then local time.
func (s *Storage) Now(ctx context.Context) (time.Time, error) {
	if ts, ok := s.hot.(aiguard.TimeSource); ok {
		return ts.Now(ctx)
	}
	if ts, ok := s.Storage.(aiguard.TimeSource); ok {
		return ts.Now(ctx)
	}
	return time.Now().UTC(), nil
}
