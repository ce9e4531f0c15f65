package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mihaimyh/aiguard/pkg/aiguard"
)

var (
	_ aiguard.Storage    = (*Storage)(nil)
	_ aiguard.TimeSource = (*Storage)(nil)
)

const usageColumns = `user_id, feature_type, to_char(usage_date, 'YYYY-MM-DD'),
	hourly_count, daily_count, weekly_count, monthly_count,
	last_hour, last_used_at, created_at, updated_at`

func scanUsage(row pgx.Row) (*aiguard.UsageRecord, error) {
	var rec aiguard.UsageRecord
	err := row.Scan(
		&rec.UserID,
		&rec.Feature,
		&rec.Date,
		&rec.Counts.Hourly,
		&rec.Counts.Daily,
		&rec.Counts.Weekly,
		&rec.Counts.Monthly,
		&rec.LastHour,
		&rec.LastUsedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.LastUsedAt = rec.LastUsedAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

// RecordUsage implements aiguard.UsageStore. The latest record of the pair is
// read and rewritten under an advisory lock so concurrent calls never lose
// an increment.
func (s *Storage) RecordUsage(ctx context.Context, req *aiguard.RecordUsageRequest) (*aiguard.UsageResult, error) {
	if req == nil || req.UserID == "" || req.Feature == "" {
		return nil, fmt.Errorf("invalid usage request")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	if err := lockPair(ctx, tx, req.UserID, string(req.Feature)); err != nil {
		return nil, err
	}

	last, err := scanUsage(tx.QueryRow(ctx,
		`SELECT `+usageColumns+`
			FROM ai_usage_tracking
			WHERE user_id = $1 AND feature_type = $2
			ORDER BY usage_date DESC
			LIMIT 1`,
		req.UserID, string(req.Feature)))
	if err == pgx.ErrNoRows {
		last = nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get latest usage: %w", err)
	}

	next, res, err := aiguard.ApplyUsage(last, req)
	if err != nil {
		return nil, err
	}

	if err := upsertUsage(ctx, tx, next); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return res, nil
}

const upsertUsageSQL = `INSERT INTO ai_usage_tracking
		(user_id, feature_type, usage_date, hourly_count, daily_count, weekly_count, monthly_count,
		last_hour, last_used_at, created_at, updated_at)
	VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (user_id, feature_type, usage_date) DO UPDATE SET
		hourly_count = EXCLUDED.hourly_count,
		daily_count = EXCLUDED.daily_count,
		weekly_count = EXCLUDED.weekly_count,
		monthly_count = EXCLUDED.monthly_count,
		last_hour = EXCLUDED.last_hour,
		last_used_at = EXCLUDED.last_used_at,
		updated_at = EXCLUDED.updated_at`

func usageArgs(rec *aiguard.UsageRecord) []interface{} {
	return []interface{}{
		rec.UserID, string(rec.Feature), rec.Date,
		rec.Counts.Hourly, rec.Counts.Daily, rec.Counts.Weekly, rec.Counts.Monthly,
		rec.LastHour, rec.LastUsedAt, rec.CreatedAt, rec.UpdatedAt,
	}
}

func upsertUsage(ctx context.Context, tx pgx.Tx, rec *aiguard.UsageRecord) error {
	if _, err := tx.Exec(ctx, upsertUsageSQL, usageArgs(rec)...); err != nil {
		return fmt.Errorf("failed to write usage: %w", err)
	}
	return nil
}

// PutUsageRecord stores a usage record computed elsewhere, e.g. by a hot
// Redis tier. A record older than the stored one for the same day is ignored,
// so out-of-order mirror writes never roll counters back. Records with the
// same last use time are ordered by their daily count.
func (s *Storage) PutUsageRecord(ctx context.Context, rec *aiguard.UsageRecord) error {
	if rec == nil || rec.UserID == "" || rec.Feature == "" || rec.Date == "" {
		return fmt.Errorf("invalid usage record")
	}
	_, err := s.pool.Exec(ctx,
		upsertUsageSQL+` WHERE (ai_usage_tracking.last_used_at, ai_usage_tracking.daily_count)
			<= (EXCLUDED.last_used_at, EXCLUDED.daily_count)`,
		usageArgs(rec)...)
	if err != nil {
		return fmt.Errorf("failed to put usage record: %w", err)
	}
	return nil
}

// GetUsage implements aiguard.UsageStore
func (s *Storage) GetUsage(
	ctx context.Context, userID string, feature aiguard.FeatureType, date string,
) (*aiguard.UsageRecord, error) {
	rec, err := scanUsage(s.pool.QueryRow(ctx,
		`SELECT `+usageColumns+`
			FROM ai_usage_tracking
			WHERE user_id = $1 AND feature_type = $2 AND usage_date = $3::date`,
		userID, string(feature), date))
	if err == pgx.ErrNoRows {
		return nil, nil // No usage yet is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	return rec, nil
}
