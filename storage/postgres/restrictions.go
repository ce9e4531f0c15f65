package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mihaimyh/aiguard/pkg/aiguard"
)

const restrictionColumns = `id, user_id, feature_type, restriction_type, start_time, end_time,
	reason, can_appeal, is_active, violation_id, created_by, deactivated_at, deactivated_by, created_at`

func scanRestriction(row pgx.Row) (*aiguard.Restriction, error) {
	var r aiguard.Restriction
	var violationID, deactivatedBy *string
	err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.Feature,
		&r.Type,
		&r.StartTime,
		&r.EndTime,
		&r.Reason,
		&r.CanAppeal,
		&r.IsActive,
		&violationID,
		&r.CreatedBy,
		&r.DeactivatedAt,
		&deactivatedBy,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.ViolationID = derefString(violationID)
	r.DeactivatedBy = derefString(deactivatedBy)
	r.StartTime = r.StartTime.UTC()
	r.EndTime = utcPtr(r.EndTime)
	r.DeactivatedAt = utcPtr(r.DeactivatedAt)
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

func collectRestrictions(rows pgx.Rows) ([]*aiguard.Restriction, error) {
	defer rows.Close()
	list := make([]*aiguard.Restriction, 0)
	for rows.Next() {
		r, err := scanRestriction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan restriction: %w", err)
		}
		list = append(list, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// GetActiveRestriction implements aiguard.RestrictionStore
func (s *Storage) GetActiveRestriction(
	ctx context.Context, userID string, feature aiguard.FeatureType,
) (*aiguard.Restriction, error) {
	r, err := scanRestriction(s.pool.QueryRow(ctx,
		`SELECT `+restrictionColumns+`
			FROM user_restrictions
			WHERE user_id = $1 AND feature_type = $2 AND is_active`,
		userID, string(feature)))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active restriction: %w", err)
	}
	return r, nil
}

// ApplyRestriction implements aiguard.RestrictionStore
func (s *Storage) ApplyRestriction(ctx context.Context, r *aiguard.Restriction) ([]*aiguard.Restriction, error) {
	if r == nil || r.ID == "" {
		return nil, fmt.Errorf("invalid restriction")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	if err := lockPair(ctx, tx, r.UserID, string(r.Feature)); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx,
		`UPDATE user_restrictions
			SET is_active = FALSE, deactivated_at = $3, deactivated_by = $4
			WHERE user_id = $1 AND feature_type = $2 AND is_active
			RETURNING `+restrictionColumns,
		r.UserID, string(r.Feature), r.StartTime, aiguard.DeactivatedBySupersede)
	if err != nil {
		return nil, fmt.Errorf("failed to supersede restrictions: %w", err)
	}
	superseded, err := collectRestrictions(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to supersede restrictions: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO user_restrictions
				(id, user_id, feature_type, restriction_type, start_time, end_time, reason,
				can_appeal, is_active, violation_id, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, $9, $10, $11)`,
		r.ID, r.UserID, string(r.Feature), string(r.Type), r.StartTime, r.EndTime, r.Reason,
		r.CanAppeal, nullString(r.ViolationID), r.CreatedBy, r.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert restriction: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return superseded, nil
}

// DeactivateRestriction implements aiguard.RestrictionStore
func (s *Storage) DeactivateRestriction(ctx context.Context, id string, at time.Time, by string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	var active bool
	err = tx.QueryRow(ctx,
		`SELECT is_active FROM user_restrictions WHERE id = $1 FOR UPDATE`, id).Scan(&active)
	if err == pgx.ErrNoRows {
		return false, aiguard.ErrRestrictionNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to get restriction for update: %w", err)
	}
	if !active {
		return false, nil
	}

	_, err = tx.Exec(ctx,
		`UPDATE user_restrictions
			SET is_active = FALSE, deactivated_at = $2, deactivated_by = $3
			WHERE id = $1`,
		id, at, by)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate restriction: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}
	return true, nil
}

// GetRestriction implements aiguard.RestrictionStore
func (s *Storage) GetRestriction(ctx context.Context, id string) (*aiguard.Restriction, error) {
	r, err := scanRestriction(s.pool.QueryRow(ctx,
		`SELECT `+restrictionColumns+` FROM user_restrictions WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, aiguard.ErrRestrictionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get restriction: %w", err)
	}
	return r, nil
}

// ListRestrictions implements aiguard.RestrictionStore
func (s *Storage) ListRestrictions(
	ctx context.Context, filter aiguard.RestrictionFilter,
) ([]*aiguard.Restriction, error) {
	var w whereClause
	if filter.UserID != "" {
		w.add("user_id = $%d", filter.UserID)
	}
	if filter.Feature != "" {
		w.add("feature_type = $%d", string(filter.Feature))
	}
	if filter.ActiveOnly {
		w.addRaw("is_active")
	}
	query := `SELECT ` + restrictionColumns + ` FROM user_restrictions` + w.String() +
		` ORDER BY created_at DESC, id DESC` + w.limit(aiguard.EffectiveLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list restrictions: %w", err)
	}
	list, err := collectRestrictions(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list restrictions: %w", err)
	}
	return list, nil
}

// DeactivateExpired implements aiguard.RestrictionStore
func (s *Storage) DeactivateExpired(ctx context.Context, now time.Time) ([]*aiguard.Restriction, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE user_restrictions
			SET is_active = FALSE, deactivated_at = $1, deactivated_by = $2
			WHERE is_active AND end_time IS NOT NULL AND end_time <= $1
			RETURNING `+restrictionColumns,
		now, aiguard.DeactivatedBySweep)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate expired restrictions: %w", err)
	}
	expired, err := collectRestrictions(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate expired restrictions: %w", err)
	}
	return expired, nil
}
