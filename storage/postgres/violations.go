package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mihaimyh/aiguard/pkg/aiguard"
)

const violationColumns = `id, user_id, feature_type, violation_type, details,
	warning_sent, restriction_applied, resolved, resolved_by, resolved_at, created_at`

func scanViolation(row pgx.Row) (*aiguard.Violation, error) {
	var v aiguard.Violation
	var details []byte
	var resolvedBy *string
	err := row.Scan(
		&v.ID,
		&v.UserID,
		&v.Feature,
		&v.Type,
		&details,
		&v.WarningSent,
		&v.RestrictionApplied,
		&v.Resolved,
		&resolvedBy,
		&v.ResolvedAt,
		&v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &v.Details); err != nil {
			return nil, fmt.Errorf("failed to decode violation details: %w", err)
		}
	}
	v.ResolvedBy = derefString(resolvedBy)
	v.ResolvedAt = utcPtr(v.ResolvedAt)
	v.CreatedAt = v.CreatedAt.UTC()
	return &v, nil
}

// CreateViolation implements aiguard.ViolationStore
func (s *Storage) CreateViolation(ctx context.Context, v *aiguard.Violation) error {
	if v == nil || v.ID == "" {
		return fmt.Errorf("invalid violation")
	}

	// pgx encodes JSONB parameters from string, not []byte
	details, err := json.Marshal(v.Details)
	if err != nil {
		return fmt.Errorf("failed to encode violation details: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO usage_violations
				(id, user_id, feature_type, violation_type, details,
				warning_sent, restriction_applied, resolved, resolved_by, resolved_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		v.ID, v.UserID, string(v.Feature), string(v.Type), string(details),
		v.WarningSent, v.RestrictionApplied, v.Resolved, nullString(v.ResolvedBy), v.ResolvedAt, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create violation: %w", err)
	}
	return nil
}

// GetViolation implements aiguard.ViolationStore
func (s *Storage) GetViolation(ctx context.Context, id string) (*aiguard.Violation, error) {
	v, err := scanViolation(s.pool.QueryRow(ctx,
		`SELECT `+violationColumns+` FROM usage_violations WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, aiguard.ErrViolationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get violation: %w", err)
	}
	return v, nil
}

// ListViolations implements aiguard.ViolationStore
func (s *Storage) ListViolations(ctx context.Context, filter aiguard.ViolationFilter) ([]*aiguard.Violation, error) {
	var w whereClause
	if filter.UserID != "" {
		w.add("user_id = $%d", filter.UserID)
	}
	if filter.Feature != "" {
		w.add("feature_type = $%d", string(filter.Feature))
	}
	if filter.UnresolvedOnly {
		w.addRaw("NOT resolved")
	}
	query := `SELECT ` + violationColumns + ` FROM usage_violations` + w.String() +
		` ORDER BY created_at DESC, id DESC` + w.limit(aiguard.EffectiveLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list violations: %w", err)
	}
	defer rows.Close()

	list := make([]*aiguard.Violation, 0)
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		list = append(list, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list violations: %w", err)
	}
	return list, nil
}

// CountViolations implements aiguard.ViolationStore
func (s *Storage) CountViolations(
	ctx context.Context, userID string, feature aiguard.FeatureType, since time.Time,
) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM usage_violations
			WHERE user_id = $1 AND feature_type = $2 AND created_at >= $3`,
		userID, string(feature), since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count violations: %w", err)
	}
	return n, nil
}

// UpdateViolation implements aiguard.ViolationStore. Flags are OR-ed so
// they never move back to false; resolution fields are written once.
func (s *Storage) UpdateViolation(
	ctx context.Context, id string, update aiguard.ViolationUpdate,
) (*aiguard.Violation, error) {
	var resolvedAt *time.Time
	if update.Resolved {
		resolvedAt = &update.ResolvedAt
	}
	v, err := scanViolation(s.pool.QueryRow(ctx,
		`UPDATE usage_violations SET
				warning_sent = warning_sent OR $2,
				restriction_applied = restriction_applied OR $3,
				resolved_by = CASE WHEN $4 AND NOT resolved THEN $5 ELSE resolved_by END,
				resolved_at = CASE WHEN $4 AND NOT resolved THEN $6 ELSE resolved_at END,
				resolved = resolved OR $4
			WHERE id = $1
			RETURNING `+violationColumns,
		id, update.WarningSent, update.RestrictionApplied, update.Resolved,
		nullString(update.ResolvedBy), resolvedAt))
	if err == pgx.ErrNoRows {
		return nil, aiguard.ErrViolationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update violation: %w", err)
	}
	return v, nil
}
