package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mihaimyh/aiguard/pkg/aiguard"
)

const appealColumns = `id, restriction_id, user_id, appeal_reason, status,
	admin_response, reviewed_by, reviewed_at, created_at`

func scanAppeal(row pgx.Row) (*aiguard.Appeal, error) {
	var a aiguard.Appeal
	var response, reviewedBy *string
	err := row.Scan(
		&a.ID,
		&a.RestrictionID,
		&a.UserID,
		&a.Reason,
		&a.Status,
		&response,
		&reviewedBy,
		&a.ReviewedAt,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.AdminResponse = derefString(response)
	a.ReviewedBy = derefString(reviewedBy)
	a.ReviewedAt = utcPtr(a.ReviewedAt)
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

// CreateAppeal implements aiguard.AppealStore. The unique partial index on
// pending appeals rejects a second pending appeal for the same restriction.
func (s *Storage) CreateAppeal(ctx context.Context, a *aiguard.Appeal) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("invalid appeal")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_appeals (id, restriction_id, user_id, appeal_reason, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.RestrictionID, a.UserID, a.Reason, string(aiguard.AppealPending), a.CreatedAt,
	)
	switch pgErrorCode(err) {
	case "":
	case codeUniqueViolation:
		return aiguard.ErrDuplicateAppeal
	case codeForeignKeyViolation:
		return aiguard.ErrRestrictionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to create appeal: %w", err)
	}
	return nil
}

// GetAppeal implements aiguard.AppealStore
func (s *Storage) GetAppeal(ctx context.Context, id string) (*aiguard.Appeal, error) {
	a, err := scanAppeal(s.pool.QueryRow(ctx,
		`SELECT `+appealColumns+` FROM usage_appeals WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, aiguard.ErrAppealNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get appeal: %w", err)
	}
	return a, nil
}

// ListAppeals implements aiguard.AppealStore
func (s *Storage) ListAppeals(ctx context.Context, filter aiguard.AppealFilter) ([]*aiguard.Appeal, error) {
	var w whereClause
	if filter.UserID != "" {
		w.add("user_id = $%d", filter.UserID)
	}
	if filter.RestrictionID != "" {
		w.add("restriction_id = $%d", filter.RestrictionID)
	}
	if filter.Status != "" {
		w.add("status = $%d", string(filter.Status))
	}
	query := `SELECT ` + appealColumns + ` FROM usage_appeals` + w.String() +
		` ORDER BY created_at DESC, id DESC` + w.limit(aiguard.EffectiveLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list appeals: %w", err)
	}
	defer rows.Close()

	list := make([]*aiguard.Appeal, 0)
	for rows.Next() {
		a, err := scanAppeal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan appeal: %w", err)
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list appeals: %w", err)
	}
	return list, nil
}

// ResolveAppeal implements aiguard.AppealStore. The status change and the
// optional lift of the appealed restriction commit together.
func (s *Storage) ResolveAppeal(ctx context.Context, req *aiguard.ResolveAppealRequest) (*aiguard.ResolveAppealResult, error) {
	if req == nil || !req.Status.IsDecision() {
		return nil, fmt.Errorf("invalid appeal resolution")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	var restrictionID string
	var status aiguard.AppealStatus
	err = tx.QueryRow(ctx,
		`SELECT restriction_id, status FROM usage_appeals WHERE id = $1 FOR UPDATE`,
		req.AppealID).Scan(&restrictionID, &status)
	if err == pgx.ErrNoRows {
		return nil, aiguard.ErrAppealNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get appeal for update: %w", err)
	}
	if status != aiguard.AppealPending {
		return nil, aiguard.ErrAppealNotPending
	}

	lifted := false
	if req.LiftRestriction {
		tag, err := tx.Exec(ctx,
			`UPDATE user_restrictions
				SET is_active = FALSE, deactivated_at = $2, deactivated_by = $3
				WHERE id = $1 AND is_active`,
			restrictionID, req.ReviewedAt, req.ReviewedBy)
		if err != nil {
			return nil, fmt.Errorf("failed to lift restriction: %w", err)
		}
		lifted = tag.RowsAffected() > 0
	}

	a, err := scanAppeal(tx.QueryRow(ctx,
		`UPDATE usage_appeals
			SET status = $2, admin_response = $3, reviewed_by = $4, reviewed_at = $5
			WHERE id = $1
			RETURNING `+appealColumns,
		req.AppealID, string(req.Status), nullString(req.AdminResponse), req.ReviewedBy, req.ReviewedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve appeal: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return &aiguard.ResolveAppealResult{Appeal: a, Lifted: lifted}, nil
}
