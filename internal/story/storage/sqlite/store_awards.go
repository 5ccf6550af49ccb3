package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mystira/story-engine/internal/story/storage"
)

// HasAward reports whether the profile already holds the badge.
func (s *Store) HasAward(ctx context.Context, profileID, badgeID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}

	var found int
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT 1 FROM awards WHERE profile_id = ? AND badge_id = ?",
		profileID, badgeID).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check award: %w", err)
	}
	return true, nil
}

// ListAwardsByProfile returns the profile's award ledger, oldest first.
func (s *Store) ListAwardsByProfile(ctx context.Context, profileID string) ([]storage.Award, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT profile_id, badge_id, source_session_id, awarded_at
FROM awards
WHERE profile_id = ?
ORDER BY awarded_at ASC, badge_id ASC
`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list awards: %w", err)
	}
	defer rows.Close()

	awards := []storage.Award{}
	for rows.Next() {
		var (
			award     storage.Award
			awardedAt int64
		)
		if err := rows.Scan(&award.ProfileID, &award.BadgeID, &award.SourceSessionID, &awardedAt); err != nil {
			return nil, fmt.Errorf("scan award: %w", err)
		}
		award.AwardedAt = fromMillis(awardedAt)
		awards = append(awards, award)
	}
	return awards, rows.Err()
}

// AddAward records one award row, or ErrConflict when the profile already
// holds the badge. Finalize writes go through FinalizeSession instead so
// the ledger write shares the session completion transaction.
func (s *Store) AddAward(ctx context.Context, award storage.Award) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO awards (profile_id, badge_id, source_session_id, awarded_at)
VALUES (?, ?, ?, ?)
`, award.ProfileID, award.BadgeID, award.SourceSessionID, toMillis(award.AwardedAt))
	if err != nil {
		if isConstraintError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("add award: %w", err)
	}
	return nil
}
