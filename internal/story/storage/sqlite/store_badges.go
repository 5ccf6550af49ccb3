package sqlite

import (
	"context"
	"fmt"

	"github.com/mystira/story-engine/internal/story/domain/badge"
	"github.com/mystira/story-engine/internal/story/storage"
)

// PutBadge upserts one badge catalog entry. Only the catalog importer
// writes badges; runtime code treats the catalog as read-only.
func (s *Store) PutBadge(ctx context.Context, b badge.Badge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	normalized, err := badge.Normalize(b)
	if err != nil {
		return err
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO badges (id, age_group_id, axis, tier, tier_order, required_score, name, description)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    age_group_id = excluded.age_group_id,
    axis = excluded.axis,
    tier = excluded.tier,
    tier_order = excluded.tier_order,
    required_score = excluded.required_score,
    name = excluded.name,
    description = excluded.description
`, normalized.ID, normalized.AgeGroupID, normalized.Axis, normalized.Tier,
		normalized.TierOrder, normalized.RequiredScore, normalized.Name, normalized.Description)
	if err != nil {
		if isConstraintError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("put badge %s: %w", normalized.ID, err)
	}
	return nil
}

// ListBadgesByAgeGroup returns the catalog slice for one age group,
// ordered by axis then tier.
func (s *Store) ListBadgesByAgeGroup(ctx context.Context, ageGroupID string) ([]badge.Badge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, age_group_id, axis, tier, tier_order, required_score, name, description
FROM badges
WHERE age_group_id = ?
ORDER BY axis ASC, tier_order ASC
`, ageGroupID)
	if err != nil {
		return nil, fmt.Errorf("list badges by age group: %w", err)
	}
	defer rows.Close()

	badges := []badge.Badge{}
	for rows.Next() {
		var b badge.Badge
		if err := rows.Scan(&b.ID, &b.AgeGroupID, &b.Axis, &b.Tier, &b.TierOrder,
			&b.RequiredScore, &b.Name, &b.Description); err != nil {
			return nil, fmt.Errorf("scan badge: %w", err)
		}
		badges = append(badges, b)
	}
	return badges, rows.Err()
}
