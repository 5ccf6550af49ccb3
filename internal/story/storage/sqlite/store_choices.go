package sqlite

import (
	"context"
	"fmt"

	"github.com/mystira/story-engine/internal/story/domain/session"
)

// ListChoicesByProfile returns every choice recorded across all of one
// profile's sessions, oldest first. This is the input to cumulative axis
// scoring, so it must span the profile's full history rather than any
// single session.
func (s *Store) ListChoicesByProfile(ctx context.Context, profileID string) ([]session.Choice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT c.scene_id, c.choice_text, c.next_scene_id, c.player_id, c.axis, c.delta,
       c.direction, c.resulting_value, c.recorded_at
FROM choices c
JOIN sessions s ON s.id = c.session_id
WHERE s.profile_id = ?
ORDER BY c.recorded_at ASC, c.session_id ASC, c.seq ASC
`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list choices by profile: %w", err)
	}
	defer rows.Close()

	choices := []session.Choice{}
	for rows.Next() {
		choice, err := scanChoice(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan profile choice: %w", err)
		}
		choices = append(choices, choice)
	}
	return choices, rows.Err()
}
