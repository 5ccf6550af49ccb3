package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mystira/story-engine/internal/story/domain/session"
	"github.com/mystira/story-engine/internal/story/storage"
)

// GetSession loads one session aggregate, rebuilding compass tracking
// history from the session's choice rows.
func (s *Store) GetSession(ctx context.Context, sessionID string) (session.Session, error) {
	if err := ctx.Err(); err != nil {
		return session.Session{}, err
	}
	if s == nil || s.sqlDB == nil {
		return session.Session{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, scenario_id, account_id, profile_id, player_names_json, status,
       start_time, end_time, paused_at, current_scene_id, target_age_group, version
FROM sessions
WHERE id = ?
`, sessionID)

	loaded, err := scanSession(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Session{}, storage.ErrNotFound
		}
		return session.Session{}, fmt.Errorf("get session: %w", err)
	}

	if err := s.loadCompass(ctx, &loaded); err != nil {
		return session.Session{}, err
	}
	if err := s.loadChoices(ctx, &loaded); err != nil {
		return session.Session{}, err
	}
	return loaded, nil
}

// PutSession saves the aggregate. A zero expected version inserts a new
// session; otherwise the stored version must match or the save fails with
// ErrVersionConflict. Choice rows are append-only: rows beyond the stored
// count are inserted, existing rows are never touched.
func (s *Store) PutSession(ctx context.Context, sess session.Session, expectedVersion uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	playerNames, err := json.Marshal(sess.PlayerNames)
	if err != nil {
		return fmt.Errorf("encode player names: %w", err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session write: %w", err)
	}
	defer tx.Rollback()

	if expectedVersion == 0 {
		_, err = tx.ExecContext(ctx, `
INSERT INTO sessions (id, scenario_id, account_id, profile_id, player_names_json, status,
                      start_time, end_time, paused_at, current_scene_id, target_age_group, version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
`,
			sess.ID, sess.ScenarioID, sess.AccountID, sess.ProfileID, string(playerNames),
			sess.Status.String(), toMillis(sess.StartTime), toNullMillis(sess.EndTime),
			toNullMillis(sess.PausedAt), sess.CurrentSceneID, sess.TargetAgeGroup)
		if err != nil {
			if isConstraintError(err) {
				return storage.ErrConflict
			}
			return fmt.Errorf("insert session: %w", err)
		}
	} else {
		result, err := tx.ExecContext(ctx, `
UPDATE sessions
SET status = ?, end_time = ?, paused_at = ?, current_scene_id = ?, version = ?
WHERE id = ? AND version = ?
`,
			sess.Status.String(), toNullMillis(sess.EndTime), toNullMillis(sess.PausedAt),
			sess.CurrentSceneID, expectedVersion+1, sess.ID, expectedVersion)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("update session rows affected: %w", err)
		}
		if affected == 0 {
			return s.classifyMissedUpdate(ctx, tx, sess.ID)
		}
	}

	if err := upsertCompass(ctx, tx, sess); err != nil {
		return err
	}
	if err := appendNewChoices(ctx, tx, sess); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session write: %w", err)
	}
	return nil
}

// FinalizeSession atomically marks the session Completed and writes its
// award rows. Ledger rows already held for (profile, badge) are skipped;
// only the awards this call actually recorded are returned.
func (s *Store) FinalizeSession(ctx context.Context, sess session.Session, expectedVersion uint64, awards []storage.Award) ([]storage.Award, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin finalize write: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
UPDATE sessions
SET status = ?, end_time = ?, paused_at = ?, version = ?
WHERE id = ? AND version = ?
`,
		sess.Status.String(), toNullMillis(sess.EndTime), toNullMillis(sess.PausedAt),
		expectedVersion+1, sess.ID, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("complete session rows affected: %w", err)
	}
	if affected == 0 {
		return nil, s.classifyMissedUpdate(ctx, tx, sess.ID)
	}

	recorded := make([]storage.Award, 0, len(awards))
	for _, award := range awards {
		result, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO awards (profile_id, badge_id, source_session_id, awarded_at)
VALUES (?, ?, ?, ?)
`, award.ProfileID, award.BadgeID, award.SourceSessionID, toMillis(award.AwardedAt))
		if err != nil {
			return nil, fmt.Errorf("record award %s: %w", award.BadgeID, err)
		}
		inserted, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("record award rows affected: %w", err)
		}
		if inserted > 0 {
			recorded = append(recorded, award)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit finalize write: %w", err)
	}
	return recorded, nil
}

// classifyMissedUpdate distinguishes a missing session from a lost
// optimistic concurrency race after a guarded UPDATE matched no rows.
func (s *Store) classifyMissedUpdate(ctx context.Context, tx *sql.Tx, sessionID string) error {
	var storedVersion uint64
	err := tx.QueryRowContext(ctx, "SELECT version FROM sessions WHERE id = ?", sessionID).Scan(&storedVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check session version: %w", err)
	}
	return storage.ErrVersionConflict
}

func upsertCompass(ctx context.Context, tx *sql.Tx, sess session.Session) error {
	for axis, tracking := range sess.CompassValues {
		_, err := tx.ExecContext(ctx, `
INSERT INTO session_axes (session_id, axis, starting_value, current_value)
VALUES (?, ?, ?, ?)
ON CONFLICT (session_id, axis) DO UPDATE SET current_value = excluded.current_value
`, sess.ID, axis, tracking.StartingValue, tracking.CurrentValue)
		if err != nil {
			return fmt.Errorf("upsert axis %s: %w", axis, err)
		}
	}
	return nil
}

func appendNewChoices(ctx context.Context, tx *sql.Tx, sess session.Session) error {
	var stored int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM choices WHERE session_id = ?", sess.ID).Scan(&stored); err != nil {
		return fmt.Errorf("count stored choices: %w", err)
	}
	if stored > len(sess.ChoiceHistory) {
		return fmt.Errorf("choice history shrank: stored=%d aggregate=%d", stored, len(sess.ChoiceHistory))
	}

	for i := stored; i < len(sess.ChoiceHistory); i++ {
		choice := sess.ChoiceHistory[i]
		resulting := sql.NullFloat64{}
		if choice.ResultingAxisChange != nil {
			resulting = sql.NullFloat64{Float64: choice.ResultingAxisChange.ResultingValue, Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO choices (session_id, seq, scene_id, choice_text, next_scene_id, player_id,
                     axis, delta, direction, resulting_value, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
			sess.ID, i+1, choice.SceneID, choice.ChoiceText, choice.NextSceneID, choice.PlayerID,
			choice.Axis, choice.Delta, string(choice.Direction), resulting, toMillis(choice.Timestamp))
		if err != nil {
			return fmt.Errorf("append choice %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *Store) loadCompass(ctx context.Context, sess *session.Session) error {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT axis, starting_value, current_value
FROM session_axes
WHERE session_id = ?
`, sess.ID)
	if err != nil {
		return fmt.Errorf("load session axes: %w", err)
	}
	defer rows.Close()

	sess.CompassValues = map[string]session.AxisTracking{}
	for rows.Next() {
		var tracking session.AxisTracking
		if err := rows.Scan(&tracking.Axis, &tracking.StartingValue, &tracking.CurrentValue); err != nil {
			return fmt.Errorf("scan session axis: %w", err)
		}
		tracking.History = []session.AxisChange{}
		sess.CompassValues[tracking.Axis] = tracking
	}
	return rows.Err()
}

func (s *Store) loadChoices(ctx context.Context, sess *session.Session) error {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT scene_id, choice_text, next_scene_id, player_id, axis, delta, direction, resulting_value, recorded_at
FROM choices
WHERE session_id = ?
ORDER BY seq ASC
`, sess.ID)
	if err != nil {
		return fmt.Errorf("load choices: %w", err)
	}
	defer rows.Close()

	sess.ChoiceHistory = []session.Choice{}
	for rows.Next() {
		choice, err := scanChoice(rows.Scan)
		if err != nil {
			return fmt.Errorf("scan choice: %w", err)
		}
		if choice.ResultingAxisChange != nil {
			tracking, tracked := sess.CompassValues[choice.Axis]
			if tracked {
				tracking.History = append(tracking.History, *choice.ResultingAxisChange)
				sess.CompassValues[choice.Axis] = tracking
			}
		}
		sess.ChoiceHistory = append(sess.ChoiceHistory, choice)
	}
	return rows.Err()
}

func scanSession(scan func(dest ...any) error) (session.Session, error) {
	var (
		loaded          session.Session
		playerNamesJSON string
		status          string
		startTime       int64
		endTime         sql.NullInt64
		pausedAt        sql.NullInt64
	)
	err := scan(&loaded.ID, &loaded.ScenarioID, &loaded.AccountID, &loaded.ProfileID,
		&playerNamesJSON, &status, &startTime, &endTime, &pausedAt,
		&loaded.CurrentSceneID, &loaded.TargetAgeGroup, &loaded.Version)
	if err != nil {
		return session.Session{}, err
	}

	loaded.Status = session.ParseStatus(status)
	loaded.StartTime = fromMillis(startTime)
	loaded.EndTime = fromNullMillis(endTime)
	loaded.PausedAt = fromNullMillis(pausedAt)
	loaded.IsPaused = loaded.Status == session.StatusPaused

	loaded.PlayerNames = []string{}
	if playerNamesJSON != "" {
		if err := json.Unmarshal([]byte(playerNamesJSON), &loaded.PlayerNames); err != nil {
			return session.Session{}, fmt.Errorf("decode player names: %w", err)
		}
	}
	if loaded.PlayerNames == nil {
		loaded.PlayerNames = []string{}
	}
	return loaded, nil
}

func scanChoice(scan func(dest ...any) error) (session.Choice, error) {
	var (
		choice     session.Choice
		direction  string
		resulting  sql.NullFloat64
		recordedAt int64
	)
	err := scan(&choice.SceneID, &choice.ChoiceText, &choice.NextSceneID, &choice.PlayerID,
		&choice.Axis, &choice.Delta, &direction, &resulting, &recordedAt)
	if err != nil {
		return session.Choice{}, err
	}
	choice.Direction = session.Direction(direction)
	choice.Timestamp = fromMillis(recordedAt)
	if resulting.Valid {
		choice.ResultingAxisChange = &session.AxisChange{
			Delta:          choice.Delta,
			Direction:      choice.Direction,
			Timestamp:      choice.Timestamp,
			ResultingValue: resulting.Float64,
		}
	}
	return choice, nil
}
