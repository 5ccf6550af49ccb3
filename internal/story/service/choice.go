package service

import (
	"context"
	"errors"
	"strings"

	"github.com/mystira/story-engine/internal/story/domain/session"
	"github.com/mystira/story-engine/internal/story/observability/audit"
	"github.com/mystira/story-engine/internal/story/storage"
)

// RecordChoice appends a player choice to the session and persists the
// updated aggregate. Recording against a missing session is a quiet no-op
// returning nil; recording against a session that is not in progress fails
// with a state violation.
//
// Concurrent recorders are safe: a save losing the version race reloads the
// session and re-applies the choice, so both choices end up in the history.
func (s *Service) RecordChoice(ctx context.Context, sessionID string, input session.RecordChoiceInput) (*session.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, requiredFieldError("SessionId")
	}

	var lastErr error
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		loaded, err := s.stores.Sessions.GetSession(ctx, sessionID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, nil
			}
			return nil, storeError("load session", err)
		}

		choice, err := loaded.RecordChoice(input, s.now())
		if err != nil {
			return nil, err
		}

		if err := s.stores.Sessions.PutSession(ctx, loaded, loaded.Version); err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return nil, storeError("save session", err)
		}
		loaded.Version++

		attributes := map[string]any{
			"scene_id":      choice.SceneID,
			"next_scene_id": choice.NextSceneID,
		}
		if choice.Axis != "" {
			attributes["axis"] = choice.Axis
			attributes["delta"] = choice.Delta
		}
		_ = s.audit.Emit(ctx, storage.AuditEvent{
			EventName:  audit.EventChoiceRecorded,
			SessionID:  loaded.ID,
			ProfileID:  loaded.ProfileID,
			Attributes: attributes,
		})
		return &loaded, nil
	}
	return nil, storeError("save session", lastErr)
}
