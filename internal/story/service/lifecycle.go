package service

import (
	"context"
	"errors"
	"strings"
	"time"

	apperrors "github.com/mystira/story-engine/internal/errors"
	"github.com/mystira/story-engine/internal/story/domain/session"
	"github.com/mystira/story-engine/internal/story/observability/audit"
	"github.com/mystira/story-engine/internal/story/storage"
)

// StartSession creates and persists a new story session.
func (s *Service) StartSession(ctx context.Context, input session.CreateSessionInput) (*session.Session, error) {
	created, err := session.CreateSession(input, s.now, s.idGenerator)
	if err != nil {
		return nil, err
	}

	if err := s.stores.Sessions.PutSession(ctx, created, 0); err != nil {
		return nil, storeError("start session", err)
	}
	created.Version = 1

	_ = s.audit.Emit(ctx, storage.AuditEvent{
		EventName: audit.EventSessionStarted,
		SessionID: created.ID,
		ProfileID: created.ProfileID,
		Attributes: map[string]any{
			"scenario_id":      created.ScenarioID,
			"target_age_group": created.TargetAgeGroup,
			"players":          len(created.PlayerNames),
		},
	})
	return &created, nil
}

// GetSession loads one session by ID.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, requiredFieldError("SessionId")
	}

	loaded, err := s.stores.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.WithMetadata(apperrors.CodeNotFound,
				"session "+sessionID+" not found",
				map[string]string{"session_id": sessionID})
		}
		return nil, storeError("get session", err)
	}
	return &loaded, nil
}

// PauseSession suspends an in-progress session. Missing sessions and
// sessions that cannot pause are quiet no-ops returning nil.
func (s *Service) PauseSession(ctx context.Context, sessionID string) (*session.Session, error) {
	return s.applyTransition(ctx, sessionID, audit.EventSessionPaused, func(sess *session.Session, now time.Time) bool {
		return sess.Pause(now)
	})
}

// ResumeSession reactivates a paused session. Missing sessions and sessions
// that cannot resume are quiet no-ops returning nil.
func (s *Service) ResumeSession(ctx context.Context, sessionID string) (*session.Session, error) {
	return s.applyTransition(ctx, sessionID, audit.EventSessionResumed, func(sess *session.Session, _ time.Time) bool {
		return sess.Resume()
	})
}

// EndSession completes a session without resolving badge awards; use
// FinalizeSession for the full close-out. A session closed this way skips
// award resolution for good: finalizing it afterwards is a no-op, and badges
// its choices earned surface only when a later session of the same profile
// is finalized. Missing sessions and already completed sessions are quiet
// no-ops returning nil.
func (s *Service) EndSession(ctx context.Context, sessionID string) (*session.Session, error) {
	return s.applyTransition(ctx, sessionID, audit.EventSessionEnded, func(sess *session.Session, now time.Time) bool {
		return sess.End(now)
	})
}

// applyTransition runs one lifecycle transition with reload-and-retry on
// version conflicts. Transitions that do not apply return nil without
// touching storage.
func (s *Service) applyTransition(ctx context.Context, sessionID, eventName string, apply func(*session.Session, time.Time) bool) (*session.Session, error) {
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

		if !apply(&loaded, s.now()) {
			return nil, nil
		}

		if err := s.stores.Sessions.PutSession(ctx, loaded, loaded.Version); err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return nil, storeError("save session", err)
		}
		loaded.Version++

		_ = s.audit.Emit(ctx, storage.AuditEvent{
			EventName: eventName,
			SessionID: loaded.ID,
			ProfileID: loaded.ProfileID,
			Attributes: map[string]any{
				"status": loaded.Status.String(),
			},
		})
		return &loaded, nil
	}
	return nil, storeError("save session", lastErr)
}
