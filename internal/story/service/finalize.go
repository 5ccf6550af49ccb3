package service

import (
	"context"
	"errors"
	"strings"

	apperrors "github.com/mystira/story-engine/internal/errors"
	"github.com/mystira/story-engine/internal/story/domain/badge"
	"github.com/mystira/story-engine/internal/story/domain/compass"
	"github.com/mystira/story-engine/internal/story/observability/audit"
	"github.com/mystira/story-engine/internal/story/storage"
)

// FinalizeResult reports the outcome of a session close-out.
type FinalizeResult struct {
	SessionID string
	// Awards lists the badge IDs newly recorded by this finalize call,
	// ordered by axis then tier. Finalizing an already completed session
	// yields an empty list.
	Awards []string
}

// FinalizeSession completes a session and awards every badge the profile's
// cumulative compass scores newly qualify for.
//
// Scores derive from the profile's full cross-session choice history, so
// badges earned across several sessions resolve here. The session
// completion and the award ledger rows commit in one transaction; racing
// finalize calls for the same profile never duplicate an award.
func (s *Service) FinalizeSession(ctx context.Context, sessionID string) (*FinalizeResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, requiredFieldError("SessionId")
	}

	var lastErr error
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		result, err := s.finalizeOnce(ctx, sessionID)
		if err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return result, nil
	}
	return nil, storeError("finalize session", lastErr)
}

// finalizeOnce runs one finalize attempt against a fresh session load. A
// storage.ErrVersionConflict return means the caller should retry.
func (s *Service) finalizeOnce(ctx context.Context, sessionID string) (*FinalizeResult, error) {
	loaded, err := s.stores.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.WithMetadata(apperrors.CodeNotFound,
				"session "+sessionID+" not found",
				map[string]string{"session_id": sessionID})
		}
		return nil, storeError("load session", err)
	}

	// Finalize is idempotent: a completed session was already closed out and
	// its awards, if any, already sit in the ledger.
	endedAt := s.now()
	if !loaded.End(endedAt) {
		return &FinalizeResult{SessionID: loaded.ID, Awards: []string{}}, nil
	}

	choices, err := s.stores.Choices.ListChoicesByProfile(ctx, loaded.ProfileID)
	if err != nil {
		return nil, storeError("load choice history", err)
	}
	scores := compass.Scores(choices)

	catalog, err := s.stores.Catalog.ListBadgesByAgeGroup(ctx, loaded.TargetAgeGroup)
	if err != nil {
		return nil, storeError("load badge catalog", err)
	}

	held, err := s.stores.Awards.ListAwardsByProfile(ctx, loaded.ProfileID)
	if err != nil {
		return nil, storeError("load award ledger", err)
	}
	owned := make(map[string]bool, len(held))
	for _, award := range held {
		owned[award.BadgeID] = true
	}

	qualified := badge.ResolveNewlyQualified(badge.ResolveInput{
		AgeGroupID: loaded.TargetAgeGroup,
		Scores:     scores,
		Catalog:    catalog,
		Owned:      owned,
	})

	pending := make([]storage.Award, 0, len(qualified))
	for _, b := range qualified {
		pending = append(pending, storage.Award{
			ProfileID:       loaded.ProfileID,
			BadgeID:         b.ID,
			SourceSessionID: loaded.ID,
			AwardedAt:       endedAt.UTC(),
		})
	}

	recorded, err := s.stores.Finalize.FinalizeSession(ctx, loaded, loaded.Version, pending)
	if err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			return nil, err
		}
		return nil, storeError("finalize session", err)
	}

	awarded := make([]string, 0, len(recorded))
	for _, award := range recorded {
		awarded = append(awarded, award.BadgeID)
	}

	_ = s.audit.Emit(ctx, storage.AuditEvent{
		EventName: audit.EventSessionFinalized,
		SessionID: loaded.ID,
		ProfileID: loaded.ProfileID,
		Attributes: map[string]any{
			"awards":  awarded,
			"choices": len(loaded.ChoiceHistory),
		},
	})
	return &FinalizeResult{SessionID: loaded.ID, Awards: awarded}, nil
}
