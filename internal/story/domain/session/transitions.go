package session

import (
	"time"

	"github.com/mystira/story-engine/internal/errors"
)

// Pause suspends an InProgress session. It reports whether the transition
// applied; a session in any other state is left untouched.
func (s *Session) Pause(now time.Time) bool {
	if s.Status != StatusInProgress {
		return false
	}
	pausedAt := now.UTC()
	s.Status = StatusPaused
	s.PausedAt = &pausedAt
	s.IsPaused = true
	return true
}

// Resume reactivates a Paused session. It reports whether the transition
// applied.
func (s *Session) Resume() bool {
	if s.Status != StatusPaused {
		return false
	}
	s.Status = StatusInProgress
	s.PausedAt = nil
	s.IsPaused = false
	return true
}

// End completes an InProgress or Paused session, stamping EndTime. It
// reports whether the transition applied; ending a Completed session is a
// no-op.
func (s *Session) End(now time.Time) bool {
	if s.Status != StatusInProgress && s.Status != StatusPaused {
		return false
	}
	endTime := now.UTC()
	s.Status = StatusCompleted
	s.EndTime = &endTime
	s.PausedAt = nil
	s.IsPaused = false
	return true
}

// guardInProgress rejects player-action mutations on a session that is not
// actively in progress. Unlike the lifecycle transitions above, this is a
// hard error naming the offending status.
func (s *Session) guardInProgress() error {
	if s.Status == StatusInProgress {
		return nil
	}
	return errors.WithMetadata(
		errors.CodeSessionStateViolation,
		"session is "+s.Status.String()+": choices require an InProgress session",
		map[string]string{"status": s.Status.String()},
	)
}

func requiredFieldError(field string) error {
	return errors.WithMetadata(
		errors.CodeSessionFieldRequired,
		field+" is required",
		map[string]string{"field": field},
	)
}
