package session

import (
	"strings"
	"time"
)

// RecordChoiceInput describes one inbound player choice.
type RecordChoiceInput struct {
	SceneID     string
	ChoiceText  string
	NextSceneID string
	// PlayerID is optional; the session's ProfileID acts when absent.
	PlayerID string
	// Axis, Delta and Direction are optional compass metadata.
	Axis      string
	Delta     float64
	Direction Direction
}

// RecordChoice validates and appends a player choice to the session.
//
// When the choice's axis is tracked by the session, the delta is applied to
// the axis's running value and the resulting change is attached to the
// choice for audit. The session's current scene always advances to the
// choice's next scene; that is the sole driver of narrative progression.
func (s *Session) RecordChoice(input RecordChoiceInput, now time.Time) (Choice, error) {
	if err := s.guardInProgress(); err != nil {
		return Choice{}, err
	}

	normalized, err := normalizeRecordChoiceInput(input)
	if err != nil {
		return Choice{}, err
	}

	playerID := normalized.PlayerID
	if playerID == "" {
		playerID = s.ProfileID
	}

	choice := Choice{
		SceneID:     normalized.SceneID,
		ChoiceText:  normalized.ChoiceText,
		NextSceneID: normalized.NextSceneID,
		PlayerID:    playerID,
		Axis:        normalized.Axis,
		Delta:       normalized.Delta,
		Direction:   normalized.Direction,
		Timestamp:   now.UTC(),
	}

	if tracking, tracked := s.CompassValues[normalized.Axis]; tracked && normalized.Axis != "" {
		change := AxisChange{
			Delta:          normalized.Delta,
			Direction:      normalized.Direction,
			Timestamp:      choice.Timestamp,
			ResultingValue: tracking.CurrentValue + normalized.Delta,
		}
		tracking.CurrentValue = change.ResultingValue
		tracking.History = append(tracking.History, change)
		s.CompassValues[normalized.Axis] = tracking
		choice.ResultingAxisChange = &change
	}

	s.ChoiceHistory = append(s.ChoiceHistory, choice)
	s.CurrentSceneID = normalized.NextSceneID

	return choice, nil
}

func normalizeRecordChoiceInput(input RecordChoiceInput) (RecordChoiceInput, error) {
	input.SceneID = strings.TrimSpace(input.SceneID)
	if input.SceneID == "" {
		return RecordChoiceInput{}, requiredFieldError("SceneId")
	}
	input.ChoiceText = strings.TrimSpace(input.ChoiceText)
	if input.ChoiceText == "" {
		return RecordChoiceInput{}, requiredFieldError("ChoiceText")
	}
	input.NextSceneID = strings.TrimSpace(input.NextSceneID)
	if input.NextSceneID == "" {
		return RecordChoiceInput{}, requiredFieldError("NextSceneId")
	}
	input.PlayerID = strings.TrimSpace(input.PlayerID)
	input.Axis = strings.TrimSpace(input.Axis)

	if input.Axis != "" && input.Direction == "" {
		if input.Delta < 0 {
			input.Direction = DirectionNegative
		} else {
			input.Direction = DirectionPositive
		}
	}
	return input, nil
}
