package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/mystira/story-engine/internal/platform/id"
)

// Status describes the lifecycle state of a story session.
type Status int

const (
	// StatusUnspecified represents an invalid session status value.
	StatusUnspecified Status = iota
	// StatusInProgress indicates the session is currently being played.
	StatusInProgress
	// StatusPaused indicates the session is suspended and can resume.
	StatusPaused
	// StatusCompleted indicates the session has been finalized. Terminal.
	StatusCompleted
)

// String returns the canonical status name used in errors and storage.
func (s Status) String() string {
	switch s {
	case StatusInProgress:
		return "InProgress"
	case StatusPaused:
		return "Paused"
	case StatusCompleted:
		return "Completed"
	default:
		return "Unspecified"
	}
}

// ParseStatus maps a stored status name back to its Status value.
func ParseStatus(value string) Status {
	switch value {
	case "InProgress":
		return StatusInProgress
	case "Paused":
		return StatusPaused
	case "Completed":
		return StatusCompleted
	default:
		return StatusUnspecified
	}
}

// Direction describes which way a choice moved a compass axis.
type Direction string

const (
	// DirectionPositive indicates the axis value increased.
	DirectionPositive Direction = "positive"
	// DirectionNegative indicates the axis value decreased.
	DirectionNegative Direction = "negative"
)

// AxisChange is one recorded movement on a compass axis. Append-only.
type AxisChange struct {
	Delta          float64
	Direction      Direction
	Timestamp      time.Time
	ResultingValue float64
}

// AxisTracking accumulates one axis's trajectory within a single session.
// CurrentValue always equals StartingValue plus the sum of History deltas.
type AxisTracking struct {
	Axis          string
	StartingValue float64
	CurrentValue  float64
	History       []AxisChange
}

// Choice is one recorded player decision. Immutable once appended.
type Choice struct {
	SceneID     string
	ChoiceText  string
	NextSceneID string
	PlayerID    string
	Axis        string // empty when the choice carries no compass effect
	Delta       float64
	Direction   Direction
	// ResultingAxisChange is the axis movement this choice produced, attached
	// for audit when the session tracks the choice's axis.
	ResultingAxisChange *AxisChange
	Timestamp           time.Time
}

// Session is the story session aggregate.
type Session struct {
	ID             string
	ScenarioID     string
	AccountID      string
	ProfileID      string
	PlayerNames    []string
	Status         Status
	StartTime      time.Time
	EndTime        *time.Time // nil until the session completes
	PausedAt       *time.Time // nil unless the session is paused
	IsPaused       bool
	CurrentSceneID string
	ChoiceHistory  []Choice
	CompassValues  map[string]AxisTracking
	TargetAgeGroup string

	// Version is the optimistic concurrency token checked on save.
	Version uint64
}

// ElapsedTime returns how long the session has been running. Never negative.
func (s *Session) ElapsedTime(now time.Time) time.Duration {
	elapsed := now.Sub(s.StartTime)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// CreateSessionInput describes the metadata needed to start a session.
type CreateSessionInput struct {
	ScenarioID     string
	AccountID      string
	ProfileID      string
	PlayerNames    []string
	TargetAgeGroup string
	InitialSceneID string
	// StartingAxes seeds compass tracking with per-axis starting values.
	// Axes absent from the map are not tracked by the session.
	StartingAxes map[string]float64
}

// CreateSession starts a new session with a generated ID and timestamps.
// The session begins InProgress with empty, non-nil collections.
func CreateSession(input CreateSessionInput, now func() time.Time, idGenerator func() (string, error)) (Session, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateSessionInput(input)
	if err != nil {
		return Session{}, err
	}

	sessionID, err := idGenerator()
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}

	compass := make(map[string]AxisTracking, len(normalized.StartingAxes))
	for axis, start := range normalized.StartingAxes {
		compass[axis] = AxisTracking{
			Axis:          axis,
			StartingValue: start,
			CurrentValue:  start,
			History:       []AxisChange{},
		}
	}

	players := make([]string, 0, len(normalized.PlayerNames))
	players = append(players, normalized.PlayerNames...)

	return Session{
		ID:             sessionID,
		ScenarioID:     normalized.ScenarioID,
		AccountID:      normalized.AccountID,
		ProfileID:      normalized.ProfileID,
		PlayerNames:    players,
		Status:         StatusInProgress,
		StartTime:      now().UTC(),
		CurrentSceneID: normalized.InitialSceneID,
		ChoiceHistory:  []Choice{},
		CompassValues:  compass,
		TargetAgeGroup: normalized.TargetAgeGroup,
		Version:        0,
	}, nil
}

// NormalizeCreateSessionInput trims and validates session creation metadata.
func NormalizeCreateSessionInput(input CreateSessionInput) (CreateSessionInput, error) {
	input.ScenarioID = strings.TrimSpace(input.ScenarioID)
	if input.ScenarioID == "" {
		return CreateSessionInput{}, requiredFieldError("ScenarioId")
	}
	input.ProfileID = strings.TrimSpace(input.ProfileID)
	if input.ProfileID == "" {
		return CreateSessionInput{}, requiredFieldError("ProfileId")
	}
	input.AccountID = strings.TrimSpace(input.AccountID)
	input.TargetAgeGroup = strings.TrimSpace(input.TargetAgeGroup)
	input.InitialSceneID = strings.TrimSpace(input.InitialSceneID)

	players := make([]string, 0, len(input.PlayerNames))
	for _, name := range input.PlayerNames {
		name = strings.TrimSpace(name)
		if name != "" {
			players = append(players, name)
		}
	}
	input.PlayerNames = players
	return input, nil
}
