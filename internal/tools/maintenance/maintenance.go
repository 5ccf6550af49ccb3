// Package maintenance provides operator commands for inspecting profile
// compass state and closing out story sessions.
package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mystira/story-engine/internal/story/domain/compass"
	"github.com/mystira/story-engine/internal/story/service"
	"github.com/mystira/story-engine/internal/story/storage"
	storagesqlite "github.com/mystira/story-engine/internal/story/storage/sqlite"
)

// Config holds maintenance command configuration.
type Config struct {
	ProfileID  string
	SessionID  string
	Finalize   bool
	JSONOutput bool
	DBPath     string        `env:"MYSTIRA_STORY_DB_PATH"`
	Timeout    time.Duration `env:"MYSTIRA_MAINTENANCE_TIMEOUT" envDefault:"10m"`
}

// ParseConfig parses environment defaults and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "story.db")
	}

	fs.StringVar(&cfg.ProfileID, "profile-id", "", "profile ID to report cumulative compass scores and awards")
	fs.StringVar(&cfg.SessionID, "session-id", "", "session ID to inspect or finalize")
	fs.BoolVar(&cfg.Finalize, "finalize", false, "finalize the session (requires -session-id)")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON reports")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "story database path (default: MYSTIRA_STORY_DB_PATH or data/story.db)")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.ProfileID) == "" && strings.TrimSpace(cfg.SessionID) == "" {
		return Config{}, errors.New("profile-id or session-id is required")
	}
	if cfg.Finalize && strings.TrimSpace(cfg.SessionID) == "" {
		return Config{}, errors.New("finalize requires session-id")
	}
	return cfg, nil
}

// profileReport summarizes one profile's cumulative state.
type profileReport struct {
	ProfileID string             `json:"profile_id"`
	Scores    map[string]float64 `json:"scores"`
	Awards    []awardReport      `json:"awards"`
}

type awardReport struct {
	BadgeID         string    `json:"badge_id"`
	SourceSessionID string    `json:"source_session_id"`
	AwardedAt       time.Time `json:"awarded_at"`
}

// sessionReport summarizes one session.
type sessionReport struct {
	SessionID    string     `json:"session_id"`
	ProfileID    string     `json:"profile_id,omitempty"`
	ScenarioID   string     `json:"scenario_id,omitempty"`
	Status       string     `json:"status"`
	Choices      int        `json:"choices"`
	CurrentScene string     `json:"current_scene,omitempty"`
	StartTime    time.Time  `json:"start_time,omitzero"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Awards       []string   `json:"awards,omitempty"`
}

// Run executes the maintenance command.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}

	store, err := storagesqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open story store: %w", err)
	}
	defer store.Close()

	if profileID := strings.TrimSpace(cfg.ProfileID); profileID != "" {
		if err := reportProfile(ctx, store, profileID, cfg.JSONOutput, out); err != nil {
			return err
		}
	}

	sessionID := strings.TrimSpace(cfg.SessionID)
	if sessionID == "" {
		return nil
	}
	if cfg.Finalize {
		return finalizeSession(ctx, store, sessionID, cfg.JSONOutput, out)
	}
	return reportSession(ctx, store, sessionID, cfg.JSONOutput, out)
}

func reportProfile(ctx context.Context, store *storagesqlite.Store, profileID string, jsonOutput bool, out io.Writer) error {
	choices, err := store.ListChoicesByProfile(ctx, profileID)
	if err != nil {
		return fmt.Errorf("list choices for %s: %w", profileID, err)
	}
	scores := compass.Scores(choices)

	held, err := store.ListAwardsByProfile(ctx, profileID)
	if err != nil {
		return fmt.Errorf("list awards for %s: %w", profileID, err)
	}

	report := profileReport{ProfileID: profileID, Scores: scores, Awards: []awardReport{}}
	for _, award := range held {
		report.Awards = append(report.Awards, awardReport{
			BadgeID:         award.BadgeID,
			SourceSessionID: award.SourceSessionID,
			AwardedAt:       award.AwardedAt,
		})
	}
	if jsonOutput {
		return writeJSON(out, report)
	}

	fmt.Fprintf(out, "profile %s\n", profileID)
	for _, axis := range compass.Axes(scores) {
		fmt.Fprintf(out, "  %s: %.2f\n", axis, scores[axis])
	}
	fmt.Fprintf(out, "  awards: %d\n", len(report.Awards))
	for _, award := range report.Awards {
		fmt.Fprintf(out, "    %s (session %s)\n", award.BadgeID, award.SourceSessionID)
	}
	return nil
}

func reportSession(ctx context.Context, store *storagesqlite.Store, sessionID string, jsonOutput bool, out io.Writer) error {
	loaded, err := store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("session %s not found", sessionID)
		}
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}

	report := sessionReport{
		SessionID:    loaded.ID,
		ProfileID:    loaded.ProfileID,
		ScenarioID:   loaded.ScenarioID,
		Status:       loaded.Status.String(),
		Choices:      len(loaded.ChoiceHistory),
		CurrentScene: loaded.CurrentSceneID,
		StartTime:    loaded.StartTime,
		EndTime:      loaded.EndTime,
	}
	if jsonOutput {
		return writeJSON(out, report)
	}

	fmt.Fprintf(out, "session %s (%s)\n", report.SessionID, report.Status)
	fmt.Fprintf(out, "  profile: %s scenario: %s\n", report.ProfileID, report.ScenarioID)
	fmt.Fprintf(out, "  choices: %d current scene: %s\n", report.Choices, report.CurrentScene)
	return nil
}

func finalizeSession(ctx context.Context, store *storagesqlite.Store, sessionID string, jsonOutput bool, out io.Writer) error {
	svc := service.New(service.Stores{
		Sessions: store,
		Catalog:  store,
		Awards:   store,
		Choices:  store,
		Finalize: store,
	})

	result, err := svc.FinalizeSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("finalize session %s: %w", sessionID, err)
	}
	if jsonOutput {
		return writeJSON(out, sessionReport{SessionID: result.SessionID, Status: "Completed", Awards: result.Awards})
	}

	fmt.Fprintf(out, "finalized session %s\n", result.SessionID)
	if len(result.Awards) == 0 {
		fmt.Fprintln(out, "  no new awards")
		return nil
	}
	for _, badgeID := range result.Awards {
		fmt.Fprintf(out, "  awarded %s\n", badgeID)
	}
	return nil
}

func writeJSON(out io.Writer, report any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}
