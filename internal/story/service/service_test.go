package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/mystira/story-engine/internal/errors"
	"github.com/mystira/story-engine/internal/story/domain/badge"
	"github.com/mystira/story-engine/internal/story/domain/session"
	"github.com/mystira/story-engine/internal/story/observability/audit"
	"github.com/mystira/story-engine/internal/story/storage"
)

// fakeStore is an in-memory implementation of every store interface. Writes
// copy the aggregate so held references never alias stored state, matching
// the persistence boundary of a real adapter.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]session.Session
	badges   []badge.Badge
	awards   []storage.Award
	events   []storage.AuditEvent

	// beforePut, when set, runs under the lock ahead of the next PutSession
	// version check and is then cleared. Tests use it to interleave a rival
	// writer.
	beforePut func(f *fakeStore)
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: map[string]session.Session{}}
}

func copySession(s session.Session) session.Session {
	out := s
	out.PlayerNames = append([]string(nil), s.PlayerNames...)
	out.ChoiceHistory = make([]session.Choice, len(s.ChoiceHistory))
	for i, choice := range s.ChoiceHistory {
		copied := choice
		if choice.ResultingAxisChange != nil {
			change := *choice.ResultingAxisChange
			copied.ResultingAxisChange = &change
		}
		out.ChoiceHistory[i] = copied
	}
	out.CompassValues = make(map[string]session.AxisTracking, len(s.CompassValues))
	for axis, tracking := range s.CompassValues {
		copied := tracking
		copied.History = append([]session.AxisChange(nil), tracking.History...)
		out.CompassValues[axis] = copied
	}
	if s.EndTime != nil {
		at := *s.EndTime
		out.EndTime = &at
	}
	if s.PausedAt != nil {
		at := *s.PausedAt
		out.PausedAt = &at
	}
	return out
}

func (f *fakeStore) GetSession(_ context.Context, sessionID string) (session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.sessions[sessionID]
	if !ok {
		return session.Session{}, storage.ErrNotFound
	}
	return copySession(stored), nil
}

func (f *fakeStore) PutSession(_ context.Context, s session.Session, expectedVersion uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beforePut != nil {
		hook := f.beforePut
		f.beforePut = nil
		hook(f)
	}
	stored, exists := f.sessions[s.ID]
	if expectedVersion == 0 {
		if exists {
			return storage.ErrConflict
		}
		saved := copySession(s)
		saved.Version = 1
		f.sessions[s.ID] = saved
		return nil
	}
	if !exists {
		return storage.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return storage.ErrVersionConflict
	}
	saved := copySession(s)
	saved.Version = expectedVersion + 1
	f.sessions[s.ID] = saved
	return nil
}

func (f *fakeStore) FinalizeSession(_ context.Context, s session.Session, expectedVersion uint64, awards []storage.Award) ([]storage.Award, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, exists := f.sessions[s.ID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return nil, storage.ErrVersionConflict
	}
	saved := copySession(s)
	saved.Version = expectedVersion + 1
	f.sessions[s.ID] = saved

	recorded := []storage.Award{}
	for _, award := range awards {
		if f.holdsAwardLocked(award.ProfileID, award.BadgeID) {
			continue
		}
		f.awards = append(f.awards, award)
		recorded = append(recorded, award)
	}
	return recorded, nil
}

func (f *fakeStore) holdsAwardLocked(profileID, badgeID string) bool {
	for _, award := range f.awards {
		if award.ProfileID == profileID && award.BadgeID == badgeID {
			return true
		}
	}
	return false
}

func (f *fakeStore) ListBadgesByAgeGroup(_ context.Context, ageGroupID string) ([]badge.Badge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []badge.Badge{}
	for _, b := range f.badges {
		if b.AgeGroupID == ageGroupID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) PutBadge(_ context.Context, b badge.Badge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.badges = append(f.badges, b)
	return nil
}

func (f *fakeStore) HasAward(_ context.Context, profileID, badgeID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.holdsAwardLocked(profileID, badgeID), nil
}

func (f *fakeStore) ListAwardsByProfile(_ context.Context, profileID string) ([]storage.Award, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []storage.Award{}
	for _, award := range f.awards {
		if award.ProfileID == profileID {
			out = append(out, award)
		}
	}
	return out, nil
}

func (f *fakeStore) ListChoicesByProfile(_ context.Context, profileID string) ([]session.Choice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []session.Choice{}
	for _, stored := range f.sessions {
		if stored.ProfileID != profileID {
			continue
		}
		for _, choice := range stored.ChoiceHistory {
			out = append(out, choice)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (f *fakeStore) AddAward(_ context.Context, award storage.Award) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.holdsAwardLocked(award.ProfileID, award.BadgeID) {
		return storage.ErrConflict
	}
	f.awards = append(f.awards, award)
	return nil
}

func (f *fakeStore) AppendAuditEvent(_ context.Context, event storage.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeStore) eventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.events))
	for _, event := range f.events {
		names = append(names, event.EventName)
	}
	return names
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func tickingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		at := next
		next = next.Add(step)
		return at
	}
}

func sequentialIDs(prefix string) func() (string, error) {
	var mu sync.Mutex
	n := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n), nil
	}
}

func newTestService(store *fakeStore, opts ...Option) *Service {
	base := []Option{
		WithClock(fixedClock(time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC))),
		WithIDGenerator(sequentialIDs("sess")),
		WithAuditEmitter(audit.NewEmitter(store)),
	}
	return New(Stores{
		Sessions: store,
		Catalog:  store,
		Awards:   store,
		Choices:  store,
		Finalize: store,
	}, append(base, opts...)...)
}

func startInput() session.CreateSessionInput {
	return session.CreateSessionInput{
		ScenarioID:     "forest-of-choices",
		AccountID:      "account-1",
		ProfileID:      "profile-1",
		PlayerNames:    []string{"Rowan"},
		TargetAgeGroup: "ages-8-10",
		InitialSceneID: "scene-1",
		StartingAxes:   map[string]float64{"honesty": 0},
	}
}

func seedHonestyCatalog(t *testing.T, store *fakeStore) {
	t.Helper()
	ctx := context.Background()
	entries := []badge.Badge{
		{ID: "honesty-bronze", AgeGroupID: "ages-8-10", Axis: "honesty", Tier: "bronze", TierOrder: 1, RequiredScore: 0.5, Name: "Truth Spark"},
		{ID: "honesty-silver", AgeGroupID: "ages-8-10", Axis: "honesty", Tier: "silver", TierOrder: 2, RequiredScore: 1.0, Name: "Truth Keeper"},
	}
	for _, b := range entries {
		if err := store.PutBadge(ctx, b); err != nil {
			t.Fatalf("seed badge %s: %v", b.ID, err)
		}
	}
}

func recordHonestyChoice(t *testing.T, svc *Service, sessionID string, delta float64) *session.Session {
	t.Helper()
	updated, err := svc.RecordChoice(context.Background(), sessionID, session.RecordChoiceInput{
		SceneID:     "scene-1",
		ChoiceText:  "Tell the truth",
		NextSceneID: "scene-2",
		Axis:        "honesty",
		Delta:       delta,
	})
	if err != nil {
		t.Fatalf("record choice: %v", err)
	}
	if updated == nil {
		t.Fatal("record choice returned no session")
	}
	return updated
}

func TestStartSessionPersists(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestService(store)

	created, err := svc.StartSession(context.Background(), startInput())
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if created.ID != "sess-1" {
		t.Fatalf("id = %q, want sess-1", created.ID)
	}
	if created.Status != session.StatusInProgress {
		t.Fatalf("status = %v, want InProgress", created.Status)
	}
	if created.Version != 1 {
		t.Fatalf("version = %d, want 1 after persist", created.Version)
	}

	stored, err := store.GetSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("load stored session: %v", err)
	}
	if stored.CurrentSceneID != "scene-1" || stored.TargetAgeGroup != "ages-8-10" {
		t.Fatalf("unexpected stored session: %+v", stored)
	}

	names := store.eventNames()
	if len(names) != 1 || names[0] != audit.EventSessionStarted {
		t.Fatalf("audit events = %v, want one session started event", names)
	}
}

func TestStartSessionValidationPersistsNothing(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestService(store)

	_, err := svc.StartSession(context.Background(), session.CreateSessionInput{ProfileID: "profile-1"})
	if !apperrors.IsCode(err, apperrors.CodeSessionFieldRequired) {
		t.Fatalf("expected field required error, got %v", err)
	}
	if got := apperrors.GetMetadata(err)["field"]; got != "ScenarioId" {
		t.Fatalf("metadata field = %q, want ScenarioId", got)
	}
	if len(store.sessions) != 0 {
		t.Fatal("failed validation must not persist a session")
	}
	if len(store.eventNames()) != 0 {
		t.Fatal("failed validation must not emit audit events")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	t.Parallel()

	svc := newTestService(newFakeStore())
	_, err := svc.GetSession(context.Background(), "missing")
	if !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestRecordChoiceAppendsAndAdvancesScene(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestService(store)
	created, err := svc.StartSession(context.Background(), startInput())
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	updated := recordHonestyChoice(t, svc, created.ID, 0.5)
	if len(updated.ChoiceHistory) != 1 {
		t.Fatalf("history = %d entries, want 1", len(updated.ChoiceHistory))
	}
	if updated.CurrentSceneID != "scene-2" {
		t.Fatalf("current scene = %q, want scene-2", updated.CurrentSceneID)
	}
	if updated.CompassValues["honesty"].CurrentValue != 0.5 {
		t.Fatalf("honesty = %v, want 0.5", updated.CompassValues["honesty"].CurrentValue)
	}
	if updated.ChoiceHistory[0].PlayerID != "profile-1" {
		t.Fatalf("player id = %q, want profile fallback", updated.ChoiceHistory[0].PlayerID)
	}

	names := store.eventNames()
	if len(names) != 2 || names[1] != audit.EventChoiceRecorded {
		t.Fatalf("audit events = %v, want choice recorded after session started", names)
	}
}

func TestRecordChoiceMissingSessionIsQuiet(t *testing.T) {
	t.Parallel()

	svc := newTestService(newFakeStore())
	updated, err := svc.RecordChoice(context.Background(), "ghost", session.RecordChoiceInput{
		SceneID: "scene-1", ChoiceText: "hello", NextSceneID: "scene-2",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated != nil {
		t.Fatalf("expected nil session for missing id, got %+v", updated)
	}
}

func TestRecordChoiceRejectedWhenPaused(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestService(store)
	created, err := svc.StartSession(context.Background(), startInput())
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if _, err := svc.PauseSession(context.Background(), created.ID); err != nil {
		t.Fatalf("pause session: %v", err)
	}

	_, err = svc.RecordChoice(context.Background(), created.ID, session.RecordChoiceInput{
		SceneID: "scene-1", ChoiceText: "hello", NextSceneID: "scene-2",
	})
	if !apperrors.IsCode(err, apperrors.CodeSessionStateViolation) {
		t.Fatalf("expected state violation, got %v", err)
	}
	if !strings.Contains(err.Error(), "Paused") {
		t.Fatalf("error %q should name the offending status", err.Error())
	}

	stored, err := store.GetSession(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("load stored session: %v", err)
	}
	if len(stored.ChoiceHistory) != 0 {
		t.Fatal("rejected choice must not be persisted")
	}
}

func TestRecordChoiceRetriesPastVersionConflict(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestService(store, WithClock(tickingClock(time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC), time.Second)))
	created, err := svc.StartSession(context.Background(), startInput())
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	// A rival writer lands its own choice between this call's load and save.
	store.beforePut = func(f *fakeStore) {
		stored := f.sessions[created.ID]
		stored.ChoiceHistory = append(stored.ChoiceHistory, session.Choice{
			SceneID: "scene-1", ChoiceText: "rival", NextSceneID: "scene-3",
			PlayerID: "profile-1", Timestamp: time.Date(2026, 3, 14, 18, 0, 30, 0, time.UTC),
		})
		stored.Version++
		f.sessions[created.ID] = stored
	}

	updated := recordHonestyChoice(t, svc, created.ID, 0.5)
	if len(updated.ChoiceHistory) != 2 {
		t.Fatalf("history = %d entries, want both concurrent choices", len(updated.ChoiceHistory))
	}
	texts := []string{updated.ChoiceHistory[0].ChoiceText, updated.ChoiceHistory[1].ChoiceText}
	sort.Strings(texts)
	if texts[0] != "Tell the truth" || texts[1] != "rival" {
		t.Fatalf("choice texts = %v", texts)
	}
}

func TestPauseResumeRoundTrip(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestService(store)
	created, err := svc.StartSession(context.Background(), startInput())
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	paused, err := svc.PauseSession(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("pause session: %v", err)
	}
	if paused == nil || paused.Status != session.StatusPaused || !paused.IsPaused {
		t.Fatalf("pause result = %+v", paused)
	}

	// Pausing a paused session is a quiet no-op.
	again, err := svc.PauseSession(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("re-pause session: %v", err)
	}
	if again != nil {
		t.Fatalf("expected quiet no-op, got %+v", again)
	}

	resumed, err := svc.ResumeSession(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("resume session: %v", err)
	}
	if resumed == nil || resumed.Status != session.StatusInProgress || resumed.PausedAt != nil {
		t.Fatalf("resume result = %+v", resumed)
	}

	names := store.eventNames()
	want := []string{audit.EventSessionStarted, audit.EventSessionPaused, audit.EventSessionResumed}
	if len(names) != len(want) {
		t.Fatalf("audit events = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("audit events = %v, want %v", names, want)
		}
	}
}

func TestLifecycleMissingSessionIsQuiet(t *testing.T) {
	t.Parallel()

	svc := newTestService(newFakeStore())
	ctx := context.Background()
	for name, call := range map[string]func() (*session.Session, error){
		"pause":  func() (*session.Session, error) { return svc.PauseSession(ctx, "ghost") },
		"resume": func() (*session.Session, error) { return svc.ResumeSession(ctx, "ghost") },
		"end":    func() (*session.Session, error) { return svc.EndSession(ctx, "ghost") },
	} {
		got, err := call()
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if got != nil {
			t.Fatalf("%s: expected nil session, got %+v", name, got)
		}
	}
}

func TestEndSessionFromPaused(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestService(store)
	created, err := svc.StartSession(context.Background(), startInput())
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if _, err := svc.PauseSession(context.Background(), created.ID); err != nil {
		t.Fatalf("pause session: %v", err)
	}

	ended, err := svc.EndSession(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("end session: %v", err)
	}
	if ended == nil || ended.Status != session.StatusCompleted {
		t.Fatalf("end result = %+v", ended)
	}
	if ended.EndTime == nil || ended.IsPaused || ended.PausedAt != nil {
		t.Fatalf("completed session retains pause markers: %+v", ended)
	}
}

func TestFinalizeAwardsFirstBadge(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	seedHonestyCatalog(t, store)
	svc := newTestService(store)
	created, err := svc.StartSession(context.Background(), startInput())
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	recordHonestyChoice(t, svc, created.ID, 0.5)

	result, err := svc.FinalizeSession(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("finalize session: %v", err)
	}
	if len(result.Awards) != 1 || result.Awards[0] != "honesty-bronze" {
		t.Fatalf("awards = %v, want honesty-bronze", result.Awards)
	}

	stored, err := store.GetSession(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("load stored session: %v", err)
	}
	if stored.Status != session.StatusCompleted || stored.EndTime == nil {
		t.Fatalf("finalize did not complete the session: %+v", stored)
	}

	awards, err := store.ListAwardsByProfile(context.Background(), "profile-1")
	if err != nil {
		t.Fatalf("list awards: %v", err)
	}
	if len(awards) != 1 || awards[0].SourceSessionID != created.ID {
		t.Fatalf("ledger = %+v", awards)
	}
}

func TestFinalizeIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	seedHonestyCatalog(t, store)
	svc := newTestService(store)
	created, err := svc.StartSession(context.Background(), startInput())
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	recordHonestyChoice(t, svc, created.ID, 0.5)

	if _, err := svc.FinalizeSession(context.Background(), created.ID); err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	second, err := svc.FinalizeSession(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if len(second.Awards) != 0 {
		t.Fatalf("second finalize awards = %v, want none", second.Awards)
	}

	awards, err := store.ListAwardsByProfile(context.Background(), "profile-1")
	if err != nil {
		t.Fatalf("list awards: %v", err)
	}
	if len(awards) != 1 {
		t.Fatalf("ledger holds %d rows, want 1", len(awards))
	}
}

func TestFinalizeScoresAccumulateAcrossSessions(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	seedHonestyCatalog(t, store)
	svc := newTestService(store, WithClock(tickingClock(time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC), time.Minute)))
	ctx := context.Background()

	// First session banks 0.5 and earns bronze.
	first, err := svc.StartSession(ctx, startInput())
	if err != nil {
		t.Fatalf("start first session: %v", err)
	}
	recordHonestyChoice(t, svc, first.ID, 0.5)
	firstResult, err := svc.FinalizeSession(ctx, first.ID)
	if err != nil {
		t.Fatalf("finalize first session: %v", err)
	}
	if len(firstResult.Awards) != 1 || firstResult.Awards[0] != "honesty-bronze" {
		t.Fatalf("first awards = %v, want honesty-bronze", firstResult.Awards)
	}

	// A later session adds 0.6; cumulative 1.1 crosses silver, and bronze is
	// already held.
	second, err := svc.StartSession(ctx, startInput())
	if err != nil {
		t.Fatalf("start second session: %v", err)
	}
	recordHonestyChoice(t, svc, second.ID, 0.3)
	recordHonestyChoice(t, svc, second.ID, 0.3)
	secondResult, err := svc.FinalizeSession(ctx, second.ID)
	if err != nil {
		t.Fatalf("finalize second session: %v", err)
	}
	if len(secondResult.Awards) != 1 || secondResult.Awards[0] != "honesty-silver" {
		t.Fatalf("second awards = %v, want only honesty-silver", secondResult.Awards)
	}
}

func TestFinalizeAwardsEveryCrossedTier(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	seedHonestyCatalog(t, store)
	svc := newTestService(store, WithClock(tickingClock(time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC), time.Minute)))
	created, err := svc.StartSession(context.Background(), startInput())
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	recordHonestyChoice(t, svc, created.ID, 0.9)
	recordHonestyChoice(t, svc, created.ID, 0.5)

	result, err := svc.FinalizeSession(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("finalize session: %v", err)
	}
	want := []string{"honesty-bronze", "honesty-silver"}
	if len(result.Awards) != len(want) {
		t.Fatalf("awards = %v, want %v", result.Awards, want)
	}
	for i := range want {
		if result.Awards[i] != want[i] {
			t.Fatalf("awards = %v, want tier order %v", result.Awards, want)
		}
	}
}

func TestFinalizeMissingSession(t *testing.T) {
	t.Parallel()

	svc := newTestService(newFakeStore())
	_, err := svc.FinalizeSession(context.Background(), "ghost")
	if !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestFinalizeAfterEndSessionAwardsNothing(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	seedHonestyCatalog(t, store)
	svc := newTestService(store)
	created, err := svc.StartSession(context.Background(), startInput())
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	recordHonestyChoice(t, svc, created.ID, 0.5)
	if _, err := svc.EndSession(context.Background(), created.ID); err != nil {
		t.Fatalf("end session: %v", err)
	}

	result, err := svc.FinalizeSession(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("finalize after end: %v", err)
	}
	if len(result.Awards) != 0 {
		t.Fatalf("awards = %v, want none on already completed session", result.Awards)
	}
}
