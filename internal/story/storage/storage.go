// Package storage defines the persistence boundary for the story engine:
// record types, store interfaces, and the sentinel errors adapters must
// return.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/mystira/story-engine/internal/story/domain/badge"
	"github.com/mystira/story-engine/internal/story/domain/session"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a write conflicts with a uniqueness constraint.
	ErrConflict = errors.New("record conflict")
	// ErrVersionConflict indicates a session save lost an optimistic
	// concurrency race; the caller should reload and retry.
	ErrVersionConflict = errors.New("session version conflict")
)

// Award is one row in the badge award ledger. The ledger is unique on
// (ProfileID, BadgeID): a badge is recorded at most once per profile no
// matter how many finalize calls race.
type Award struct {
	ProfileID       string
	BadgeID         string
	SourceSessionID string
	AwardedAt       time.Time
}

// AuditEvent is one operational audit record.
type AuditEvent struct {
	EventName  string
	Severity   string
	SessionID  string
	ProfileID  string
	TraceID    string
	SpanID     string
	Timestamp  time.Time
	Attributes map[string]any
}

// SessionStore persists session aggregates with optimistic concurrency.
type SessionStore interface {
	// GetSession loads one session or ErrNotFound.
	GetSession(ctx context.Context, sessionID string) (session.Session, error)
	// PutSession saves the session. expectedVersion zero inserts a new
	// session; otherwise the stored version must match or the save fails
	// with ErrVersionConflict. The stored version advances by one on
	// success.
	PutSession(ctx context.Context, s session.Session, expectedVersion uint64) error
}

// BadgeCatalogStore holds the read-only badge reference data.
type BadgeCatalogStore interface {
	ListBadgesByAgeGroup(ctx context.Context, ageGroupID string) ([]badge.Badge, error)
	// PutBadge upserts one catalog entry. Runtime code treats the catalog
	// as immutable; only the importer writes it.
	PutBadge(ctx context.Context, b badge.Badge) error
}

// AwardStore reads and writes the award ledger.
type AwardStore interface {
	HasAward(ctx context.Context, profileID, badgeID string) (bool, error)
	ListAwardsByProfile(ctx context.Context, profileID string) ([]Award, error)
	// AddAward records one award or returns ErrConflict when the profile
	// already holds the badge.
	AddAward(ctx context.Context, award Award) error
}

// ChoiceHistorySource reads the full cross-session choice history of one
// profile, the input to cumulative axis scoring.
type ChoiceHistorySource interface {
	ListChoicesByProfile(ctx context.Context, profileID string) ([]session.Choice, error)
}

// FinalizeStore atomically completes a session and writes its award rows in
// one transaction. It returns the awards actually recorded: rows already
// held by the ledger (a racing finalize for the same profile) are silently
// skipped rather than failing the close-out.
type FinalizeStore interface {
	FinalizeSession(ctx context.Context, s session.Session, expectedVersion uint64, awards []Award) ([]Award, error)
}

// AuditEventStore appends operational audit events.
type AuditEventStore interface {
	AppendAuditEvent(ctx context.Context, event AuditEvent) error
}
