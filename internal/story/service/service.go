// Package service implements the story engine's application operations:
// session lifecycle, choice recording, and session finalization with badge
// awarding.
package service

import (
	"errors"
	"time"

	apperrors "github.com/mystira/story-engine/internal/errors"
	"github.com/mystira/story-engine/internal/platform/id"
	"github.com/mystira/story-engine/internal/story/observability/audit"
	"github.com/mystira/story-engine/internal/story/storage"
)

// maxSaveAttempts bounds the reload-and-retry loop on optimistic
// concurrency conflicts before the conflict surfaces to the caller.
const maxSaveAttempts = 3

// Stores groups the persistence dependencies of the story service.
type Stores struct {
	Sessions storage.SessionStore
	Catalog  storage.BadgeCatalogStore
	Awards   storage.AwardStore
	Choices  storage.ChoiceHistorySource
	Finalize storage.FinalizeStore
}

// Service coordinates story session operations over the configured stores.
type Service struct {
	stores      Stores
	now         func() time.Time
	idGenerator func() (string, error)
	audit       *audit.Emitter
}

// Option configures optional service dependencies.
type Option func(*Service)

// WithClock overrides the service clock. Tests use fixed clocks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides session ID generation.
func WithIDGenerator(generate func() (string, error)) Option {
	return func(s *Service) {
		if generate != nil {
			s.idGenerator = generate
		}
	}
}

// WithAuditEmitter attaches an audit emitter. Without one, operations run
// silently.
func WithAuditEmitter(emitter *audit.Emitter) Option {
	return func(s *Service) {
		s.audit = emitter
	}
}

// New creates a story service over the provided stores.
func New(stores Stores, opts ...Option) *Service {
	svc := &Service{
		stores:      stores,
		now:         time.Now,
		idGenerator: id.NewID,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// requiredFieldError reports a missing request field by name.
func requiredFieldError(field string) error {
	return apperrors.WithMetadata(
		apperrors.CodeSessionFieldRequired,
		field+" is required",
		map[string]string{"field": field},
	)
}

// storeError maps a storage failure onto the domain error taxonomy. Version
// conflicts stay distinguishable so callers know a retry is safe; everything
// else is treated as a transient store outage.
func storeError(op string, err error) error {
	if errors.Is(err, storage.ErrVersionConflict) {
		return apperrors.Wrap(apperrors.CodeVersionConflict, op+": session version conflict", err)
	}
	return apperrors.Wrap(apperrors.CodeStoreUnavailable, op+": store unavailable", err)
}
