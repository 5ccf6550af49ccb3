// Package audit records operational audit events for story engine
// commands, tagging each event with the active trace context when tracing
// is enabled.
package audit

import (
	"context"
	"time"

	"github.com/mystira/story-engine/internal/story/storage"
	"go.opentelemetry.io/otel/trace"
)

// Severity describes the audit severity level.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// Audit event names emitted by the story service.
const (
	EventSessionStarted   = "story.session.started"
	EventChoiceRecorded   = "story.choice.recorded"
	EventSessionPaused    = "story.session.paused"
	EventSessionResumed   = "story.session.resumed"
	EventSessionEnded     = "story.session.ended"
	EventSessionFinalized = "story.session.finalized"
)

// Emitter records audit events.
type Emitter struct {
	store storage.AuditEventStore
	clock func() time.Time
}

// NewEmitter creates a new audit emitter.
func NewEmitter(store storage.AuditEventStore) *Emitter {
	return &Emitter{store: store, clock: time.Now}
}

// Emit records one audit event. It is a no-op when the emitter or its
// store is nil, so callers can emit unconditionally. Trace and span IDs
// are filled from the context when a valid span is active.
func (e *Emitter) Emit(ctx context.Context, event storage.AuditEvent) error {
	if e == nil || e.store == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		if e.clock == nil {
			event.Timestamp = time.Now().UTC()
		} else {
			event.Timestamp = e.clock().UTC()
		}
	}
	if event.Severity == "" {
		event.Severity = string(SeverityInfo)
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		event.TraceID = sc.TraceID().String()
		event.SpanID = sc.SpanID().String()
	}
	return e.store.AppendAuditEvent(ctx, event)
}
