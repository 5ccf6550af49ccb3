package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mystira/story-engine/internal/story/storage"
)

// AppendAuditEvent persists one operational audit event.
func (s *Store) AppendAuditEvent(ctx context.Context, event storage.AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	attributes := "{}"
	if len(event.Attributes) > 0 {
		encoded, err := json.Marshal(event.Attributes)
		if err != nil {
			return fmt.Errorf("encode audit attributes: %w", err)
		}
		attributes = string(encoded)
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO audit_events (event_name, severity, session_id, profile_id, trace_id, span_id, timestamp, attributes_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, event.EventName, event.Severity, event.SessionID, event.ProfileID,
		event.TraceID, event.SpanID, toMillis(event.Timestamp), attributes)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}
