package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ambit-dev/ambit/pkg/observability/audit"
)

// AppendAuditEvent records an operational audit event.
func (s *Store) AppendAuditEvent(ctx context.Context, evt audit.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(evt.EventName) == "" {
		return fmt.Errorf("event name is required")
	}
	if strings.TrimSpace(evt.Severity) == "" {
		return fmt.Errorf("severity is required")
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	var attributesJSON []byte
	if len(evt.Attributes) > 0 {
		payload, err := json.Marshal(evt.Attributes)
		if err != nil {
			return fmt.Errorf("marshal audit attributes: %w", err)
		}
		attributesJSON = payload
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO audit_events (timestamp, event_name, severity, scope_key, command_id, correlation_id, trace_id, span_id, outcome, attributes_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		toMillis(evt.Timestamp),
		evt.EventName,
		evt.Severity,
		toNullString(evt.ScopeKey),
		toNullString(evt.CommandID),
		toNullString(evt.CorrelationID),
		toNullString(evt.TraceID),
		toNullString(evt.SpanID),
		toNullString(evt.Outcome),
		attributesJSON,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns up to limit audit events in append order.
func (s *Store) ListAuditEvents(ctx context.Context, limit int) ([]audit.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT timestamp, event_name, severity, scope_key, command_id, correlation_id, trace_id, span_id, outcome, attributes_json
FROM audit_events ORDER BY id LIMIT ?
`, queryLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var evt audit.Event
		var timestamp int64
		var scopeKey, commandID, correlationID, traceID, spanID, outcome sql.NullString
		var attributesJSON []byte
		if err := rows.Scan(&timestamp, &evt.EventName, &evt.Severity, &scopeKey, &commandID, &correlationID, &traceID, &spanID, &outcome, &attributesJSON); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		evt.Timestamp = fromMillis(timestamp)
		evt.ScopeKey = scopeKey.String
		evt.CommandID = commandID.String
		evt.CorrelationID = correlationID.String
		evt.TraceID = traceID.String
		evt.SpanID = spanID.String
		evt.Outcome = outcome.String
		if len(attributesJSON) > 0 {
			if err := json.Unmarshal(attributesJSON, &evt.Attributes); err != nil {
				return nil, fmt.Errorf("decode audit attributes: %w", err)
			}
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read audit events: %w", err)
	}
	return events, nil
}
