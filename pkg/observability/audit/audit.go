package audit

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Severity describes the audit severity level.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// Event captures one operational observation emitted during command execution.
type Event struct {
	Timestamp     time.Time
	EventName     string
	Severity      string
	ScopeKey      string
	CommandID     string
	CorrelationID string
	TraceID       string
	SpanID        string
	Outcome       string
	Attributes    map[string]any
}

// Store persists operational audit records for incident analysis.
type Store interface {
	AppendAuditEvent(ctx context.Context, evt Event) error
}

// TraceContext returns the active trace and span identifiers, or empty
// strings when ctx carries no valid span.
func TraceContext(ctx context.Context) (traceID, spanID string) {
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		return sc.TraceID().String(), sc.SpanID().String()
	}
	return "", ""
}
