package audit

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// EventType defines the category of the audit log.
type EventType string

const (
	EventClientAuthenticated EventType = "CLIENT_AUTHENTICATED"
	EventClientAuthFailed    EventType = "CLIENT_AUTH_FAILED"
	EventTokenIntrospected   EventType = "TOKEN_INTROSPECTED"
	EventTokenRevoked        EventType = "TOKEN_REVOKED"
	EventKeyRotated          EventType = "KEY_ROTATED"
	EventKeyEmergencyRotated EventType = "KEY_EMERGENCY_ROTATED"
	EventTupleWritten        EventType = "REBAC_TUPLE_WRITTEN"
	EventTupleDeleted        EventType = "REBAC_TUPLE_DELETED"
	EventCheckDecision       EventType = "CHECK_DECISION"
)

// AuditLogger defines the contract for immutable logging. actor is the
// tenant-scoped subject responsible for the event — a client_id, a
// user id, or "system" for janitor-driven events — not necessarily a
// UUID, so it is a plain string rather than uuid.UUID.
type AuditLogger interface {
	Log(ctx context.Context, tenantID, actor string, action EventType, resource string, metadata map[string]string)
}

// JSONAuditLogger writes structured logs to stdout, but with a specific "audit" key
// that can be filtered by log aggregators (Datadog, Splunk, Sentry) to go to a separate index.
type JSONAuditLogger struct {
	logger *slog.Logger
	mu     sync.Mutex
}

func NewJSONAuditLogger() *JSONAuditLogger {
	// We use a separate handler/logger instance to ensure consistent formatting
	// independent of the main app logger.
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return &JSONAuditLogger{
		logger: slog.New(handler),
	}
}

func (l *JSONAuditLogger) Log(ctx context.Context, tenantID, actor string, action EventType, resource string, metadata map[string]string) {
	fields := []interface{}{
		slog.String("log_type", "AUDIT_TRAIL"), // Marker for aggregators
		slog.String("tenant_id", tenantID),
		slog.String("actor", actor),
		slog.String("action", string(action)),
		slog.String("resource", resource),
		slog.Time("timestamp_utc", time.Now().UTC()),
	}

	// Flatten metadata
	for k, v := range metadata {
		fields = append(fields, slog.String("meta_"+k, v))
	}

	l.logger.InfoContext(ctx, "audit_event", fields...)
}

// MockAuditLogger for testing
type MockAuditLogger struct{}

func (m *MockAuditLogger) Log(ctx context.Context, tenantID, actor string, action EventType, resource string, metadata map[string]string) {
	// No-op
}
