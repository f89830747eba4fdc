package audit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/laventecare/corebac/internal/audit"
)

func TestJSONAuditLogger_LogDoesNotPanic(t *testing.T) {
	logger := audit.NewJSONAuditLogger()
	assert.NotNil(t, logger)

	// NewJSONAuditLogger writes to os.Stdout directly, so the only thing
	// worth asserting here without capturing stdout is that Log does not
	// panic, both with metadata (exercising the flattening path) and
	// with nil metadata.
	logger.Log(context.Background(), "tenant-1", "client-a", audit.EventClientAuthenticated, "client:client-a", map[string]string{"method": "private_key_jwt"})
	logger.Log(context.Background(), "tenant-1", "system", audit.EventTokenRevoked, "token:jti-1", nil)
}

func TestMockAuditLogger_LogIsNoop(t *testing.T) {
	var logger audit.AuditLogger = &audit.MockAuditLogger{}
	logger.Log(context.Background(), "tenant-1", "client-a", audit.EventCheckDecision, "document:doc-1", map[string]string{"decision": "allow"})
}
