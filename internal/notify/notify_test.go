package notify_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/laventecare/corebac/internal/notify"
)

func TestDevPublisher_PublishLogsEventAndPayload(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	p := notify.NewDevPublisher(logger)

	p.Publish(context.Background(), "token.access.introspected", map[string]interface{}{"jti": "abc123"})

	out := buf.String()
	assert.Contains(t, out, "token.access.introspected")
	assert.Contains(t, out, "abc123")
}
