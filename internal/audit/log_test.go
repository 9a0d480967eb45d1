package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	original := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = original })
	return &buf
}

func TestLogEvent(t *testing.T) {
	buf := captureLog(t)

	ctx := WithRequestID(context.Background(), "req-123")
	require.NoError(t, LogEvent(ctx, "invoice.payment", map[string]any{"invoice_id": "inv-1"}))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "log not valid JSON")
	assert.Equal(t, "audit", entry["type"])
	assert.Equal(t, "invoice.payment", entry["event"])
	assert.Equal(t, "req-123", entry["request_id"])

	fields, ok := entry["fields"].(map[string]any)
	require.True(t, ok, "fields missing: %v", entry["fields"])
	assert.Equal(t, "inv-1", fields["invoice_id"])
}

func TestLogEventRequiresName(t *testing.T) {
	buf := captureLog(t)
	require.Error(t, LogEvent(context.Background(), "  ", nil))
	assert.Zero(t, buf.Len(), "nothing should be logged")
}

func TestBlankRequestIDIgnored(t *testing.T) {
	ctx := WithRequestID(context.Background(), " ")
	assert.Empty(t, RequestID(ctx))
}
