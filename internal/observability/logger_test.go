package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/duckpad/duckpad/internal/config"
)

func TestNewLoggerAddsServiceAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.Config{
		Profile:       config.ProfileTest,
		Service:       config.ServiceConfig{Name: "duckpad"},
		Observability: config.ObservabilityConfig{LogLevel: slog.LevelInfo, LogJSON: true},
	}, &buf)

	LoggerFromContext(ContextWithTraceID(context.Background(), "trace-9"), logger).Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("json decode failed: %v (%s)", err, buf.String())
	}
	if entry["service"] != "duckpad" || entry["profile"] != "test" {
		t.Fatalf("entry = %#v", entry)
	}
	if entry["trace_id"] != "trace-9" {
		t.Fatalf("trace_id = %v", entry["trace_id"])
	}
}

func TestLoggerFromContextHandlesNilLogger(t *testing.T) {
	LoggerFromContext(context.Background(), nil).Info("dropped")
}
