package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func captureJSON(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	Setup(&buf, "debug", "json")
	return &buf
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v (%s)", err, buf.String())
	}
	return entry
}

func TestFromContext_RequestID(t *testing.T) {
	buf := captureJSON(t)

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	WithFields(ctx, "execution_id", int64(7)).Info("execution started")

	entry := decode(t, buf)
	if entry["request_id"] != "req-42" {
		t.Errorf("request_id = %v, want req-42", entry["request_id"])
	}
	if entry["execution_id"] != float64(7) {
		t.Errorf("execution_id = %v, want 7", entry["execution_id"])
	}
}

func TestContextWith_Accumulates(t *testing.T) {
	buf := captureJSON(t)

	ctx := ContextWith(context.Background(), "execution_id", int64(3))
	child := ContextWith(ctx, "format", "RDB")
	FromContext(child).Info("table created")

	entry := decode(t, buf)
	if entry["execution_id"] != float64(3) || entry["format"] != "RDB" {
		t.Errorf("fields not propagated: %v", entry)
	}

	buf.Reset()
	FromContext(ctx).Info("parent")
	if strings.Contains(buf.String(), "RDB") {
		t.Errorf("child fields leaked into parent context: %s", buf.String())
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "warn", "text").Info("hidden")
	New(&buf, "warn", "text").Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "msg=shown") {
		t.Errorf("unexpected text output: %q", out)
	}
}
