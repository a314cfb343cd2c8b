package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestSetup(t *testing.T) {
	logger = nil
	once = *new(sync.Once)

	Setup("DEBUG", "json")
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected DEBUG to be enabled")
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn", "text")
	l.Info("dropped")
	l.Warn("kept", "k", "v")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("INFO record should be filtered at WARN: %q", out)
	}
	if !strings.Contains(out, "msg=kept") || !strings.Contains(out, "k=v") {
		t.Fatalf("unexpected text output: %q", out)
	}
}

// install replaces the process logger and marks Setup as done.
func install(l *slog.Logger) {
	once = *new(sync.Once)
	once.Do(func() {})
	logger = l
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	install(slog.New(slog.NewJSONHandler(&buf, nil)))

	l := WithEpoch(WithSession(WithComponent("leader"), "s-1"), 7)
	l.Info("hello")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["component"] != "leader" {
		t.Errorf("Expected component 'leader', got %v", out["component"])
	}
	if out["session_id"] != "s-1" {
		t.Errorf("Expected session_id 's-1', got %v", out["session_id"])
	}
	if out["epoch"] != float64(7) {
		t.Errorf("Expected epoch 7, got %v", out["epoch"])
	}
}

func TestWithJob(t *testing.T) {
	var buf bytes.Buffer
	install(slog.New(slog.NewJSONHandler(&buf, nil)))

	WithJob(WithComponent("dispatcher"), "job-123").Info("job msg")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["job_id"] != "job-123" {
		t.Errorf("Expected job_id 'job-123', got %v", out["job_id"])
	}
	if out["component"] != "dispatcher" {
		t.Errorf("Expected component 'dispatcher', got %v", out["component"])
	}
}
