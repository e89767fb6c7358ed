package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	t.Parallel()

	t.Run("json by default", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		logger, err := NewLogger(&buf, "info", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		logger.Debug("hidden")
		logger.Info("feeder registered", "feeder_id", "feeder-1")

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 1 {
			t.Fatalf("expected debug to be filtered, got %q", buf.String())
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
			t.Fatalf("expected JSON output: %v", err)
		}
		if entry["feeder_id"] != "feeder-1" {
			t.Fatalf("unexpected entry: %v", entry)
		}
	})

	t.Run("console uses text", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		logger, err := NewLogger(&buf, "DEBUG", "console")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		logger.Debug("sync started")
		if !strings.Contains(buf.String(), "msg=\"sync started\"") {
			t.Fatalf("expected text output, got %q", buf.String())
		}
	})

	t.Run("unknown level", func(t *testing.T) {
		t.Parallel()
		if _, err := NewLogger(&bytes.Buffer{}, "loud", "json"); err == nil {
			t.Fatal("expected error for unknown level")
		}
	})
}

func TestContextLogger(t *testing.T) {
	t.Parallel()

	if FromContext(context.Background()) != nil {
		t.Fatal("expected no logger on a bare context")
	}
	logger, _ := NewLogger(&bytes.Buffer{}, "info", "json")
	ctx := ContextWithLogger(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Fatal("expected logger to round trip through context")
	}
	if ContextWithLogger(ctx, nil) != ctx {
		t.Fatal("expected nil logger to leave context unchanged")
	}
}
