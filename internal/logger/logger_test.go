package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerToFormats(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "warn", true)

	log.Info("dropped")
	log.Warn("kept", "component", "test")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["msg"] != "kept" || entry["component"] != "test" {
		t.Errorf("entry = %v", entry)
	}

	buf.Reset()
	NewLoggerTo(&buf, "info", false).Info("plain")
	if !strings.Contains(buf.String(), "msg=plain") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestTruncateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"a longer message body", 10, "a longe..."},
		{"abcdef", 3, "..."},
	}
	for _, tc := range tests {
		if got := truncateString(tc.in, tc.max); got != tc.want {
			t.Errorf("truncateString(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}
