package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{"": slog.LevelInfo, "DEBUG": slog.LevelDebug, "warning": slog.LevelWarn, "error": slog.LevelError}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewWriter_JSONFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWriter(&buf, "warn", "json", false)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "session_id", "s1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("want 1 line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if rec["msg"] != "shown" || rec["session_id"] != "s1" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestNewWriter_AutoFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewWriter(&buf, "info", "auto", true)
	logger.Info("hello")
	if strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("want text on a terminal, got %q", buf.String())
	}

	buf.Reset()
	logger, _ = NewWriter(&buf, "info", "auto", false)
	logger.Info("hello")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("want json off a terminal, got %q", buf.String())
	}

	if _, err := NewWriter(&buf, "info", "xml", false); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
