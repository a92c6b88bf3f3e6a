package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":    slog.LevelDebug,
		" WARN ":   slog.LevelWarn,
		"warning":  slog.LevelWarn,
		"error":    slog.LevelError,
		"":         slog.LevelInfo,
		"verbose?": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerTagsServiceAndFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "dashboard", "warn")
	logger.Info("dropped")
	logger.Warn("kept", "unit", "DT-06")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected exactly one JSON record, got %q: %v", buf.String(), err)
	}
	if rec["service"] != "dashboard" || rec["msg"] != "kept" || rec["unit"] != "DT-06" {
		t.Fatalf("unexpected record %v", rec)
	}
	if _, ok := rec["source"]; !ok {
		t.Fatalf("expected source location")
	}
}
