package sensor

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/example/fleet-tracking/internal/models"
)

func TestParseErrorKind(t *testing.T) {
	cases := map[string]ErrorKind{
		"denied": ErrDenied, " Timeout ": ErrTimeout, "UNAVAILABLE": ErrUnavailable,
		"": ErrUnknown, "exploded": ErrUnknown,
	}
	for in, want := range cases {
		if got := ParseErrorKind(in); got != want {
			t.Fatalf("ParseErrorKind(%q) = %s want %s", in, got, want)
		}
	}
}

func TestOutcomeIsOnePerKind(t *testing.T) {
	seen := map[string]ErrorKind{}
	for _, k := range []ErrorKind{ErrDenied, ErrUnavailable, ErrTimeout, ErrUnknown} {
		_, msg := Outcome(k)
		if prev, ok := seen[msg]; ok {
			t.Fatalf("%s and %s share message %q", prev, k, msg)
		}
		seen[msg] = k
	}
	if level, _ := Outcome(ErrDenied); level != slog.LevelError {
		t.Fatalf("expected denied to log at error level")
	}
	if level, _ := Outcome("bogus"); level != slog.LevelError {
		t.Fatalf("expected unknown kinds to fall back to error level")
	}
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	LogError(context.Background(), logger, ErrTimeout, "no fix in 10s")
	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "kind=timeout") {
		t.Fatalf("unexpected log line %q", out)
	}
}

func TestChannelSource(t *testing.T) {
	src := NewChannelSource(1)
	src.SetInterval(5 * time.Second)
	if src.Interval() != 5*time.Second {
		t.Fatalf("expected interval to be stored")
	}
	fix := &models.RawFix{Lat: 1, Lng: 2}
	if err := src.Push(context.Background(), Event{Fix: fix}); err != nil {
		t.Fatalf("push: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := src.Push(ctx, Event{Err: ErrDenied}); err == nil {
		t.Fatalf("expected a full buffer to block until the deadline")
	}
	if ev := <-src.Events(); ev.Fix != fix {
		t.Fatalf("expected the queued fix")
	}
}
