// Package sensor delivers location fixes and sensor errors to the tracker.
package sensor

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/example/fleet-tracking/internal/models"
	"github.com/example/fleet-tracking/internal/observability"
)

type ErrorKind string

const (
	ErrDenied      ErrorKind = "denied"
	ErrUnavailable ErrorKind = "unavailable"
	ErrTimeout     ErrorKind = "timeout"
	ErrUnknown     ErrorKind = "unknown"
)

// Event carries either a fix or an error kind.
type Event struct {
	Fix    *models.RawFix
	Err    ErrorKind
	Detail string
}

type Source interface {
	Events() <-chan Event
	// SetInterval asks the device for a new sampling period.
	SetInterval(d time.Duration)
}

// ChannelSource is fed from outside, typically by the HTTP ingest endpoint.
// Devices poll Interval to learn the sampling period they should use.
type ChannelSource struct {
	events   chan Event
	mu       sync.RWMutex
	interval time.Duration
}

func NewChannelSource(buffer int) *ChannelSource {
	return &ChannelSource{events: make(chan Event, buffer)}
}

func (c *ChannelSource) Events() <-chan Event { return c.events }

// Push blocks until the event is queued or ctx ends.
func (c *ChannelSource) Push(ctx context.Context, ev Event) error {
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ChannelSource) SetInterval(d time.Duration) {
	c.mu.Lock()
	c.interval = d
	c.mu.Unlock()
}

func (c *ChannelSource) Interval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.interval
}

func ParseErrorKind(s string) ErrorKind {
	switch k := ErrorKind(strings.ToLower(strings.TrimSpace(s))); k {
	case ErrDenied, ErrUnavailable, ErrTimeout:
		return k
	}
	return ErrUnknown
}

var outcomes = map[ErrorKind]struct {
	level slog.Level
	msg   string
}{
	ErrDenied:      {slog.LevelError, "location permission denied"},
	ErrUnavailable: {slog.LevelWarn, "GPS position unavailable"},
	ErrTimeout:     {slog.LevelWarn, "timed out waiting for GPS position"},
	ErrUnknown:     {slog.LevelError, "GPS error"},
}

// Outcome returns the log level and message for an error kind.
func Outcome(k ErrorKind) (slog.Level, string) {
	o, ok := outcomes[k]
	if !ok {
		o = outcomes[ErrUnknown]
	}
	return o.level, o.msg
}

// LogError records a sensor error. Nothing else is done about it.
func LogError(ctx context.Context, logger *slog.Logger, k ErrorKind, detail string) {
	level, msg := Outcome(k)
	observability.SensorErrors.WithLabelValues(string(k)).Inc()
	logger.Log(ctx, level, msg, "kind", string(k), "detail", detail)
}
