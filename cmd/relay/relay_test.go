package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/fleet-tracking/internal/models"
	"github.com/example/fleet-tracking/internal/realtime"
	"github.com/example/fleet-tracking/internal/retry"
	"github.com/example/fleet-tracking/internal/transmit"
)

// fakeSender fails the first failN writes.
type fakeSender struct {
	failN     int
	calls     int
	sent      []models.CompactRecord
	backfills []models.CompactRecord
}

func (f *fakeSender) Send(_ context.Context, batch []models.CompactRecord) error {
	f.calls++
	if f.calls <= f.failN {
		return errors.New("store fail")
	}
	f.sent = append(f.sent, batch...)
	return nil
}

func (f *fakeSender) Backfill(_ context.Context, batch []models.CompactRecord) error {
	f.calls++
	if f.calls <= f.failN {
		return errors.New("store fail")
	}
	f.backfills = append(f.backfills, batch...)
	return nil
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newRelay(sender transmit.Sender, retries int) *relay {
	return &relay{
		sender: sender,
		policy: retry.Policy{MaxRetries: retries, BaseDelay: time.Millisecond, Sleep: noSleep},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func message(t *testing.T, rec models.CompactRecord, kind string) kafka.Message {
	t.Helper()
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	m := kafka.Message{Key: []byte(rec.Unit), Value: b}
	if kind != "" {
		m.Headers = []kafka.Header{{Key: "kind", Value: []byte(kind)}}
	}
	return m
}

func TestApplySucceedsAfterRetries(t *testing.T) {
	f := &fakeSender{failN: 2}
	rl := newRelay(f, 3)
	if err := rl.apply(context.Background(), message(t, models.CompactRecord{Unit: "DT-06", TS: 1}, "")); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 || len(f.sent) != 1 {
		t.Fatalf("expected retries, got calls=%d sent=%d", f.calls, len(f.sent))
	}
}

func TestApplyFailsWhenExhausted(t *testing.T) {
	f := &fakeSender{failN: 10}
	rl := newRelay(f, 3)
	err := rl.apply(context.Background(), message(t, models.CompactRecord{Unit: "DT-06", TS: 1}, ""))
	if !errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
	if f.calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", f.calls)
	}
}

func TestApplyRoutesBackfill(t *testing.T) {
	f := &fakeSender{}
	rl := newRelay(f, 0)
	if err := rl.apply(context.Background(), message(t, models.CompactRecord{Unit: "DT-07", TS: 2}, transmit.KindBackfill)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(f.backfills) != 1 || len(f.sent) != 0 {
		t.Fatalf("expected a backfill only, got sent=%d backfills=%d", len(f.sent), len(f.backfills))
	}
}

func TestApplySkipsInvalidMessages(t *testing.T) {
	f := &fakeSender{}
	rl := newRelay(f, 0)
	if err := rl.apply(context.Background(), kafka.Message{Value: []byte("{not json")}); err == nil {
		t.Fatalf("expected decode error")
	}
	if err := rl.apply(context.Background(), kafka.Message{Value: []byte(`{"ts":1}`)}); err == nil {
		t.Fatalf("expected missing unit error")
	}
	if f.calls != 0 {
		t.Fatalf("expected no writes, got %d", f.calls)
	}
}

// scriptedReader returns its messages and then blocks until ctx ends.
type scriptedReader struct{ msgs []kafka.Message }

func (s *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(s.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return m, nil
}

func TestConsumeWritesToStore(t *testing.T) {
	store := realtime.NewMemory()
	rl := newRelay(transmit.NewStoreSender(store), 3)
	bat := 80
	live := models.CompactRecord{Session: "S1", Driver: "Rah", Unit: "DT-06", Lat: -430000, Lng: 102960000, Speed: 20, TS: 1000, Status: "s", Battery: &bat}
	old := models.CompactRecord{Unit: "DT-25", TS: 500, Status: "s"}
	r := &scriptedReader{msgs: []kafka.Message{
		message(t, live, transmit.KindLive),
		message(t, old, transmit.KindBackfill),
		{Value: []byte("garbage")},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rl.consume(ctx, r) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err := store.Once(context.Background(), "/gps_data")
		if err == nil && len(snap) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for archive, have %d", len(snap))
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}

	raw, ok := store.Get("/units/DT-06")
	if !ok {
		t.Fatalf("expected live unit for DT-06")
	}
	var lu models.LiveUnit
	if err := json.Unmarshal(raw, &lu); err != nil || lu.Lat == nil || *lu.Lat != -0.43 {
		t.Fatalf("unexpected live unit %s (%v)", raw, err)
	}
	if _, ok := store.Get("/units/DT-25"); ok {
		t.Fatalf("backfill must not touch the live view")
	}
}
