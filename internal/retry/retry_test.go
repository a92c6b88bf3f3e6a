package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recorder struct{ delays []time.Duration }

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	rec := &recorder{}
	calls := 0
	p := Policy{MaxRetries: 3, BaseDelay: time.Second, Sleep: rec.sleep}
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("send fail")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(rec.delays) != 2 || rec.delays[0] != 2*time.Second || rec.delays[1] != 4*time.Second {
		t.Fatalf("unexpected delays %v", rec.delays)
	}
}

func TestDoExhaustsWithDoublingDelays(t *testing.T) {
	rec := &recorder{}
	calls := 0
	sendErr := errors.New("unreachable")
	p := Policy{MaxRetries: 3, BaseDelay: time.Second, Sleep: rec.sleep}
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return sendErr
	})
	if !errors.Is(err, ErrExhausted) || !errors.Is(err, sendErr) {
		t.Fatalf("expected exhausted error wrapping the cause, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected first attempt plus 3 retries, got %d calls", calls)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(rec.delays) != len(want) {
		t.Fatalf("expected %v, got %v", want, rec.delays)
	}
	for i := range want {
		if rec.delays[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, rec.delays)
		}
	}
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{MaxRetries: 5, BaseDelay: time.Hour}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	err := Do(ctx, p, func(context.Context) error {
		calls++
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("expected backoff to be interrupted")
	}
}

func TestRealSleepWaits(t *testing.T) {
	start := time.Now()
	if err := Sleep(context.Background(), 5*time.Millisecond); err != nil {
		t.Fatalf("sleep: %v", err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}
