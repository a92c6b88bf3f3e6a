package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrExhausted = errors.New("retries exhausted")

// Policy retries an operation MaxRetries times after the first attempt.
// Before retry k (1-based) it waits 2^k * BaseDelay.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	// Sleep waits for d or until ctx is done; nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called after a failed attempt, before the wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: time.Second}
}

func (p Policy) Delay(retry int) time.Duration {
	return time.Duration(1<<retry) * p.BaseDelay
}

// Do runs op until it succeeds or the retries run out. The final error wraps
// both ErrExhausted and the last error returned by op.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	var err error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			d := p.Delay(attempt)
			if p.OnRetry != nil {
				p.OnRetry(attempt, d, err)
			}
			if serr := sleep(ctx, d); serr != nil {
				return fmt.Errorf("%w: %w", serr, err)
			}
		}
		if err = op(ctx); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.MaxRetries+1, err)
}

func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
