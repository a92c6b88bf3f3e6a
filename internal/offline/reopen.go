package offline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/fleet-tracking/internal/models"
	"github.com/example/fleet-tracking/internal/observability"
)

// OpenFunc opens a backing queue.
type OpenFunc func(ctx context.Context) (Queue, error)

// ReopeningQueue stands in for a queue that could not be opened at startup.
// Every operation fails with ErrUnavailable until a later open succeeds.
// Opens are attempted at most once per interval, on demand.
type ReopeningQueue struct {
	open     OpenFunc
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	q    Queue
	next time.Time
}

// NewReopeningQueue assumes open has just failed, so the first retry waits
// a full interval.
func NewReopeningQueue(open OpenFunc, interval time.Duration, logger *slog.Logger) *ReopeningQueue {
	r := &ReopeningQueue{open: open, interval: interval, logger: logger, now: time.Now}
	r.next = r.now().Add(interval)
	return r
}

func (r *ReopeningQueue) get(ctx context.Context) (Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.q != nil {
		return r.q, nil
	}
	now := r.now()
	if now.Before(r.next) {
		return nil, ErrUnavailable
	}
	q, err := r.open(ctx)
	if err != nil {
		r.next = now.Add(r.interval)
		observability.OfflineErrors.Inc()
		r.logger.Warn("offline storage still unavailable", "err", err, "retry_in", r.interval)
		if !errors.Is(err, ErrUnavailable) {
			err = fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return nil, err
	}
	r.q = q
	r.logger.Info("offline storage available again")
	return q, nil
}

func (r *ReopeningQueue) Store(ctx context.Context, rec models.CompactRecord) (uint64, error) {
	q, err := r.get(ctx)
	if err != nil {
		return 0, err
	}
	return q.Store(ctx, rec)
}

func (r *ReopeningQueue) Unsynced(ctx context.Context) ([]models.OfflineEntry, error) {
	q, err := r.get(ctx)
	if err != nil {
		return nil, err
	}
	return q.Unsynced(ctx)
}

func (r *ReopeningQueue) MarkSynced(ctx context.Context, ids []uint64) error {
	q, err := r.get(ctx)
	if err != nil {
		return err
	}
	return q.MarkSynced(ctx, ids)
}

func (r *ReopeningQueue) Prune(ctx context.Context, before time.Time) (int, error) {
	q, err := r.get(ctx)
	if err != nil {
		return 0, err
	}
	return q.Prune(ctx, before)
}

func (r *ReopeningQueue) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.q == nil {
		return nil
	}
	return r.q.Close()
}
