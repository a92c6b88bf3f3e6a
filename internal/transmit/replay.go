package transmit

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/fleet-tracking/internal/observability"
	"github.com/example/fleet-tracking/internal/offline"
	"github.com/example/fleet-tracking/internal/retry"
)

// Replayer pushes unsynced offline entries through Sender.Backfill and marks
// them synced chunk by chunk.
type Replayer struct {
	sender Sender
	queue  offline.Queue
	policy retry.Policy
	logger *slog.Logger
	// MaxBatch bounds one Backfill call; zero sends everything at once.
	MaxBatch int
	// Retention prunes synced entries older than this after a replay; zero keeps them.
	Retention time.Duration
	now       func() time.Time
}

func NewReplayer(sender Sender, queue offline.Queue, policy retry.Policy, logger *slog.Logger) *Replayer {
	return &Replayer{sender: sender, queue: queue, policy: policy, logger: logger, MaxBatch: 100, now: time.Now}
}

// Replay returns how many entries were marked synced. Entries already synced
// before a failure stay synced.
func (r *Replayer) Replay(ctx context.Context) (int, error) {
	entries, err := r.queue.Unsynced(ctx)
	if err != nil {
		observability.OfflineErrors.Inc()
		return 0, err
	}
	done := 0
	for len(entries) > 0 {
		n := len(entries)
		if r.MaxBatch > 0 && n > r.MaxBatch {
			n = r.MaxBatch
		}
		chunk := entries[:n]
		err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
			return r.sender.Backfill(ctx, offline.Records(chunk))
		})
		if err != nil {
			return done, err
		}
		if err := r.queue.MarkSynced(ctx, offline.IDs(chunk)); err != nil {
			observability.OfflineErrors.Inc()
			return done, err
		}
		observability.OfflineReplayed.Add(float64(n))
		done += n
		entries = entries[n:]
	}
	if done > 0 {
		r.logger.Info("offline data synced", "records", done)
	}
	if done > 0 && r.Retention > 0 {
		if n, err := r.queue.Prune(ctx, r.now().Add(-r.Retention)); err != nil {
			r.logger.Warn("offline prune failed", "err", err)
		} else if n > 0 {
			r.logger.Debug("offline entries pruned", "count", n)
		}
	}
	return done, nil
}
