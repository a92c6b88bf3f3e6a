package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/fleet-tracking/internal/codec"
	"github.com/example/fleet-tracking/internal/models"
	"github.com/example/fleet-tracking/internal/retry"
	"github.com/example/fleet-tracking/internal/transmit"
)

// relay applies records published by the logger's Kafka sender to the
// real-time store, live records to the archive and the live view, backfill
// records to the archive only.
type relay struct {
	sender transmit.Sender
	policy retry.Policy
	logger *slog.Logger
}

// apply decodes one message and writes it with retries. Invalid messages
// are counted and skipped.
func (rl *relay) apply(ctx context.Context, m kafka.Message) error {
	var rec models.CompactRecord
	if err := json.Unmarshal(m.Value, &rec); err != nil {
		msgsInvalid.Inc()
		rl.logger.Warn("invalid message", "offset", m.Offset, "err", err)
		return fmt.Errorf("decode record: %w", err)
	}
	if rec.Unit == "" {
		msgsInvalid.Inc()
		rl.logger.Warn("record without unit", "offset", m.Offset)
		return fmt.Errorf("decode record: missing unit")
	}

	kind := transmit.MessageKind(m)
	write := rl.sender.Send
	if kind == transmit.KindBackfill {
		write = rl.sender.Backfill
	}
	policy := rl.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		rl.logger.Warn("store write failed, retrying", "unit", rec.Unit, "attempt", attempt, "delay", delay, "err", err)
	}
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		return write(ctx, []models.CompactRecord{rec})
	})
	if err != nil {
		storeErrors.Inc()
		rl.logger.Error("store update failed", "unit", rec.Unit, "key", codec.Key(rec), "err", err)
		return err
	}
	storeWrites.WithLabelValues(kind).Inc()
	return nil
}
