// Package transmit moves compact records from the logger to the real-time
// store: batching, retry, offline fallback and replay.
package transmit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/fleet-tracking/internal/codec"
	"github.com/example/fleet-tracking/internal/models"
	"github.com/example/fleet-tracking/internal/realtime"
)

// ErrTransientSend marks a send that may succeed when retried.
var ErrTransientSend = errors.New("transient send failure")

type Sender interface {
	// Send archives the batch and refreshes each unit's live entry.
	Send(ctx context.Context, batch []models.CompactRecord) error
	// Backfill only archives; used for replayed records so an old fix never
	// overwrites a unit's live position.
	Backfill(ctx context.Context, batch []models.CompactRecord) error
}

// StoreSender writes batches straight to the real-time store as one
// multi-path update.
type StoreSender struct {
	store realtime.Store
	now   func() time.Time
}

func NewStoreSender(store realtime.Store) *StoreSender {
	return &StoreSender{store: store, now: time.Now}
}

func (s *StoreSender) Send(ctx context.Context, batch []models.CompactRecord) error {
	if len(batch) == 0 {
		return nil
	}
	writes := archiveWrites(batch)
	now := s.now()
	// later records win, so each unit ends on its newest fix
	for _, r := range batch {
		writes["/units/"+r.Unit] = codec.LiveUnit(r, now)
	}
	return s.update(ctx, writes)
}

func (s *StoreSender) Backfill(ctx context.Context, batch []models.CompactRecord) error {
	if len(batch) == 0 {
		return nil
	}
	return s.update(ctx, archiveWrites(batch))
}

func (s *StoreSender) update(ctx context.Context, writes map[string]any) error {
	if err := s.store.Update(ctx, writes); err != nil {
		return fmt.Errorf("%w: %w", ErrTransientSend, err)
	}
	return nil
}

func archiveWrites(batch []models.CompactRecord) map[string]any {
	writes := make(map[string]any, len(batch)+1)
	for _, r := range batch {
		writes["/gps_data/"+codec.Key(r)] = r
	}
	return writes
}
