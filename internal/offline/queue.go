// Package offline keeps records whose transmission failed until they can be
// replayed. Entries are append-only: replay marks them synced rather than
// deleting them, and Prune is the only way they go away.
package offline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/fleet-tracking/internal/models"
)

// ErrUnavailable is returned when the backing store cannot be opened or written.
var ErrUnavailable = errors.New("offline storage unavailable")

// Queue defines the durable operations the transmission pipeline needs.
type Queue interface {
	Store(ctx context.Context, rec models.CompactRecord) (uint64, error)
	Unsynced(ctx context.Context) ([]models.OfflineEntry, error)
	// MarkSynced is idempotent and ignores ids it does not know.
	MarkSynced(ctx context.Context, ids []uint64) error
	// Prune drops synced entries captured before the cutoff.
	Prune(ctx context.Context, before time.Time) (int, error)
	Close() error
}

type MemoryQueue struct {
	mu      sync.RWMutex
	entries []models.OfflineEntry
	nextID  uint64
	now     func() time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{now: time.Now}
}

func (m *MemoryQueue) Store(_ context.Context, rec models.CompactRecord) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.entries = append(m.entries, models.OfflineEntry{ID: m.nextID, Record: rec, CapturedAt: m.now().UTC()})
	return m.nextID, nil
}

func (m *MemoryQueue) Unsynced(_ context.Context) ([]models.OfflineEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.OfflineEntry, 0)
	for _, e := range m.entries {
		if !e.Synced {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryQueue) MarkSynced(_ context.Context, ids []uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for i := range m.entries {
		if _, ok := want[m.entries[i].ID]; ok {
			m.entries[i].Synced = true
		}
	}
	return nil
}

func (m *MemoryQueue) Prune(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	removed := 0
	for _, e := range m.entries {
		if e.Synced && e.CapturedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return removed, nil
}

func (m *MemoryQueue) Close() error { return nil }

// IDs collects entry ids in order.
func IDs(entries []models.OfflineEntry) []uint64 {
	ids := make([]uint64, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids
}

// Records collects entry records in order.
func Records(entries []models.OfflineEntry) []models.CompactRecord {
	recs := make([]models.CompactRecord, 0, len(entries))
	for _, e := range entries {
		recs = append(recs, e.Record)
	}
	return recs
}
