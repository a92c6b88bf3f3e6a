package offline

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/example/fleet-tracking/internal/models"
	"github.com/example/fleet-tracking/internal/observability"
)

var bucketName = []byte("gps_data")

// BoltQueue stores entries in a local bbolt file, keyed by a big-endian
// sequence so iteration order is insertion order. Entries that no longer
// decode are logged and skipped so they cannot block the rest of the queue.
type BoltQueue struct {
	db     *bolt.DB
	now    func() time.Time
	logger *slog.Logger
}

func OpenBoltQueue(path string, logger *slog.Logger) (*BoltQueue, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrUnavailable, path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return &BoltQueue{db: db, now: time.Now, logger: logger}, nil
}

func (q *BoltQueue) Store(_ context.Context, rec models.CompactRecord) (uint64, error) {
	var id uint64
	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = seq
		v, err := json.Marshal(models.OfflineEntry{ID: id, Record: rec, CapturedAt: q.now().UTC()})
		if err != nil {
			return err
		}
		return b.Put(itob(id), v)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return id, nil
}

func (q *BoltQueue) Unsynced(_ context.Context) ([]models.OfflineEntry, error) {
	out := make([]models.OfflineEntry, 0)
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, v []byte) error {
			e, ok := q.decode(k, v)
			if ok && !e.Synced {
				out = append(out, e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return out, nil
}

func (q *BoltQueue) MarkSynced(_ context.Context, ids []uint64) error {
	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		for _, id := range ids {
			v := b.Get(itob(id))
			if v == nil {
				continue
			}
			e, ok := q.decode(itob(id), v)
			if !ok || e.Synced {
				continue
			}
			e.Synced = true
			nv, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := b.Put(itob(id), nv); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (q *BoltQueue) Prune(_ context.Context, before time.Time) (int, error) {
	removed := 0
	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			e, ok := q.decode(k, v)
			if ok && e.Synced && e.CapturedAt.Before(before) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return removed, nil
}

func (q *BoltQueue) Close() error { return q.db.Close() }

func (q *BoltQueue) decode(k, v []byte) (models.OfflineEntry, bool) {
	var e models.OfflineEntry
	if err := json.Unmarshal(v, &e); err != nil {
		observability.OfflineErrors.Inc()
		q.logger.Warn("skipping undecodable offline entry", "key", fmt.Sprintf("%x", k), "err", err)
		return e, false
	}
	return e, true
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
