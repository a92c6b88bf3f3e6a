package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/fleet-tracking/internal/models"
)

const schema = `CREATE TABLE IF NOT EXISTS offline_gps (
	id BIGSERIAL PRIMARY KEY,
	record JSONB NOT NULL,
	synced BOOLEAN NOT NULL DEFAULT FALSE,
	captured_at TIMESTAMPTZ NOT NULL
)`

// PostgresQueue keeps entries in a Postgres table; used when the logger runs
// on a host that already has a database next to it.
type PostgresQueue struct {
	db  *sql.DB
	now func() time.Time
}

func OpenPostgresQueue(ctx context.Context, dsn string) (*PostgresQueue, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	// quick ping
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	q := NewPostgresQueue(db)
	if err := q.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return q, nil
}

func NewPostgresQueue(db *sql.DB) *PostgresQueue {
	return &PostgresQueue{db: db, now: time.Now}
}

func (p *PostgresQueue) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (p *PostgresQueue) Store(ctx context.Context, rec models.CompactRecord) (uint64, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return 0, err
	}
	var id int64
	err = p.db.QueryRowContext(ctx,
		`INSERT INTO offline_gps(record, synced, captured_at) VALUES($1, FALSE, $2) RETURNING id`,
		b, p.now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return uint64(id), nil
}

func (p *PostgresQueue) Unsynced(ctx context.Context) ([]models.OfflineEntry, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, record, captured_at FROM offline_gps WHERE synced = FALSE ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer rows.Close()
	out := make([]models.OfflineEntry, 0)
	for rows.Next() {
		var (
			id  int64
			raw []byte
			e   models.OfflineEntry
		)
		if err := rows.Scan(&id, &raw, &e.CapturedAt); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		if err := json.Unmarshal(raw, &e.Record); err != nil {
			return nil, fmt.Errorf("offline entry %d: %w", id, err)
		}
		e.ID = uint64(id)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return out, nil
}

func (p *PostgresQueue) MarkSynced(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	arg := make([]int64, len(ids))
	for i, id := range ids {
		arg[i] = int64(id)
	}
	_, err := p.db.ExecContext(ctx, `UPDATE offline_gps SET synced = TRUE WHERE id = ANY($1)`, pq.Array(arg))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (p *PostgresQueue) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM offline_gps WHERE synced = TRUE AND captured_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (p *PostgresQueue) Close() error { return p.db.Close() }
