package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "rt:"
	channelPrefix = "rt:changed:"
)

// Redis keeps every parent path in one hash and announces writes on a
// pub/sub channel per path. Subscribers re-read the hash on each announcement.
type Redis struct {
	client       redis.UniversalClient
	logger       *slog.Logger
	PingInterval time.Duration
}

func NewRedis(client redis.UniversalClient, logger *slog.Logger) *Redis {
	return &Redis{client: client, logger: logger, PingInterval: 5 * time.Second}
}

func (r *Redis) Update(ctx context.Context, writes map[string]any) error {
	grouped, err := encode(writes)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for parent, children := range grouped {
			fields := make(map[string]interface{}, len(children))
			for k, v := range children {
				fields[k] = v
			}
			pipe.HSet(ctx, keyPrefix+parent, fields)
			pipe.Publish(ctx, channelPrefix+parent, "")
		}
		return nil
	})
	return err
}

func (r *Redis) Once(ctx context.Context, path string) (Snapshot, error) {
	m, err := r.client.HGetAll(ctx, keyPrefix+normalize(path)).Result()
	if err != nil {
		return nil, err
	}
	out := make(Snapshot, len(m))
	for k, v := range m {
		out[k] = json.RawMessage(v)
	}
	return out, nil
}

func (r *Redis) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (func(), error) {
	p := normalize(path)
	ctx, cancel := context.WithCancel(ctx)
	ps := r.client.Subscribe(ctx, channelPrefix+p)
	// wait for the subscription so no write between here and the first read is missed
	if _, err := ps.Receive(ctx); err != nil {
		cancel()
		_ = ps.Close()
		return nil, err
	}
	snap, err := r.Once(ctx, p)
	if err != nil {
		cancel()
		_ = ps.Close()
		return nil, err
	}
	fn(snap)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				snap, err := r.Once(ctx, p)
				if err != nil {
					r.logger.Warn("subscription read failed", "path", p, "err", err)
					continue
				}
				fn(snap)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			_ = ps.Close()
			wg.Wait()
		})
	}, nil
}

// Connectivity pings the server every PingInterval and reports transitions.
func (r *Redis) Connectivity(ctx context.Context) <-chan bool {
	ch := make(chan bool, 1)
	go func() {
		interval := r.PingInterval
		if interval <= 0 {
			interval = 5 * time.Second
		}
		t := time.NewTicker(interval)
		defer t.Stop()
		last := r.ping(ctx)
		publishLatest(ch, last)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if up := r.ping(ctx); up != last {
					last = up
					publishLatest(ch, up)
				}
			}
		}
	}()
	return ch
}

func (r *Redis) ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.client.Ping(ctx).Err() == nil
}
