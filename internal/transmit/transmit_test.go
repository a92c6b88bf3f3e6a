package transmit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/fleet-tracking/internal/models"
	"github.com/example/fleet-tracking/internal/offline"
	"github.com/example/fleet-tracking/internal/realtime"
	"github.com/example/fleet-tracking/internal/retry"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeSender fails the first failN calls; gate, when set, blocks each Send
// until it is read from.
type fakeSender struct {
	mu        sync.Mutex
	failN     int
	calls     int
	sent      [][]models.CompactRecord
	backfills [][]models.CompactRecord
	gate      chan struct{}
}

func (f *fakeSender) Send(_ context.Context, batch []models.CompactRecord) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failN {
		return ErrTransientSend
	}
	f.sent = append(f.sent, batch)
	return nil
}

func (f *fakeSender) Backfill(_ context.Context, batch []models.CompactRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failN {
		return ErrTransientSend
	}
	f.backfills = append(f.backfills, batch)
	return nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func record(unit string, ts int64) models.CompactRecord {
	return models.CompactRecord{Unit: unit, Driver: "Bud", TS: ts, Lat: -430000, Lng: 102960000, Speed: 10, Status: "s", Seq: uint64(ts)}
}

func awaitResult(t *testing.T, p *Pipeline) Result {
	t.Helper()
	select {
	case res := <-p.Results():
		return res
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for send result")
		return Result{}
	}
}

func TestPipelineRetryExhaustionGoesOffline(t *testing.T) {
	sender := &fakeSender{failN: 1 << 30}
	queue := offline.NewMemoryQueue()
	sleeper := &sleepRecorder{}
	policy := retry.DefaultPolicy()
	policy.Sleep = sleeper.sleep
	p := NewPipeline(sender, queue, policy, quietLogger())

	for i := int64(1); i <= 3; i++ {
		p.Enqueue(record("DT-06", i))
	}
	ctx := context.Background()
	if !p.Begin(ctx) {
		t.Fatalf("expected a send cycle to start")
	}
	if p.State() != StateSending {
		t.Fatalf("expected sending state, got %s", p.State())
	}
	res := awaitResult(t, p)
	if !p.Commit(res) {
		t.Fatalf("expected result to apply")
	}

	if sender.calls != 4 {
		t.Fatalf("expected first attempt plus 3 retries, got %d calls", sender.calls)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(sleeper.delays) != len(want) {
		t.Fatalf("expected delays %v, got %v", want, sleeper.delays)
	}
	for i := range want {
		if sleeper.delays[i] != want[i] {
			t.Fatalf("expected delays %v, got %v", want, sleeper.delays)
		}
	}
	if !errors.Is(res.Err, retry.ErrExhausted) || !res.Offline {
		t.Fatalf("expected exhausted result stored offline, got %+v", res)
	}
	if p.Pending() != 0 || p.State() != StateFailed {
		t.Fatalf("expected pending cleared and failed state, got %d %s", p.Pending(), p.State())
	}
	entries, _ := queue.Unsynced(ctx)
	if len(entries) != 3 || entries[0].Record.TS != 1 || entries[2].Record.TS != 3 {
		t.Fatalf("expected the whole batch offline in order, got %+v", entries)
	}
}

func TestPipelineSuccessKeepsLateSamples(t *testing.T) {
	sender := &fakeSender{gate: make(chan struct{})}
	p := NewPipeline(sender, offline.NewMemoryQueue(), retry.DefaultPolicy(), quietLogger())
	ctx := context.Background()

	p.Enqueue(record("DT-06", 1))
	p.Enqueue(record("DT-06", 2))
	p.Begin(ctx)
	if p.Begin(ctx) {
		t.Fatalf("expected only one cycle at a time")
	}
	p.Enqueue(record("DT-06", 3))
	sender.gate <- struct{}{}

	res := awaitResult(t, p)
	p.Commit(res)
	if res.Err != nil || res.Sent != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if p.Pending() != 1 || p.State() != StateCommitted {
		t.Fatalf("expected the late sample to stay pending, got %d %s", p.Pending(), p.State())
	}
	if len(sender.sent) != 1 || len(sender.sent[0]) != 2 || sender.sent[0][1].TS != 2 {
		t.Fatalf("expected capture order batch, got %+v", sender.sent)
	}
}

func TestPipelineIgnoresResultAfterReset(t *testing.T) {
	sender := &fakeSender{gate: make(chan struct{})}
	p := NewPipeline(sender, offline.NewMemoryQueue(), retry.DefaultPolicy(), quietLogger())
	ctx := context.Background()

	p.Enqueue(record("DT-06", 1))
	p.Begin(ctx)
	p.Reset()
	p.Enqueue(record("DT-07", 5))
	sender.gate <- struct{}{}

	res := awaitResult(t, p)
	if p.Commit(res) {
		t.Fatalf("expected stale result to be ignored")
	}
	if p.Pending() != 1 || p.State() != StateIdle {
		t.Fatalf("expected new session state untouched, got %d %s", p.Pending(), p.State())
	}
}

func TestPipelineFlush(t *testing.T) {
	sender := &fakeSender{}
	p := NewPipeline(sender, offline.NewMemoryQueue(), retry.DefaultPolicy(), quietLogger())
	ctx := context.Background()
	if err := p.Flush(ctx); err != nil {
		t.Fatalf("flush with nothing pending: %v", err)
	}
	p.Enqueue(record("DT-06", 1))
	p.Enqueue(record("DT-06", 2))
	if err := p.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if p.Pending() != 0 || len(sender.sent) != 1 {
		t.Fatalf("expected one synchronous send, got pending=%d sent=%d", p.Pending(), len(sender.sent))
	}
}

type brokenQueue struct{ offline.MemoryQueue }

func (b *brokenQueue) Store(context.Context, models.CompactRecord) (uint64, error) {
	return 0, offline.ErrUnavailable
}

func TestPipelineSurvivesOfflineFailure(t *testing.T) {
	sleeper := &sleepRecorder{}
	policy := retry.Policy{MaxRetries: 1, BaseDelay: time.Millisecond, Sleep: sleeper.sleep}
	p := NewPipeline(&fakeSender{failN: 10}, &brokenQueue{}, policy, quietLogger())
	p.Enqueue(record("DT-06", 1))
	p.Begin(context.Background())
	res := awaitResult(t, p)
	p.Commit(res)
	if res.Offline {
		t.Fatalf("expected offline write to fail")
	}
	if p.Pending() != 0 {
		t.Fatalf("expected the batch to be dropped as a last resort")
	}
}

func TestReplayerBackfillsInChunks(t *testing.T) {
	ctx := context.Background()
	queue := offline.NewMemoryQueue()
	for i := int64(1); i <= 5; i++ {
		if _, err := queue.Store(ctx, record("DT-06", i)); err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	sender := &fakeSender{}
	r := NewReplayer(sender, queue, retry.DefaultPolicy(), quietLogger())
	r.MaxBatch = 2
	r.Retention = time.Nanosecond
	r.now = func() time.Time { return time.Now().Add(time.Hour) }

	n, err := r.Replay(ctx)
	if err != nil || n != 5 {
		t.Fatalf("expected 5 replayed, got %d err=%v", n, err)
	}
	if len(sender.backfills) != 3 || len(sender.sent) != 0 {
		t.Fatalf("expected 3 backfill chunks and no live sends, got %d/%d", len(sender.backfills), len(sender.sent))
	}
	if left, _ := queue.Unsynced(ctx); len(left) != 0 {
		t.Fatalf("expected everything synced, %d left", len(left))
	}
	// nothing unsynced and nothing left to prune means the queue is empty
	if n, err := queue.Prune(ctx, time.Now().Add(24*time.Hour)); n != 0 || err != nil {
		t.Fatalf("expected synced entries pruned already, %d left err=%v", n, err)
	}
	// a second replay has nothing to do
	if n, err := r.Replay(ctx); n != 0 || err != nil {
		t.Fatalf("expected empty replay, got %d err=%v", n, err)
	}
}

func TestReplayerLeavesEntriesOnFailure(t *testing.T) {
	ctx := context.Background()
	queue := offline.NewMemoryQueue()
	_, _ = queue.Store(ctx, record("DT-06", 1))
	sleeper := &sleepRecorder{}
	policy := retry.Policy{MaxRetries: 2, BaseDelay: time.Second, Sleep: sleeper.sleep}
	r := NewReplayer(&fakeSender{failN: 100}, queue, policy, quietLogger())
	if _, err := r.Replay(ctx); !errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("expected exhausted replay, got %v", err)
	}
	if left, _ := queue.Unsynced(ctx); len(left) != 1 {
		t.Fatalf("expected entry to stay unsynced")
	}
}

func TestStoreSenderWritesArchiveAndLiveUnit(t *testing.T) {
	store := realtime.NewMemory()
	s := NewStoreSender(store)
	ctx := context.Background()

	if err := s.Send(ctx, []models.CompactRecord{record("DT-06", 1), record("DT-06", 2)}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, ok := store.Get("/gps_data/DT-06_1_1"); !ok {
		t.Fatalf("expected archived record")
	}
	raw, ok := store.Get("/units/DT-06")
	if !ok {
		t.Fatalf("expected live unit entry")
	}
	var lu models.LiveUnit
	if err := json.Unmarshal(raw, &lu); err != nil || lu.Timestamp == nil {
		t.Fatalf("unexpected live unit %s err=%v", raw, err)
	}
	if *lu.Timestamp != time.UnixMilli(2).UTC().Format(time.RFC3339Nano) {
		t.Fatalf("expected newest fix to win, got %s", *lu.Timestamp)
	}

	old := record("DT-06", 0)
	if err := s.Backfill(ctx, []models.CompactRecord{old}); err != nil {
		t.Fatalf("backfill: %v", err)
	}
	raw2, _ := store.Get("/units/DT-06")
	if string(raw2) != string(raw) {
		t.Fatalf("backfill must not touch the live entry")
	}

	store.SetOnline(false)
	if err := s.Send(ctx, []models.CompactRecord{record("DT-06", 3)}); !errors.Is(err, ErrTransientSend) {
		t.Fatalf("expected transient failure, got %v", err)
	}
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaSenderMessages(t *testing.T) {
	w := &fakeWriter{}
	k := &KafkaSender{writer: w}
	ctx := context.Background()
	if err := k.Send(ctx, []models.CompactRecord{record("DT-06", 1)}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := k.Backfill(ctx, []models.CompactRecord{record("DT-07", 2)}); err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if len(w.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "DT-06" || MessageKind(w.msgs[0]) != KindLive {
		t.Fatalf("unexpected live message %+v", w.msgs[0])
	}
	if MessageKind(w.msgs[1]) != KindBackfill {
		t.Fatalf("expected backfill kind")
	}
	var r models.CompactRecord
	if err := json.Unmarshal(w.msgs[1].Value, &r); err != nil || r.Unit != "DT-07" || r.TS != 2 {
		t.Fatalf("unexpected payload %s", w.msgs[1].Value)
	}
	if MessageKind(kafka.Message{}) != KindLive {
		t.Fatalf("expected messages without a kind to be live")
	}

	w.err = errors.New("broker down")
	if err := k.Send(ctx, []models.CompactRecord{record("DT-06", 3)}); !errors.Is(err, ErrTransientSend) {
		t.Fatalf("expected transient failure, got %v", err)
	}
}
