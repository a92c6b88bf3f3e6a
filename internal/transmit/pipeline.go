package transmit

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/fleet-tracking/internal/models"
	"github.com/example/fleet-tracking/internal/observability"
	"github.com/example/fleet-tracking/internal/offline"
	"github.com/example/fleet-tracking/internal/retry"
)

type State int

const (
	StateIdle State = iota
	StateSending
	StateCommitted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSending:
		return "sending"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Result is the outcome of one send cycle.
type Result struct {
	Generation uint64
	Sent       int
	Err        error
	// Offline is set when a failed batch reached the offline queue.
	Offline bool
}

// Pipeline batches pending records and sends them one cycle at a time.
// It is not safe for concurrent use: the owner calls Enqueue, Begin and
// Commit from one goroutine and reads Results from that same goroutine.
type Pipeline struct {
	sender  Sender
	queue   offline.Queue
	policy  retry.Policy
	logger  *slog.Logger
	pending []models.CompactRecord
	state   State
	sending bool
	gen     uint64
	results chan Result
}

func NewPipeline(sender Sender, queue offline.Queue, policy retry.Policy, logger *slog.Logger) *Pipeline {
	return &Pipeline{sender: sender, queue: queue, policy: policy, logger: logger, results: make(chan Result, 4)}
}

func (p *Pipeline) Enqueue(r models.CompactRecord) {
	p.pending = append(p.pending, r)
	observability.PendingSamples.Set(float64(len(p.pending)))
}

func (p *Pipeline) Results() <-chan Result { return p.results }

func (p *Pipeline) State() State { return p.state }

func (p *Pipeline) Pending() int { return len(p.pending) }

func (p *Pipeline) Sending() bool { return p.sending }

// Begin starts a send cycle in the background if none is running and there
// is something to send. The outcome arrives on Results.
func (p *Pipeline) Begin(ctx context.Context) bool {
	if p.sending || len(p.pending) == 0 {
		return false
	}
	batch := append([]models.CompactRecord(nil), p.pending...)
	p.sending = true
	p.state = StateSending
	gen := p.gen
	go func() {
		res := p.cycle(ctx, gen, batch)
		// a result must still reach a Flush that runs after ctx is cancelled
		select {
		case p.results <- res:
		default:
			select {
			case p.results <- res:
			case <-ctx.Done():
			}
		}
	}()
	return true
}

func (p *Pipeline) cycle(ctx context.Context, gen uint64, batch []models.CompactRecord) Result {
	start := time.Now()
	policy := p.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		observability.SendRetries.Inc()
		p.logger.Warn("send failed, retrying", "attempt", attempt, "delay", delay, "batch", len(batch), "err", err)
	}
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		return p.sender.Send(ctx, batch)
	})
	observability.SendLatency.Observe(time.Since(start).Seconds())
	res := Result{Generation: gen, Sent: len(batch), Err: err}
	if err == nil {
		observability.SendsTotal.WithLabelValues("ok").Inc()
		return res
	}
	observability.SendsTotal.WithLabelValues("failed").Inc()
	// a cycle cut short by shutdown still keeps its batch
	res.Offline = p.storeOffline(context.WithoutCancel(ctx), batch)
	return res
}

func (p *Pipeline) storeOffline(ctx context.Context, batch []models.CompactRecord) bool {
	for i, r := range batch {
		if _, err := p.queue.Store(ctx, r); err != nil {
			observability.OfflineErrors.Inc()
			p.logger.Warn("offline storage unavailable", "dropped", len(batch)-i, "err", err)
			return false
		}
		observability.OfflineStored.Inc()
	}
	p.logger.Info("batch saved offline", "records", len(batch))
	return true
}

// Commit applies a result from Results. Results from before the last Reset
// are ignored and reported as not applied.
func (p *Pipeline) Commit(res Result) bool {
	if res.Generation != p.gen {
		return false
	}
	p.sending = false
	if res.Sent > len(p.pending) {
		res.Sent = len(p.pending)
	}
	// on failure the batch is already offline (or dropped), so both outcomes
	// remove the sent prefix; samples added during the send stay pending
	p.pending = append(p.pending[:0:0], p.pending[res.Sent:]...)
	observability.PendingSamples.Set(float64(len(p.pending)))
	if res.Err != nil {
		p.state = StateFailed
	} else {
		p.state = StateCommitted
	}
	return true
}

// Flush waits for any running cycle, then sends whatever is still pending
// and waits for that too.
func (p *Pipeline) Flush(ctx context.Context) error {
	if p.sending {
		if _, err := p.await(ctx); err != nil {
			return err
		}
	}
	if !p.Begin(ctx) {
		return nil
	}
	res, err := p.await(ctx)
	if err != nil {
		return err
	}
	return res.Err
}

func (p *Pipeline) await(ctx context.Context) (Result, error) {
	for {
		select {
		case res := <-p.results:
			if p.Commit(res) {
				return res, nil
			}
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
}

// Reset drops pending records and orphans any running cycle.
func (p *Pipeline) Reset() {
	p.gen++
	p.pending = nil
	p.sending = false
	p.state = StateIdle
	observability.PendingSamples.Set(0)
}
