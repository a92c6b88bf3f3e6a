// Package tracker runs a driver's logging session: it turns sensor fixes into
// compact records, keeps the trip distance and drives transmission, replay
// and the periodic reports. All session state belongs to the goroutine in
// Run; every exported method posts a command to it.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/example/fleet-tracking/internal/codec"
	"github.com/example/fleet-tracking/internal/fleet"
	"github.com/example/fleet-tracking/internal/geo"
	"github.com/example/fleet-tracking/internal/models"
	"github.com/example/fleet-tracking/internal/observability"
	"github.com/example/fleet-tracking/internal/realtime"
	"github.com/example/fleet-tracking/internal/retry"
	"github.com/example/fleet-tracking/internal/sensor"
	"github.com/example/fleet-tracking/internal/transmit"
)

type Config struct {
	SendInterval        time.Duration
	ReplayInterval      time.Duration
	PerformanceInterval time.Duration
	// PerformanceEvery is how many new data points must accumulate before a
	// performance report is also written to the store.
	PerformanceEvery   uint64
	AutoStartDelay     time.Duration
	ForegroundInterval time.Duration
	BackgroundInterval time.Duration
	LowBatteryPct      int
	FlushTimeout       time.Duration
	// WriteRetry governs session, issue and performance writes.
	WriteRetry retry.Policy
}

func DefaultConfig() Config {
	return Config{
		SendInterval:        time.Second,
		ReplayInterval:      30 * time.Second,
		PerformanceInterval: 60 * time.Second,
		PerformanceEvery:    60,
		AutoStartDelay:      3 * time.Second,
		ForegroundInterval:  time.Second,
		BackgroundInterval:  5 * time.Second,
		LowBatteryPct:       20,
		FlushTimeout:        20 * time.Second,
		WriteRetry:          retry.DefaultPolicy(),
	}
}

// Deps are the collaborators a Tracker drives. Replayer may be nil.
type Deps struct {
	Store    realtime.Store
	Pipeline *transmit.Pipeline
	Replayer *transmit.Replayer
	Source   sensor.Source
	Logger   *slog.Logger
}

// Status is a point-in-time view of the session for the driver's screen.
type Status struct {
	LoggedIn      bool                     `json:"loggedIn"`
	Session       *Session                 `json:"session,omitempty"`
	Journey       models.JourneyStatus     `json:"journeyStatus"`
	Tracking      bool                     `json:"tracking"`
	Online        bool                     `json:"online"`
	LastSendOK    bool                     `json:"lastSendOk"`
	Pipeline      string                   `json:"pipeline"`
	Pending       int                      `json:"pending"`
	DistanceKm    float64                  `json:"distance"`
	DataPoints    uint64                   `json:"dataPoints"`
	AvgSpeedKmh   float64                  `json:"avgSpeed"`
	Interval      time.Duration            `json:"-"`
	IntervalMs    int64                    `json:"intervalMs"`
	BatterySaving bool                     `json:"batterySaving"`
	Battery       *int                     `json:"battery,omitempty"`
	LastPosition  *models.Coord            `json:"lastPosition,omitempty"`
	Performance   models.PerformanceReport `json:"performance"`
}

type replayResult struct {
	n   int
	err error
}

type Tracker struct {
	cfg       Config
	store     realtime.Store
	pipeline  *transmit.Pipeline
	replayer  *transmit.Replayer
	source    sensor.Source
	logger    *slog.Logger
	validate  *validator.Validate
	acc       geo.Accumulator
	now       func() time.Time
	cmds      chan func(context.Context)
	replayed  chan replayResult
	done      chan struct{}
	session   *Session
	journey   models.JourneyStatus
	tracking  bool
	trip      models.TripState
	seq       uint64
	monitor   *observability.Monitor
	autoStart *time.Timer
	online    bool
	lastSend  bool
	replaying bool
	interval  time.Duration
	saving    bool
	battery   *int
	perfMark  uint64
}

func New(cfg Config, deps Deps) *Tracker {
	t := &Tracker{
		cfg:      cfg,
		store:    deps.Store,
		pipeline: deps.Pipeline,
		replayer: deps.Replayer,
		source:   deps.Source,
		logger:   deps.Logger,
		validate: newValidator(),
		acc:      geo.DefaultAccumulator(),
		now:      time.Now,
		cmds:     make(chan func(context.Context)),
		replayed: make(chan replayResult, 1),
		done:     make(chan struct{}),
		journey:  models.JourneyReady,
		lastSend: true,
	}
	t.monitor = observability.NewMonitor(t.now)
	return t
}

// Run owns the session until ctx ends. Pending records are flushed on the
// way out.
func (t *Tracker) Run(ctx context.Context) error {
	defer close(t.done)

	sendTick := time.NewTicker(t.cfg.SendInterval)
	defer sendTick.Stop()
	replayTick := time.NewTicker(t.cfg.ReplayInterval)
	defer replayTick.Stop()
	perfTick := time.NewTicker(t.cfg.PerformanceInterval)
	defer perfTick.Stop()
	link := t.store.Connectivity(ctx)

	for {
		select {
		case <-ctx.Done():
			t.shutdown(ctx)
			return ctx.Err()
		case cmd := <-t.cmds:
			cmd(ctx)
		case ev := <-t.source.Events():
			t.handleEvent(ctx, ev)
		case <-sendTick.C:
			if t.tracking {
				t.pipeline.Begin(ctx)
			}
		case res := <-t.pipeline.Results():
			t.handleResult(res)
		case <-replayTick.C:
			if t.online {
				t.startReplay(ctx)
			}
		case rr := <-t.replayed:
			t.replaying = false
			if rr.err != nil {
				t.logger.Warn("offline replay failed", "replayed", rr.n, "err", rr.err)
			}
		case up, ok := <-link:
			if !ok {
				link = nil
				continue
			}
			t.handleConnectivity(ctx, up)
		case <-t.autoStartC():
			t.autoStart = nil
			if t.session != nil && t.journey == models.JourneyReady {
				t.startJourney()
			}
		case <-perfTick.C:
			t.reportPerformance(ctx)
		}
	}
}

func (t *Tracker) autoStartC() <-chan time.Time {
	if t.autoStart == nil {
		return nil
	}
	return t.autoStart.C
}

// do runs fn on the loop and waits for it.
func (t *Tracker) do(ctx context.Context, fn func(context.Context)) error {
	finished := make(chan struct{})
	cmd := func(loopCtx context.Context) {
		defer close(finished)
		fn(loopCtx)
	}
	select {
	case t.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-t.done:
		return ErrStopped
	}
}

func (t *Tracker) Login(ctx context.Context, req LoginRequest) (Session, error) {
	var (
		s   Session
		err error
	)
	if e := t.do(ctx, func(context.Context) { s, err = t.login(req) }); e != nil {
		return Session{}, e
	}
	return s, err
}

func (t *Tracker) Logout(ctx context.Context) (models.SessionSummary, error) {
	var (
		sum models.SessionSummary
		err error
	)
	if e := t.do(ctx, func(loopCtx context.Context) { sum, err = t.logout(loopCtx) }); e != nil {
		return models.SessionSummary{}, e
	}
	return sum, err
}

// Journey applies a journey control action: start, pause or end.
func (t *Tracker) Journey(ctx context.Context, action string) (models.JourneyStatus, error) {
	var (
		st  models.JourneyStatus
		err error
	)
	e := t.do(ctx, func(loopCtx context.Context) {
		if t.session == nil {
			err = ErrNotLoggedIn
			return
		}
		switch action {
		case "start":
			t.startJourney()
		case "pause":
			t.journey = models.JourneyPaused
			t.logger.Info("journey paused", "session", t.session.ID)
		case "end":
			t.journey = models.JourneyEnded
			t.logger.Info("journey ended", "session", t.session.ID, "distance_km", t.trip.DistanceKm)
			// final data goes out without waiting for the next tick
			t.pipeline.Begin(loopCtx)
		default:
			err = fmt.Errorf("%w %q", ErrUnknownAction, action)
		}
		st = t.journey
	})
	if e != nil {
		return "", e
	}
	return st, err
}

func (t *Tracker) ReportIssue(ctx context.Context, issue string) (models.IssueReport, error) {
	var (
		rep models.IssueReport
		err error
	)
	e := t.do(ctx, func(loopCtx context.Context) {
		if t.session == nil {
			err = ErrNotLoggedIn
			return
		}
		issue = strings.TrimSpace(issue)
		if issue == "" {
			err = ErrEmptyIssue
			return
		}
		now := t.now()
		rep = models.IssueReport{
			Type:      "issue_report",
			Driver:    t.session.Driver,
			Unit:      t.session.Unit,
			Issue:     issue,
			Timestamp: now.UTC(),
			SessionID: t.session.ID,
		}
		if t.trip.LastPosition != nil {
			p := *t.trip.LastPosition
			rep.Location = &p
		}
		t.logger.Warn("issue reported", "session", t.session.ID, "issue", issue)
		t.write(loopCtx, fmt.Sprintf("/issues/%s_%d", t.session.ID, now.UnixMilli()), rep)
	})
	if e != nil {
		return models.IssueReport{}, e
	}
	return rep, err
}

// SetVisibility switches between foreground and background sampling.
func (t *Tracker) SetVisibility(ctx context.Context, hidden bool) error {
	return t.do(ctx, func(context.Context) {
		if t.session == nil {
			return
		}
		if hidden {
			t.logger.Info("app in background, reducing GPS rate")
		} else {
			t.logger.Info("app in foreground, full tracking rate")
		}
		t.setSaving(hidden)
	})
}

func (t *Tracker) Status(ctx context.Context) (Status, error) {
	var st Status
	if e := t.do(ctx, func(context.Context) { st = t.status() }); e != nil {
		return Status{}, e
	}
	return st, nil
}

func (t *Tracker) login(req LoginRequest) (Session, error) {
	if t.session != nil {
		return Session{}, ErrAlreadyLoggedIn
	}
	req, err := normalizeLogin(t.validate, req)
	if err != nil {
		return Session{}, err
	}
	now := t.now()
	s := Session{
		ID:        newSessionID(now),
		Driver:    req.Driver,
		Unit:      req.Unit,
		Year:      fleet.VehicleYear(req.Unit),
		StartedAt: now.UTC(),
	}
	t.session = &s
	t.journey = models.JourneyReady
	t.trip = models.TripState{SessionID: s.ID}
	t.seq = 0
	t.perfMark = 0
	t.monitor = observability.NewMonitor(t.now)
	t.tracking = true
	t.saving = false
	t.setInterval(t.cfg.ForegroundInterval)
	t.autoStart = time.NewTimer(t.cfg.AutoStartDelay)
	t.logger.Info("driver logged in", "session", s.ID, "driver", s.Driver, "unit", s.Unit)
	return s, nil
}

func (t *Tracker) startJourney() {
	t.journey = models.JourneyStarted
	t.logger.Info("journey started", "session", t.session.ID)
}

func (t *Tracker) logout(ctx context.Context) (models.SessionSummary, error) {
	if t.session == nil {
		return models.SessionSummary{}, ErrNotLoggedIn
	}
	fctx, cancel := context.WithTimeout(ctx, t.cfg.FlushTimeout)
	if err := t.pipeline.Flush(fctx); err != nil {
		t.logger.Warn("final flush failed", "session", t.session.ID, "err", err)
	}
	cancel()
	t.stopTracking()

	now := t.now()
	s := *t.session
	sum := models.SessionSummary{
		SessionID:       s.ID,
		Driver:          s.Driver,
		Unit:            s.Unit,
		StartTime:       s.StartedAt,
		EndTime:         now.UTC(),
		DurationSeconds: int64(now.Sub(s.StartedAt).Seconds()),
		TotalDistanceKm: t.trip.DistanceKm,
		DataPoints:      t.trip.SampleCount,
		AvgSpeedKmh:     t.avgSpeed(),
		JourneyStatus:   t.journey,
		Performance:     t.monitor.Report(),
	}
	t.write(ctx, "/sessions/"+s.ID, sum)

	t.session = nil
	t.journey = models.JourneyReady
	t.trip = models.TripState{}
	t.seq = 0
	t.battery = nil
	t.monitor = observability.NewMonitor(t.now)
	t.pipeline.Reset()
	t.logger.Info("driver logged out", "session", s.ID, "distance_km", sum.TotalDistanceKm, "data_points", sum.DataPoints)
	return sum, nil
}

func (t *Tracker) stopTracking() {
	t.tracking = false
	if t.autoStart != nil {
		t.autoStart.Stop()
		t.autoStart = nil
	}
}

func (t *Tracker) handleEvent(ctx context.Context, ev sensor.Event) {
	if ev.Fix == nil {
		sensor.LogError(ctx, t.logger, ev.Err, ev.Detail)
		return
	}
	if !t.tracking {
		t.logger.Debug("fix ignored, not tracking")
		return
	}
	t.handleFix(*ev.Fix)
}

func (t *Tracker) handleFix(fix models.RawFix) {
	if err := geo.Validate(fix); err != nil {
		observability.SamplesRejected.Inc()
		t.logger.Warn("invalid GPS data ignored", "err", err)
		return
	}
	observability.SamplesAccepted.Inc()
	if fix.Timestamp.IsZero() {
		fix.Timestamp = t.now()
	}
	sample := geo.Sample(fix, t.journey)
	t.monitor.RecordFix(sample.AccuracyM)

	if fix.Battery != nil {
		b := *fix.Battery
		t.battery = &b
		if b < t.cfg.LowBatteryPct && !t.saving {
			t.logger.Warn("battery low, enabling power saving", "battery", b)
			t.setSaving(true)
		}
	}

	pos := sample.Position()
	t.trip.DistanceKm += t.acc.Step(t.trip.LastPosition, pos, t.journey == models.JourneyStarted, sample.SpeedKmh)

	rec := codec.Encode(sample, codec.Context{
		SessionID:  t.session.ID,
		Driver:     t.session.Driver,
		Unit:       t.session.Unit,
		DistanceKm: t.trip.DistanceKm,
		Battery:    t.battery,
		Seq:        t.seq,
	})
	t.seq++
	t.pipeline.Enqueue(rec)
	t.trip.SampleCount++
	t.trip.LastPosition = &pos

	if t.trip.SampleCount%10 == 0 {
		t.logger.Info("position updated", "data_points", t.trip.SampleCount, "speed_kmh", sample.SpeedKmh)
	}
}

func (t *Tracker) handleResult(res transmit.Result) {
	if !t.pipeline.Commit(res) {
		return
	}
	t.monitor.RecordTransmission(res.Err == nil)
	t.lastSend = res.Err == nil
	if res.Err != nil {
		t.logger.Warn("send failed, batch saved offline", "records", res.Sent, "offline", res.Offline, "err", res.Err)
		return
	}
	t.logger.Debug("data sent", "records", res.Sent)
}

func (t *Tracker) handleConnectivity(ctx context.Context, up bool) {
	if up == t.online {
		return
	}
	t.online = up
	if !up {
		t.logger.Warn("connection lost, using offline storage")
		return
	}
	t.logger.Info("connection available, syncing offline data")
	t.startReplay(ctx)
}

func (t *Tracker) startReplay(ctx context.Context) {
	if t.replayer == nil || t.replaying {
		return
	}
	t.replaying = true
	go func() {
		n, err := t.replayer.Replay(ctx)
		select {
		case t.replayed <- replayResult{n: n, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (t *Tracker) reportPerformance(ctx context.Context) {
	if t.session == nil {
		return
	}
	report := t.monitor.Report()
	t.logger.Info("performance report",
		"gps_updates", report.GPSUpdates,
		"transmissions", report.DataTransmissions,
		"errors", report.Errors,
		"success_rate", report.TransmissionSuccessRate,
		"points_per_minute", report.DataPointsPerMinute)
	if t.trip.SampleCount-t.perfMark < t.cfg.PerformanceEvery {
		return
	}
	t.perfMark = t.trip.SampleCount
	t.write(ctx, fmt.Sprintf("/performance/%s_%d", t.session.ID, t.now().UnixMilli()), report)
}

// write stores value at path in the background with the write retry policy.
func (t *Tracker) write(ctx context.Context, path string, value any) {
	go func() {
		err := retry.Do(ctx, t.cfg.WriteRetry, func(ctx context.Context) error {
			return t.store.Update(ctx, map[string]any{path: value})
		})
		if err != nil {
			t.logger.Warn("store write failed", "path", path, "err", err)
		}
	}()
}

func (t *Tracker) setSaving(on bool) {
	if !t.tracking {
		return
	}
	t.saving = on
	if on {
		t.setInterval(t.cfg.BackgroundInterval)
	} else {
		t.setInterval(t.cfg.ForegroundInterval)
	}
}

func (t *Tracker) setInterval(d time.Duration) {
	t.interval = d
	t.source.SetInterval(d)
}

// avgSpeed is trip distance over session time, not a mean of samples.
func (t *Tracker) avgSpeed() float64 {
	if t.session == nil || t.trip.SampleCount == 0 {
		return 0
	}
	hours := t.now().Sub(t.session.StartedAt).Hours()
	if hours <= 0 {
		return 0
	}
	return t.trip.DistanceKm / hours
}

func (t *Tracker) status() Status {
	st := Status{
		LoggedIn:      t.session != nil,
		Journey:       t.journey,
		Tracking:      t.tracking,
		Online:        t.online,
		LastSendOK:    t.lastSend,
		Pipeline:      t.pipeline.State().String(),
		Pending:       t.pipeline.Pending(),
		DistanceKm:    t.trip.DistanceKm,
		DataPoints:    t.trip.SampleCount,
		AvgSpeedKmh:   t.avgSpeed(),
		Interval:      t.interval,
		IntervalMs:    t.interval.Milliseconds(),
		BatterySaving: t.saving,
		Performance:   t.monitor.Report(),
	}
	if t.session != nil {
		s := *t.session
		st.Session = &s
	}
	if t.battery != nil {
		b := *t.battery
		st.Battery = &b
	}
	if t.trip.LastPosition != nil {
		p := *t.trip.LastPosition
		st.LastPosition = &p
	}
	return st
}

func (t *Tracker) shutdown(ctx context.Context) {
	t.stopTracking()
	if t.session == nil || t.pipeline.Pending() == 0 && !t.pipeline.Sending() {
		return
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.cfg.FlushTimeout)
	defer cancel()
	if err := t.pipeline.Flush(fctx); err != nil {
		t.logger.Warn("flush on shutdown failed", "err", err)
	}
}
