// Package fleet keeps the dashboard's roster of units in step with the live
// feed and derives fleet-wide figures from it.
package fleet

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/example/fleet-tracking/internal/geo"
	"github.com/example/fleet-tracking/internal/models"
	"github.com/example/fleet-tracking/internal/observability"
	"github.com/example/fleet-tracking/internal/realtime"
)

// Renderer consumes the roster after every change. It must not keep the
// slice beyond the call.
type Renderer interface {
	Render(units []models.UnitSnapshot, stats models.FleetStats)
}

type RendererFunc func(units []models.UnitSnapshot, stats models.FleetStats)

func (f RendererFunc) Render(units []models.UnitSnapshot, stats models.FleetStats) { f(units, stats) }

// MultiRenderer fans one render out to several renderers in order.
type MultiRenderer []Renderer

func (m MultiRenderer) Render(units []models.UnitSnapshot, stats models.FleetStats) {
	for _, r := range m {
		r.Render(units, stats)
	}
}

// firstDynamicID numbers units missing from the static table.
const firstDynamicID = 100

// Engine owns the roster. Only the goroutine running Run (or a test calling
// HandleSnapshot directly) touches it; readers get published copies.
type Engine struct {
	logger   *slog.Logger
	acc      geo.Accumulator
	renderer Renderer
	now      func() time.Time

	units  map[string]*models.UnitSnapshot
	nextID int

	snapshots chan realtime.Snapshot
	seeds     chan []models.UnitSnapshot

	mu    sync.RWMutex
	view  []models.UnitSnapshot
	stats models.FleetStats
}

func NewEngine(renderer Renderer, logger *slog.Logger) *Engine {
	if renderer == nil {
		renderer = MultiRenderer(nil)
	}
	return &Engine{
		logger:    logger,
		acc:       geo.DefaultAccumulator(),
		renderer:  renderer,
		now:       time.Now,
		units:     make(map[string]*models.UnitSnapshot),
		nextID:    firstDynamicID,
		snapshots: make(chan realtime.Snapshot, 16),
		seeds:     make(chan []models.UnitSnapshot, 1),
	}
}

// Run applies submitted snapshots and seeds one at a time until ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap := <-e.snapshots:
			e.HandleSnapshot(snap)
		case units := <-e.seeds:
			e.Seed(units)
		}
	}
}

// Submit hands a snapshot to the loop; it is what a store subscription calls.
func (e *Engine) Submit(ctx context.Context, snap realtime.Snapshot) {
	select {
	case e.snapshots <- snap:
	case <-ctx.Done():
	}
}

// SubmitSeed hands simulated units to the loop.
func (e *Engine) SubmitSeed(ctx context.Context, units []models.UnitSnapshot) {
	select {
	case e.seeds <- units:
	case <-ctx.Done():
	}
}

// HandleSnapshot merges every key of snap into the roster and publishes the
// result. Malformed keys are skipped. It returns how many keys were applied.
func (e *Engine) HandleSnapshot(snap realtime.Snapshot) int {
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	applied := 0
	for _, key := range keys {
		lu, err := ParseUnit(key, snap[key])
		if err != nil {
			observability.SnapshotMalformed.Inc()
			e.logger.Warn("skipping snapshot entry", "unit", key, "err", err)
			continue
		}
		if u, ok := e.units[key]; ok && !u.Simulated {
			e.update(u, lu)
		} else {
			e.units[key] = e.create(key, lu, u)
		}
		applied++
	}
	if applied > 0 {
		observability.SnapshotsApplied.Inc()
		e.publish()
		e.logger.Debug("live snapshot applied", "units", applied)
	}
	return applied
}

// Seed loads simulated units while nothing is known yet; a live entry with
// the same name later replaces its simulated counterpart.
func (e *Engine) Seed(units []models.UnitSnapshot) bool {
	if len(e.units) > 0 || len(units) == 0 {
		return false
	}
	for _, u := range units {
		u.Simulated = true
		if u.FuelLevelPct == 0 {
			u.FuelLevelPct = FuelLevel(u.DistanceKm)
		}
		e.units[u.Name] = &u
	}
	e.publish()
	e.logger.Info("roster seeded with simulated units", "units", len(units))
	return true
}

func (e *Engine) create(key string, lu models.LiveUnit, replaced *models.UnitSnapshot) *models.UnitSnapshot {
	u := &models.UnitSnapshot{
		Name:     key,
		Afdeling: Afdeling(key),
		Year:     VehicleYear(key),
		Block:    Block(key),
		Driver:   "Unknown",
	}
	switch n, ok := UnitNumber(key); {
	case ok:
		u.ID = n
	case replaced != nil:
		u.ID = replaced.ID
	default:
		u.ID = e.nextID
		e.nextID++
	}
	if replaced != nil && replaced.Block != "" {
		u.Block = replaced.Block
	}
	journey := ""
	if lu.JourneyStatus != nil {
		journey = *lu.JourneyStatus
	}
	u.Status = StatusFromJourney(journey)
	if lu.Lat != nil {
		pos := models.Coord{Lat: *lu.Lat, Lng: *lu.Lng}
		u.Position = pos
		u.LastPosition = &pos
	} else {
		u.Position = Placeholder(key)
	}
	if lu.SessionID != nil {
		u.SessionID = *lu.SessionID
	}
	e.overwrite(u, lu)
	u.FuelLevelPct = FuelLevel(u.DistanceKm)
	return u
}

func (e *Engine) update(u *models.UnitSnapshot, lu models.LiveUnit) {
	if lu.JourneyStatus != nil {
		u.Status = StatusFromJourney(*lu.JourneyStatus)
	}
	speed := u.SpeedKmh
	if lu.Speed != nil {
		speed = *lu.Speed
	}
	prev := u.LastPosition
	if lu.SessionID != nil && *lu.SessionID != u.SessionID {
		// a new trip starts from its own first fix
		u.SessionID = *lu.SessionID
		u.SessionDistanceKm = 0
		u.SessionFuelUsedL = 0
		prev = nil
	}
	if lu.Lat != nil {
		curr := models.Coord{Lat: *lu.Lat, Lng: *lu.Lng}
		traveling := u.Status == models.StatusMoving || u.Status == models.StatusActive
		if inc := e.acc.Step(prev, curr, traveling, speed); inc > 0 {
			fuel := inc / FuelEfficiencyKmPerL
			u.DistanceKm += inc
			u.FuelUsedL += fuel
			u.SessionDistanceKm += inc
			u.SessionFuelUsedL += fuel
		}
		u.Position = curr
		u.LastPosition = &curr
	}
	e.overwrite(u, lu)
	u.FuelLevelPct = FuelLevel(u.DistanceKm)
}

// overwrite copies the non-geometric fields present in lu.
func (e *Engine) overwrite(u *models.UnitSnapshot, lu models.LiveUnit) {
	if lu.Speed != nil {
		u.SpeedKmh = *lu.Speed
	}
	if lu.Driver != nil && *lu.Driver != "" {
		u.Driver = *lu.Driver
	}
	if lu.Accuracy != nil {
		acc := *lu.Accuracy
		u.Accuracy = &acc
	}
	if lu.BatteryLevel != nil {
		bat := *lu.BatteryLevel
		u.Battery = &bat
	}
	if lu.Distance != nil {
		u.ReportedTripKm = *lu.Distance
	}
	switch {
	case lu.LastUpdate != nil:
		u.LastSeen = *lu.LastUpdate
	case u.LastSeen == "":
		u.LastSeen = e.now().Format("15:04:05")
	}
}

func (e *Engine) publish() {
	view := make([]models.UnitSnapshot, 0, len(e.units))
	for _, u := range e.units {
		view = append(view, copyUnit(*u))
	}
	sort.Slice(view, func(i, j int) bool {
		if view[i].ID != view[j].ID {
			return view[i].ID < view[j].ID
		}
		return view[i].Name < view[j].Name
	})
	stats := ComputeStats(view)

	e.mu.Lock()
	e.view = view
	e.stats = stats
	e.mu.Unlock()

	observability.UnitsTracked.Set(float64(stats.TotalUnits))
	observability.UnitsActive.Set(float64(stats.ActiveUnits))
	observability.FleetDistanceKm.Set(stats.TotalDistanceKm)
	e.renderer.Render(e.Units(), stats)
}

// Units returns a copy of the last published roster ordered by id.
func (e *Engine) Units() []models.UnitSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.UnitSnapshot, len(e.view))
	for i, u := range e.view {
		out[i] = copyUnit(u)
	}
	return out
}

func (e *Engine) Unit(name string) (models.UnitSnapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, u := range e.view {
		if u.Name == name {
			return copyUnit(u), true
		}
	}
	return models.UnitSnapshot{}, false
}

func (e *Engine) Stats() models.FleetStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

func copyUnit(u models.UnitSnapshot) models.UnitSnapshot {
	if u.Accuracy != nil {
		v := *u.Accuracy
		u.Accuracy = &v
	}
	if u.Battery != nil {
		v := *u.Battery
		u.Battery = &v
	}
	if u.LastPosition != nil {
		v := *u.LastPosition
		u.LastPosition = &v
	}
	return u
}
