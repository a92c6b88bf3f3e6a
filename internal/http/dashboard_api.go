package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/fleet-tracking/internal/dispatch"
	"github.com/example/fleet-tracking/internal/fleet"
	"github.com/example/fleet-tracking/internal/geo"
	"github.com/example/fleet-tracking/internal/models"
)

// Fleet is the read side of the reconciliation engine.
type Fleet interface {
	Units() []models.UnitSnapshot
	Unit(name string) (models.UnitSnapshot, bool)
	Stats() models.FleetStats
}

type dashboardAPI struct {
	*Server
	fleet Fleet
	geo   geo.Geo
	hub   *dispatch.Hub
}

const defaultNearbyLimit = 10

var upgrader = websocket.Upgrader{
	// the dashboard page may be served from another origin
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewDashboardServer serves the fleet view. index answers nearby queries and
// hub streams roster changes.
func NewDashboardServer(f Fleet, index geo.Geo, hub *dispatch.Hub, logger *slog.Logger, ready ReadyFunc) *Server {
	api := &dashboardAPI{Server: newServer(logger, ready), fleet: f, geo: index, hub: hub}
	r := api.mux.PathPrefix("/api/v1").Subrouter()
	r.HandleFunc("/units", api.handleUnits).Methods(http.MethodGet)
	r.HandleFunc("/units/{name}", api.handleUnit).Methods(http.MethodGet)
	r.HandleFunc("/stats", api.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/nearby", api.handleNearby).Methods(http.MethodGet)
	r.HandleFunc("/landmarks", api.handleLandmarks).Methods(http.MethodGet)
	api.mux.HandleFunc("/ws", api.handleWS)
	return api.Server
}

type unitsResponse struct {
	Units []models.UnitSnapshot `json:"units"`
	Stats models.FleetStats     `json:"stats"`
}

// Fuel bands for the fuel filter, in percent of tank.
const (
	lowFuelBelow  = 30.0
	highFuelAbove = 70.0
)

// unitFilter narrows the roster listing. Zero fields match everything.
type unitFilter struct {
	search   string
	afdeling string
	status   models.UnitStatus
	fuel     string
}

func parseUnitFilter(q url.Values) (unitFilter, error) {
	f := unitFilter{
		search:   strings.ToLower(strings.TrimSpace(q.Get("q"))),
		afdeling: strings.TrimSpace(q.Get("afdeling")),
		status:   models.UnitStatus(strings.ToLower(q.Get("status"))),
		fuel:     strings.ToLower(q.Get("fuel")),
	}
	switch f.status {
	case "", models.StatusMoving, models.StatusActive, models.StatusInactive:
	default:
		return f, fmt.Errorf("%w: unknown status %q", errBadRequest, f.status)
	}
	switch f.fuel {
	case "", "low", "medium", "high":
	default:
		return f, fmt.Errorf("%w: fuel must be low, medium or high", errBadRequest)
	}
	return f, nil
}

func (f unitFilter) match(u models.UnitSnapshot) bool {
	if f.search != "" && !strings.Contains(strings.ToLower(u.Name), f.search) && !strings.Contains(strings.ToLower(u.Driver), f.search) {
		return false
	}
	if f.afdeling != "" && !strings.EqualFold(u.Afdeling, f.afdeling) {
		return false
	}
	if f.status != "" && u.Status != f.status {
		return false
	}
	switch f.fuel {
	case "low":
		return u.FuelLevelPct < lowFuelBelow
	case "medium":
		return u.FuelLevelPct >= lowFuelBelow && u.FuelLevelPct < highFuelAbove
	case "high":
		return u.FuelLevelPct >= highFuelAbove
	}
	return true
}

// handleUnits lists the roster, optionally filtered by q (name or driver),
// afdeling, status and fuel band. Stats always cover the whole fleet.
func (a *dashboardAPI) handleUnits(w http.ResponseWriter, r *http.Request) {
	f, err := parseUnitFilter(r.URL.Query())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	units := make([]models.UnitSnapshot, 0)
	for _, u := range a.fleet.Units() {
		if f.match(u) {
			units = append(units, u)
		}
	}
	writeJSON(w, http.StatusOK, unitsResponse{Units: units, Stats: a.fleet.Stats()})
}

func (a *dashboardAPI) handleUnit(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	u, ok := a.fleet.Unit(name)
	if !ok {
		a.writeError(w, r, fmt.Errorf("%w: unit %s", errNotFound, name))
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *dashboardAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.fleet.Stats())
}

func (a *dashboardAPI) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		a.writeError(w, r, fmt.Errorf("%w: lat: %w", errBadRequest, err))
		return
	}
	lng, err := strconv.ParseFloat(q.Get("lng"), 64)
	if err != nil {
		a.writeError(w, r, fmt.Errorf("%w: lng: %w", errBadRequest, err))
		return
	}
	radius := 0.0
	if v := q.Get("radius_km"); v != "" {
		if radius, err = strconv.ParseFloat(v, 64); err != nil {
			a.writeError(w, r, fmt.Errorf("%w: radius_km: %w", errBadRequest, err))
			return
		}
	}
	limit := defaultNearbyLimit
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			a.writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", errBadRequest))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"units": a.geo.Nearby(lat, lng, radius, limit)})
}

func (a *dashboardAPI) handleLandmarks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"landmarks": fleet.Landmarks, "centre": fleet.PlaceholderCentre})
}

func (a *dashboardAPI) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		a.logger.Warn("ws upgrade failed", "err", err)
		return
	}
	a.hub.Serve(conn)
}
