package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/fleet-tracking/internal/models"
	"github.com/example/fleet-tracking/internal/sensor"
	"github.com/example/fleet-tracking/internal/tracker"
)

// Tracker is the session API the logger routes drive.
type Tracker interface {
	Login(ctx context.Context, req tracker.LoginRequest) (tracker.Session, error)
	Logout(ctx context.Context) (models.SessionSummary, error)
	Journey(ctx context.Context, action string) (models.JourneyStatus, error)
	ReportIssue(ctx context.Context, issue string) (models.IssueReport, error)
	SetVisibility(ctx context.Context, hidden bool) error
	Status(ctx context.Context) (tracker.Status, error)
}

// FixSink accepts device readings for the tracker and tells devices how
// often to sample.
type FixSink interface {
	Push(ctx context.Context, ev sensor.Event) error
	Interval() time.Duration
}

type loggerAPI struct {
	*Server
	tracker Tracker
	fixes   FixSink
}

// NewLoggerServer serves the driver-side API.
func NewLoggerServer(t Tracker, fixes FixSink, logger *slog.Logger, ready ReadyFunc) *Server {
	api := &loggerAPI{Server: newServer(logger, ready), tracker: t, fixes: fixes}
	r := api.mux.PathPrefix("/api/v1").Subrouter()
	r.HandleFunc("/session/login", api.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/session/logout", api.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/journey/{action}", api.handleJourney).Methods(http.MethodPost)
	r.HandleFunc("/fixes", api.handleFix).Methods(http.MethodPost)
	r.HandleFunc("/sensor-errors", api.handleSensorError).Methods(http.MethodPost)
	r.HandleFunc("/issues", api.handleIssue).Methods(http.MethodPost)
	r.HandleFunc("/visibility", api.handleVisibility).Methods(http.MethodPost)
	r.HandleFunc("/status", api.handleStatus).Methods(http.MethodGet)
	return api.Server
}

func (a *loggerAPI) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req tracker.LoginRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	s, err := a.tracker.Login(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (a *loggerAPI) handleLogout(w http.ResponseWriter, r *http.Request) {
	sum, err := a.tracker.Logout(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *loggerAPI) handleJourney(w http.ResponseWriter, r *http.Request) {
	st, err := a.tracker.Journey(r.Context(), mux.Vars(r)["action"])
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]models.JourneyStatus{"journeyStatus": st})
}

type fixAck struct {
	IntervalMs int64 `json:"intervalMs"`
}

func (a *loggerAPI) handleFix(w http.ResponseWriter, r *http.Request) {
	var fix models.RawFix
	if err := decodeBody(w, r, &fix); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.fixes.Push(r.Context(), sensor.Event{Fix: &fix}); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, fixAck{IntervalMs: a.fixes.Interval().Milliseconds()})
}

type sensorErrorRequest struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

func (a *loggerAPI) handleSensorError(w http.ResponseWriter, r *http.Request) {
	var req sensorErrorRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	ev := sensor.Event{Err: sensor.ParseErrorKind(req.Kind), Detail: req.Detail}
	if err := a.fixes.Push(r.Context(), ev); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type issueRequest struct {
	Issue string `json:"issue"`
}

func (a *loggerAPI) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	rep, err := a.tracker.ReportIssue(r.Context(), req.Issue)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

type visibilityRequest struct {
	Hidden bool `json:"hidden"`
}

func (a *loggerAPI) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.tracker.SetVisibility(r.Context(), req.Hidden); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *loggerAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.tracker.Status(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
