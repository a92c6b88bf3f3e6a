package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/fleet-tracking/internal/tracker"
)

// ReadyFunc reports whether the process' backing services are reachable.
type ReadyFunc func(ctx context.Context) error

// Server is the HTTP surface shared by the logger and dashboard processes.
// Each process registers its own API routes on top of the common ones.
type Server struct {
	logger *slog.Logger
	mux    *mux.Router
	ready  ReadyFunc
}

func newServer(logger *slog.Logger, ready ReadyFunc) *Server {
	s := &Server{logger: logger, mux: mux.NewRouter(), ready: ready}
	s.registerMiddleware()
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", "err", err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "route", routeTemplate(r), "request_id", requestIDFromContext(r.Context()), "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

var (
	errBadRequest = errors.New("bad request")
	errNotFound   = errors.New("not found")
)

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, tracker.ErrInvalidLogin),
		errors.Is(err, tracker.ErrEmptyIssue),
		errors.Is(err, tracker.ErrUnknownAction):
		return http.StatusBadRequest
	case errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, tracker.ErrNotLoggedIn), errors.Is(err, tracker.ErrAlreadyLoggedIn):
		return http.StatusConflict
	case errors.Is(err, tracker.ErrStopped), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
