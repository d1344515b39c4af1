// Package protocol implements the five sync HTTP endpoints (spec §4.5):
// /sync/status, /sync/handshake, /sync/changes, /sync/apply, /sync/full.
// It is the wire boundary between a peer's syncclient and this device's
// store/reconciler — everything here is thin request/response plumbing;
// the decisions live in internal/reconcile and internal/store.
package protocol

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/dotancohen/notesync/internal/metrics"
	"github.com/dotancohen/notesync/internal/reconcile"
	"github.com/dotancohen/notesync/internal/store"
	"github.com/dotancohen/notesync/internal/syncerr"
)

// DefaultChangesLimit and MaxChangesLimit implement spec §4.5's
// "limit = min(client_limit ?? 1000, 10000)".
const (
	DefaultChangesLimit = 1000
	MaxChangesLimit     = 10000
)

// Server holds the dependencies shared by every sync protocol handler.
// Conflict resolution itself is not part of the wire protocol (spec §4.5
// names five endpoints, none of them conflict-scoped) — conflicts are
// resolved locally through internal/conflict; cmd/syncctl has no conflict
// command.
type Server struct {
	Store      *store.Store
	Reconciler *reconcile.Reconciler
	DeviceID   string
	DeviceName string
	Log        zerolog.Logger
}

// Routes assembles the chi router for the sync protocol surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.metricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Get("/sync/status", s.handleStatus)
	r.Post("/sync/handshake", s.handleHandshake)
	r.Get("/sync/changes", s.handleChanges)
	r.Post("/sync/apply", s.handleApply)
	r.Get("/sync/full", s.handleFull)

	return r
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		timer.ObserveDuration(metrics.RequestDuration.WithLabelValues(route))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Log.Error().Err(err).Msg("failed to encode json response")
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{Error: message})
}

// writeErrFromSync maps a syncerr.Kind to an HTTP status code: Validation
// and NotFound are client errors, everything else is a server error —
// sync/network/tls failures reaching a peer never originate inside this
// handler, they happen on the syncclient side.
func writeErrFromSync(w http.ResponseWriter, err error) {
	switch {
	case syncerr.Is(err, syncerr.KindValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case syncerr.Is(err, syncerr.KindNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func parseLimit(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func parseSince(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, syncerr.Validationf("since", "invalid RFC 3339 timestamp: %v", err)
	}
	return &t, nil
}

func formatTimestamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }
