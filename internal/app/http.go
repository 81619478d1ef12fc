// Package app wires the HTTP surface: the metrics API, health endpoints
// and the Prometheus scrape handler.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/devpulse/sprintmetrics/internal/orchestrator"
)

// MetricsService is the orchestrator surface the handlers call.
type MetricsService interface {
	IndividualMetrics(ctx context.Context, name, windowSpec string, team orchestrator.TeamContext) (*orchestrator.Snapshot, error)
	TeamMetrics(ctx context.Context, teamID, teamName, windowSpec string) (*orchestrator.Snapshot, error)
}

// Server builds the HTTP handler tree.
type Server struct {
	service MetricsService
	metrics *Metrics
	log     *zap.Logger
	now     func() time.Time
}

// NewServer creates the HTTP surface over the orchestrator.
func NewServer(service MetricsService, metrics *Metrics, log *zap.Logger) *Server {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		service: service,
		metrics: metrics,
		log:     log,
		now:     time.Now,
	}
}

// Handler wires all routes on a chi router.
func (s *Server) Handler(healthHandler http.Handler) http.Handler {
	router := chi.NewRouter()
	router.Get("/api/v1/metrics/individual", s.wrap("individual", s.handleIndividual))
	router.Get("/api/v1/metrics/team", s.wrap("team", s.handleTeam))
	router.Handle("/metrics", s.metrics.Handler())
	if healthHandler != nil {
		router.Handle("/livez", healthHandler)
		router.Handle("/readyz", healthHandler)
		router.Handle("/healthz", healthHandler)
	}
	return router
}

// snapshotResponse is the success envelope; status distinguishes full
// and partial snapshots.
type snapshotResponse struct {
	Status   orchestrator.Status    `json:"status"`
	Snapshot *orchestrator.Snapshot `json:"snapshot"`
}

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (s *Server) handleIndividual(w http.ResponseWriter, r *http.Request) (string, bool) {
	query := r.URL.Query()
	snapshot, err := s.service.IndividualMetrics(r.Context(),
		query.Get("name"),
		query.Get("window"),
		orchestrator.TeamContext{
			ID:   query.Get("team_id"),
			Name: query.Get("team_name"),
		},
	)
	return s.respond(w, snapshot, err)
}

func (s *Server) handleTeam(w http.ResponseWriter, r *http.Request) (string, bool) {
	query := r.URL.Query()
	snapshot, err := s.service.TeamMetrics(r.Context(),
		query.Get("team_id"),
		query.Get("team_name"),
		query.Get("window"),
	)
	return s.respond(w, snapshot, err)
}

// respond writes the envelope and reports (outcome, cacheHit) for the
// request metrics.
func (s *Server) respond(w http.ResponseWriter, snapshot *orchestrator.Snapshot, err error) (string, bool) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		w.WriteHeader(http.StatusBadRequest)
		writeJSON(w, errorResponse{Status: "error", Error: err.Error()})
		return "bad_request", false
	case err != nil:
		s.log.Error("snapshot fetch failed", zap.Error(err))
		w.WriteHeader(http.StatusBadGateway)
		writeJSON(w, errorResponse{Status: "error", Error: err.Error()})
		return "error", false
	default:
		w.WriteHeader(http.StatusOK)
		writeJSON(w, snapshotResponse{Status: snapshot.Status, Snapshot: snapshot})
		return string(snapshot.Status), snapshot.CacheHit
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) (outcome string, cacheHit bool)

// wrap adds tracing and request metrics around one API handler.
func (s *Server) wrap(endpoint string, handler handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := otel.Tracer("sprintmetrics/internal/app").Start(
			r.Context(),
			"http.server."+endpoint,
		)
		defer span.End()
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		)

		started := s.now()
		outcome, cacheHit := handler(w, r.WithContext(ctx))
		s.metrics.observe(endpoint, outcome, s.now().Sub(started), cacheHit)

		span.SetAttributes(attribute.String("outcome", outcome))
		if outcome == "error" {
			span.SetStatus(codes.Error, "snapshot fetch failed")
			return
		}
		span.SetStatus(codes.Ok, "request completed")
	}
}
