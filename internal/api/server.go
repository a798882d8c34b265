package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"triage/internal/logging"
	"triage/internal/orchestrator"
	"triage/internal/results"
	"triage/internal/runstore"
	"triage/internal/services"
)

// Runs is the orchestrator surface the API exposes.
type Runs interface {
	StartRun(ctx context.Context, cycle int) (*runstore.Run, error)
	Retry(ctx context.Context, cycle int) (*runstore.Run, error)
	GetStatus(ctx context.Context, runID string) (*runstore.Run, error)
	ListRuns(ctx context.Context, cycle, limit int) ([]*runstore.Run, error)
	Status(ctx context.Context) orchestrator.StatusSummary
}

// DatabaseChecker reports run store health.
type DatabaseChecker interface {
	CheckHealth(ctx context.Context) (runstore.DatabaseHealth, error)
}

// Options wires a Server.
type Options struct {
	Runs     Runs
	Results  *results.Store
	Hub      *results.Hub
	Database DatabaseChecker
	// Token, when set, is required as a bearer token on every route but health.
	Token  string
	Logger *slog.Logger
	// KeepAlive is the SSE comment and websocket ping interval.
	KeepAlive time.Duration
}

// Server serves the run and result HTTP API.
type Server struct {
	runs      Runs
	results   *results.Store
	hub       *results.Hub
	database  DatabaseChecker
	token     string
	logger    *slog.Logger
	keepAlive time.Duration
	upgrader  websocket.Upgrader
}

const defaultListLimit = 50

// NewServer builds a Server.
func NewServer(opts Options) *Server {
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 15 * time.Second
	}
	return &Server{
		runs:      opts.Runs,
		results:   opts.Results,
		hub:       opts.Hub,
		database:  opts.Database,
		token:     strings.TrimSpace(opts.Token),
		logger:    logging.NewComponentLogger(opts.Logger, "api-server"),
		keepAlive: opts.KeepAlive,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the routed API handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	protected := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authMiddleware(s.token, h))
	}
	protected("POST /api/cycles/{year}/runs", s.handleStartRun)
	protected("POST /api/cycles/{year}/retry", s.handleRetry)
	protected("GET /api/cycles/{year}/runs", s.handleListRuns)
	protected("GET /api/runs", s.handleListRuns)
	protected("GET /api/runs/{id}", s.handleGetRun)
	protected("GET /api/results/current", s.handleCurrentResult)
	protected("GET /api/results/events", s.handleEvents)
	protected("GET /api/results/ws", s.handleWebSocket)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	return s.withRequestID(mux)
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	cycle, ok := s.cycleParam(w, r)
	if !ok {
		return
	}
	run, err := s.runs.StartRun(r.Context(), cycle)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, RunResponse{Run: FromRun(run)})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	cycle, ok := s.cycleParam(w, r)
	if !ok {
		return
	}
	run, err := s.runs.Retry(r.Context(), cycle)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, RunResponse{Run: FromRun(run)})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	cycle := 0
	if r.PathValue("year") != "" {
		var ok bool
		if cycle, ok = s.cycleParam(w, r); !ok {
			return
		}
	}
	limit := defaultListLimit
	if value := strings.TrimSpace(r.URL.Query().Get("limit")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	runs, err := s.runs.ListRuns(r.Context(), cycle, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, RunListResponse{Runs: FromRuns(runs)})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, RunResponse{Run: FromRun(run)})
}

func (s *Server) handleCurrentResult(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var snap *results.Snapshot
	if value := strings.TrimSpace(query.Get("cycle")); value != "" {
		cycle, err := strconv.Atoi(value)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid cycle")
			return
		}
		snap = s.results.ForCycle(cycle)
	} else {
		snap = s.results.Current()
	}
	if snap == nil {
		s.writeError(w, http.StatusNotFound, "no published result")
		return
	}
	tier := -1
	if value := strings.TrimSpace(query.Get("tier")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 0 || parsed > 3 {
			s.writeError(w, http.StatusBadRequest, "tier must be 0-3")
			return
		}
		tier = parsed
	}
	withAssignments := query.Get("assignments") != "0" && !strings.EqualFold(query.Get("assignments"), "false")
	s.writeJSON(w, http.StatusOK, ResultResponse{
		Result: FromSnapshot(snap, tier, withAssignments),
		Cycles: s.results.Cycles(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if s.runs != nil {
		resp.Workers = FromStatusSummary(s.runs.Status(r.Context()))
		if !resp.Workers.Running {
			resp.Status = "degraded"
		}
	}
	if s.database != nil {
		health, err := s.database.CheckHealth(r.Context())
		resp.Database = DatabaseStatus{
			Driver:        health.Driver,
			Reachable:     health.Reachable,
			SchemaVersion: health.SchemaVersion,
			Error:         health.Error,
		}
		if err != nil {
			resp.Status = "degraded"
		}
	}
	if s.hub != nil {
		resp.Subscribers = s.hub.Subscribers()
	}
	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

func (s *Server) cycleParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	cycle, err := strconv.Atoi(r.PathValue("year"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid cycle year")
		return 0, false
	}
	return cycle, true
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	failure := services.Classify(err, "")
	if status >= http.StatusInternalServerError {
		logging.WithContext(r.Context(), s.logger).Error("api request failed",
			logging.String("path", r.URL.Path),
			logging.Error(err),
			logging.EventType("api_request_failed"))
	}
	s.writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: string(failure.Kind)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrConcurrentRun):
		return http.StatusConflict
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
