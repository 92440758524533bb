package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
	"github.com/shigeo-nakamura/pairtrade/internal/logging"
	"github.com/shigeo-nakamura/pairtrade/internal/observability"
	"github.com/shigeo-nakamura/pairtrade/internal/orchestrator"
	"github.com/shigeo-nakamura/pairtrade/internal/progress"
	"github.com/shigeo-nakamura/pairtrade/internal/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const recentRuns = 10

// statusServer serves health, metrics, the progress websocket and run status.
type statusServer struct {
	addr    string
	runs    storage.RunStore
	metrics *observability.Metrics
	hub     *progress.Hub
	started time.Time
	log     *zap.Logger

	srv *http.Server

	mu      sync.Mutex
	lastRun *orchestrator.Result
}

func newStatusServer(addr string, runs storage.RunStore, m *observability.Metrics, hub *progress.Hub, started time.Time, logger *zap.Logger) *statusServer {
	return &statusServer{
		addr:    addr,
		runs:    runs,
		metrics: m,
		hub:     hub,
		started: started,
		log:     logging.OrNop(logger).Named("http"),
	}
}

// Handler builds the router.
func (s *statusServer) Handler() http.Handler {
	router := mux.NewRouter()

	// Health check
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	// Prometheus metrics
	router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	// Live progress
	router.Handle("/ws", s.hub.Handler())

	// Status endpoint
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}).Handler(router)
}

// Start listens in the background. An empty address disables the server.
func (s *statusServer) Start() {
	if s.addr == "" {
		return
	}
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		s.log.Info("starting HTTP server", zap.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server error", zap.Error(err))
		}
	}()
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
func (s *statusServer) Shutdown(ctx context.Context) {
	if s.srv == nil {
		return
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Warn("HTTP server shutdown", zap.Error(err))
	}
}

// SetLastRun records the result of the finished optimization.
func (s *statusServer) SetLastRun(res *orchestrator.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = res
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status     string       `json:"status"`
	Uptime     string       `json:"uptime"`
	Started    time.Time    `json:"started"`
	Clients    int          `json:"ws_clients"`
	LastRunID  string       `json:"last_run_id,omitempty"`
	Updated    bool         `json:"configs_updated"`
	RecentRuns []*RunStatus `json:"recent_runs"`
}

// RunStatus is one optimization run in the /status response.
type RunStatus struct {
	RunID      string     `json:"run_id"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	BestPair   string     `json:"best_pair,omitempty"`
	BestScore  *float64   `json:"best_score,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// handleStatus returns server status as JSON.
func (s *statusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.GetRecent(r.Context(), recentRuns)
	if err != nil {
		s.log.Warn("load recent runs", zap.Error(err))
		http.Error(w, "failed to load runs", http.StatusInternalServerError)
		return
	}

	resp := StatusResponse{
		Status:     "running",
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Started:    s.started.UTC(),
		Clients:    s.hub.ClientCount(),
		RecentRuns: make([]*RunStatus, 0, len(runs)),
	}
	s.mu.Lock()
	if s.lastRun != nil {
		resp.Status = "finished"
		resp.LastRunID = s.lastRun.RunID
		resp.Updated = s.lastRun.Updated
	}
	s.mu.Unlock()

	for _, run := range runs {
		resp.RecentRuns = append(resp.RecentRuns, runStatus(run))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func runStatus(run *domain.OptimizationRun) *RunStatus {
	rs := &RunStatus{
		RunID:     run.RunID,
		Status:    run.Status,
		StartedAt: time.UnixMilli(run.StartedAt).UTC(),
		BestPair:  run.BestPair,
		BestScore: run.BestScore,
		Error:     run.Error,
	}
	if run.FinishedAt != nil {
		t := time.UnixMilli(*run.FinishedAt).UTC()
		rs.FinishedAt = &t
	}
	return rs
}
