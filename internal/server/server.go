package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cwbudde/blackboxopt/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes run status and Prometheus metrics over HTTP.
type Server struct {
	addr     string
	store    store.Store
	runs     *RunRegistry
	gatherer prometheus.Gatherer
	server   *http.Server
	listener net.Listener
}

// NewServer creates a server. st and runs may be nil; a nil gatherer serves
// the default Prometheus registry.
func NewServer(addr string, st store.Store, runs *RunRegistry, gatherer prometheus.Gatherer) *Server {
	if runs == nil {
		runs = NewRunRegistry()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		addr:     addr,
		store:    st,
		runs:     runs,
		gatherer: gatherer,
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /api/v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleGetRun)
	return s.loggingMiddleware(mux)
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("Starting HTTP server", "addr", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

type runList struct {
	Live   []LiveRun              `json:"live"`
	Stored []store.CheckpointInfo `json:"stored"`
}

// handleListRuns handles GET /api/v1/runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	list := runList{Live: s.runs.List(), Stored: []store.CheckpointInfo{}}
	if s.store != nil {
		infos, err := s.store.ListCheckpoints()
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to list runs: %v", err), http.StatusInternalServerError)
			return
		}
		list.Stored = infos
	}
	writeJSON(w, http.StatusOK, list)
}

// handleGetRun handles GET /api/v1/runs/{id}. Live runs take precedence over
// stored checkpoints.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if run, ok := s.runs.Get(id); ok {
		writeJSON(w, http.StatusOK, run)
		return
	}
	if s.store == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	checkpoint, err := s.store.LoadCheckpoint(id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to load run: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, checkpoint)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
