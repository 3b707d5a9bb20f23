package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/slotwatch/service/cursor"
	"github.com/brojonat/slotwatch/service/metrics"
	"github.com/brojonat/slotwatch/service/poller"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusSource reports the poller's most recent window.
type StatusSource interface {
	LastResult() *poller.StepResult
}

// Info is static process information returned by the status endpoint.
type Info struct {
	Version   string `json:"version"`
	Endpoint  string `json:"endpoint"`
	CursorKey string `json:"cursor_key"`
	Mode      string `json:"mode"`
}

// Server exposes health, metrics and poller status over HTTP.
type Server struct {
	addr    string
	info    Info
	status  StatusSource
	store   cursor.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server
	started time.Time
}

// New creates a new HTTP server. status and store are optional; without
// them the status endpoint reports only static information.
func New(addr string, info Info, status StatusSource, store cursor.Store, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:    addr,
		info:    info,
		status:  status,
		store:   store,
		metrics: m,
		logger:  logger,
		started: time.Now(),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /api/v1/status", metrics.HTTPMetricsMiddleware(s.metrics, "/api/v1/status")(
		handleStatus(s.info, s.status, s.store, s.started, s.logger)))
	mux.Handle("GET /api/v1/cursors", metrics.HTTPMetricsMiddleware(s.metrics, "/api/v1/cursors")(
		handleListCursors(s.store, s.logger)))
	mux.Handle("GET /api/v1/cursors/{key}", metrics.HTTPMetricsMiddleware(s.metrics, "/api/v1/cursors/{key}")(
		handleGetCursor(s.store, s.logger)))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
