package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// BusStats exposes the bus observability snapshots served by /api/status.
type BusStats interface {
	QueueDepths() map[string]int
	DLQSize() int
}

// StatusFunc returns the per-market engine status map.
type StatusFunc func() map[string]string

// Config holds server configuration.
type Config struct {
	Port     string
	Logger   *zap.Logger
	Bus      BusStats
	Statuses StatusFunc // optional
	Ready    func() bool
}

// Server provides HTTP endpoints for metrics, health checks and status.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

type statusResponse struct {
	QueueDepths map[string]int    `json:"queue_depths"`
	DLQSize     int               `json:"dlq_size"`
	Markets     map[string]string `json:"markets,omitempty"`
}

// New creates a new HTTP server.
func New(cfg *Config) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if cfg.Ready != nil && !cfg.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	r.Get("/api/status", func(w http.ResponseWriter, _ *http.Request) {
		resp := statusResponse{
			QueueDepths: cfg.Bus.QueueDepths(),
			DLQSize:     cfg.Bus.DLQSize(),
		}
		if cfg.Statuses != nil {
			resp.Markets = cfg.Statuses()
		}

		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(resp)
		if err != nil {
			cfg.Logger.Error("status-encode-failed", zap.Error(err))
		}
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		server: server,
		logger: cfg.Logger,
	}
}

// Start starts the HTTP server. Blocking; returns when the server stops.
func (s *Server) Start() error {
	s.logger.Info("http-server-starting", zap.String("addr", s.server.Addr))

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}

	return nil
}

// Handler exposes the mux (tests).
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http-server-shutting-down")

	err := s.server.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}
