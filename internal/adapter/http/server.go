package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/rain-nowcast-monitor/internal/domain"
	"github.com/couchcryptid/rain-nowcast-monitor/internal/monitor"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor is the view of the monitor the HTTP surface needs.
type Monitor interface {
	sharedobs.ReadinessChecker
	LastReport() *monitor.CycleReport
	States() []domain.StateEntry
	RunOnce(ctx context.Context, trigger monitor.Trigger) (*monitor.CycleReport, error)
}

// Server exposes health, readiness, metrics, status and manual-check endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics, /status and /check routes.
func NewServer(addr string, mon Monitor, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 2 * time.Minute, // POST /check runs a full cycle
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(mon))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /status", handleStatus(mon))
	mux.HandleFunc("POST /check", s.handleCheck(mon))

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type statusResponse struct {
	LastCycle *monitor.CycleReport `json:"last_cycle"`
	States    []domain.StateEntry  `json:"states"`
}

func handleStatus(mon Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		states := mon.States()
		if states == nil {
			states = []domain.StateEntry{}
		}
		sharedobs.WriteJSON(w, http.StatusOK, statusResponse{LastCycle: mon.LastReport(), States: states})
	}
}

func (s *Server) handleCheck(mon Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := mon.RunOnce(r.Context(), monitor.TriggerManual)
		if errors.Is(err, monitor.ErrCycleInProgress) {
			sharedobs.WriteJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		if err != nil {
			s.logger.Error("manual check failed", "error", err)
			sharedobs.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		sharedobs.WriteJSON(w, http.StatusOK, report)
	}
}
