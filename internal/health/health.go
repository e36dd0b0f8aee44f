package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ops-euc-admin/ops-app-repo/internal/metrics"
)

// Version is reported by the health endpoints.
const Version = "1.0.0"

// Server provides health, readiness and metrics endpoints
type Server struct {
	server *http.Server
	ready  atomic.Bool
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// NewServer creates a new health check server. It reports not ready until
// SetReady(true) is called.
func NewServer(port int) *Server {
	mux := http.NewServeMux()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	healthServer := &Server{
		server: server,
	}

	mux.HandleFunc("/health", healthServer.healthHandler)
	mux.HandleFunc("/ready", healthServer.readyHandler)
	mux.Handle("/metrics", metrics.Handler())

	return healthServer
}

// SetReady flips the readiness state.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Start starts the health check server
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the health check server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// healthHandler handles health check requests
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, "healthy")
}

// readyHandler handles readiness check requests
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeStatus(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeStatus(w, http.StatusOK, "ready")
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Version:   Version,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(response)
}
