package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tuskdata/tusk/pkg/metrics"
	"github.com/tuskdata/tusk/pkg/types"
)

// ClusterSource provides the cluster projection served on /v1/cluster
type ClusterSource interface {
	GetClusterStatus() (*types.ClusterStatus, error)
}

// HealthServer provides the HTTP side-port: health, readiness, metrics and cluster status
type HealthServer struct {
	source ClusterSource
	router *chi.Mux
	server *http.Server
}

// NewHealthServer creates a new health check HTTP server. A nil source disables /v1/cluster.
func NewHealthServer(source ClusterSource) *HealthServer {
	router := chi.NewRouter()
	hs := &HealthServer{
		source: source,
		router: router,
	}

	router.Get("/health", metrics.HealthHandler())
	router.Get("/ready", metrics.ReadyHandler())
	router.Get("/live", metrics.LivenessHandler())
	router.Handle("/metrics", metrics.Handler())
	router.Get("/v1/cluster", hs.clusterHandler)

	return hs
}

// Serve serves HTTP on lis until Shutdown is called
func (hs *HealthServer) Serve(lis net.Listener) error {
	hs.server = &http.Server{
		Handler:      hs.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if err := hs.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start listens on addr and serves HTTP
func (hs *HealthServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return hs.Serve(lis)
}

// Shutdown stops the HTTP server
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	if hs.server == nil {
		return nil
	}
	hs.server.SetKeepAlivesEnabled(false)
	return hs.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) Handler() http.Handler {
	return hs.router
}

func (hs *HealthServer) clusterHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if hs.source == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "scheduler not initialized"})
		return
	}

	cs, err := hs.source.GetClusterStatus()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(cs)
}
