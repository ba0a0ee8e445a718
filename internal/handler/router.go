package handler

import (
	"net/http"

	"github.com/dandantas/ordersweep/pkg/middleware"
)

// Router handles HTTP routing
type Router struct {
	healthHandler *HealthHandler
	leaderHandler *LeaderHandler
	sweepHandler  *SweepHandler
	exportHandler *ExportHandler
	metrics       http.Handler
	observe       middleware.RequestObserver
}

// NewRouter creates a new router. metrics may be nil to disable /metrics.
func NewRouter(
	healthHandler *HealthHandler,
	leaderHandler *LeaderHandler,
	sweepHandler *SweepHandler,
	exportHandler *ExportHandler,
	metrics http.Handler,
	observe middleware.RequestObserver,
) *Router {
	return &Router{
		healthHandler: healthHandler,
		leaderHandler: leaderHandler,
		sweepHandler:  sweepHandler,
		exportHandler: exportHandler,
		metrics:       metrics,
		observe:       observe,
	}
}

// Handler returns the configured HTTP handler with middleware
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", rt.healthHandler.Health)
	mux.HandleFunc("GET /ready", rt.healthHandler.Ready)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics)
	}

	mux.HandleFunc("GET /api/v1/leader", rt.leaderHandler.Leader)
	mux.HandleFunc("GET /api/v1/instances", rt.leaderHandler.Instances)

	mux.HandleFunc("GET /api/v1/sweeps", rt.sweepHandler.List)
	mux.HandleFunc("GET /api/v1/sweeps/runs", rt.sweepHandler.Runs)
	mux.HandleFunc("GET /api/v1/sweeps/runs/{run_id}", rt.sweepHandler.Run)
	mux.HandleFunc("POST /api/v1/sweeps/{name}/run", rt.sweepHandler.Trigger)
	mux.HandleFunc("GET /api/v1/jobs/{id}", rt.sweepHandler.Job)

	mux.HandleFunc("GET /api/v1/export/orders", rt.exportHandler.Orders)

	handler := middleware.Recovery(mux)
	handler = middleware.Logging(rt.observe)(handler)
	handler = middleware.CorrelationID(handler)

	return handler
}
