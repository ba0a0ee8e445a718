package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger checks the storage connection
type Pinger interface {
	Ping(ctx context.Context) error
}

// MasterReporter exposes this instance's identity and master status
type MasterReporter interface {
	InstanceID() string
	IsMaster() bool
}

// HealthHandler handles service health and readiness checks
type HealthHandler struct {
	db        Pinger
	gate      MasterReporter
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db Pinger, gate MasterReporter, version string) *HealthHandler {
	return &HealthHandler{
		db:        db,
		gate:      gate,
		startTime: time.Now(),
		version:   version,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Timestamp     string `json:"timestamp"`
	MongoDB       string `json:"mongodb"`
	InstanceID    string `json:"instance_id"`
	IsMaster      bool   `json:"is_master"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Ready   bool   `json:"ready"`
	MongoDB string `json:"mongodb"`
}

// Health returns the service health status. A lost database connection is
// reported but does not make the process unhealthy; standby is a valid state.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		MongoDB:       h.mongoStatus(r.Context()),
		InstanceID:    h.gate.InstanceID(),
		IsMaster:      h.gate.IsMaster(),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}

	writeJSON(w, http.StatusOK, response)
}

// Ready returns the service readiness status
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	status := h.mongoStatus(r.Context())
	ready := status == "connected"

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{Ready: ready, MongoDB: status})
}

func (h *HealthHandler) mongoStatus(ctx context.Context) string {
	if err := h.db.Ping(ctx); err != nil {
		return "disconnected"
	}
	return "connected"
}
