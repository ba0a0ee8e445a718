package handler

import (
	"context"
	"net/http"

	"github.com/dandantas/ordersweep/internal/election"
	"github.com/dandantas/ordersweep/internal/model"
)

// GateStatusReader exposes the gate's diagnostic snapshot
type GateStatusReader interface {
	Status() election.Status
}

// LeaseReader reads the shared lease document
type LeaseReader interface {
	Get(ctx context.Context, name string) (*model.Lease, error)
}

// InstanceLister lists live instances
type InstanceLister interface {
	ListLive(ctx context.Context) ([]model.Instance, error)
}

// LeaderHandler reports leader election state
type LeaderHandler struct {
	gate      GateStatusReader
	leases    LeaseReader
	instances InstanceLister
}

// NewLeaderHandler creates a new leader handler
func NewLeaderHandler(gate GateStatusReader, leases LeaseReader, instances InstanceLister) *LeaderHandler {
	return &LeaderHandler{
		gate:      gate,
		leases:    leases,
		instances: instances,
	}
}

// LeaderResponse combines this instance's view with the stored lease
type LeaderResponse struct {
	Local      election.Status `json:"local"`
	Lease      *model.Lease    `json:"lease"`
	LeaseError string          `json:"lease_error,omitempty"`
}

// InstancesResponse lists live instances
type InstancesResponse struct {
	Total     int              `json:"total"`
	Instances []model.Instance `json:"instances"`
}

// Leader handles GET /api/v1/leader. The lease document may be unavailable
// while the local view is still useful, so a storage error is reported inline.
func (h *LeaderHandler) Leader(w http.ResponseWriter, r *http.Request) {
	status := h.gate.Status()
	response := LeaderResponse{Local: status}

	lease, err := h.leases.Get(r.Context(), status.LeaseName)
	if err != nil {
		response.LeaseError = err.Error()
	} else {
		response.Lease = lease
	}

	writeJSON(w, http.StatusOK, response)
}

// Instances handles GET /api/v1/instances
func (h *LeaderHandler) Instances(w http.ResponseWriter, r *http.Request) {
	instances, err := h.instances.ListLive(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, InstancesResponse{Total: len(instances), Instances: instances})
}
