package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/dandantas/ordersweep/internal/database"
	"github.com/dandantas/ordersweep/internal/model"
	"github.com/dandantas/ordersweep/internal/scheduler"
	"github.com/dandantas/ordersweep/internal/service"
)

// EntryLister describes registered schedule entries
type EntryLister interface {
	Entries() []scheduler.EntryInfo
}

// SweepSubmitter starts manual sweeps and tracks them
type SweepSubmitter interface {
	Submit(name string) (string, error)
	GetJobStatus(jobID string) (model.JobStatus, bool)
}

// RunHistory queries recorded sweep runs
type RunHistory interface {
	List(ctx context.Context, sweep, status, since string, page, limit int) ([]model.SweepRunSummary, int64, error)
	Get(ctx context.Context, runID string) (*model.SweepRun, error)
}

// SweepHandler handles schedule entries, run history and manual triggers
type SweepHandler struct {
	entries EntryLister
	runner  SweepSubmitter
	history RunHistory
}

// NewSweepHandler creates a new sweep handler
func NewSweepHandler(entries EntryLister, runner SweepSubmitter, history RunHistory) *SweepHandler {
	return &SweepHandler{
		entries: entries,
		runner:  runner,
		history: history,
	}
}

// EntriesResponse lists schedule entries
type EntriesResponse struct {
	Sweeps []scheduler.EntryInfo `json:"sweeps"`
}

// RunListResponse represents run history list response
type RunListResponse struct {
	Total   int64                   `json:"total"`
	Page    int                     `json:"page"`
	Limit   int                     `json:"limit"`
	Results []model.SweepRunSummary `json:"results"`
}

// TriggerResponse represents a manual trigger response
type TriggerResponse struct {
	JobID   string `json:"job_id"`
	Sweep   string `json:"sweep"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// List handles GET /api/v1/sweeps
func (h *SweepHandler) List(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, EntriesResponse{Sweeps: h.entries.Entries()})
}

// Runs handles GET /api/v1/sweeps/runs
func (h *SweepHandler) Runs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page := parseQueryInt(r, "page", 1)
	limit := parseQueryInt(r, "limit", 20)

	// Enforce max limit
	if limit > 100 {
		limit = 100
	}

	summaries, total, err := h.history.List(r.Context(), query.Get("sweep"), query.Get("status"), query.Get("since"), page, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, RunListResponse{
		Total:   total,
		Page:    page,
		Limit:   limit,
		Results: summaries,
	})
}

// Run handles GET /api/v1/sweeps/runs/{run_id}
func (h *SweepHandler) Run(w http.ResponseWriter, r *http.Request) {
	run, err := h.history.Get(r.Context(), r.PathValue("run_id"))
	if err != nil {
		if errors.Is(err, database.ErrSweepRunNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// Trigger handles POST /api/v1/sweeps/{name}/run
func (h *SweepHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	jobID, err := h.runner.Submit(name)
	if err != nil {
		if errors.Is(err, service.ErrUnknownSweep) {
			writeError(w, http.StatusNotFound, "unknown sweep: "+name)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, TriggerResponse{
		JobID:   jobID,
		Sweep:   name,
		Status:  model.JobQueued,
		Message: "Sweep queued; it runs only if this instance is the master",
	})
}

// Job handles GET /api/v1/jobs/{id}
func (h *SweepHandler) Job(w http.ResponseWriter, r *http.Request) {
	status, ok := h.runner.GetJobStatus(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	writeJSON(w, http.StatusOK, status)
}
