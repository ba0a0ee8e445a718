package service

import (
	"context"
	"time"

	"github.com/dandantas/ordersweep/internal/database"
	"github.com/dandantas/ordersweep/internal/model"
)

// RunHistoryStore lists recorded sweep runs
type RunHistoryStore interface {
	GetByRunID(ctx context.Context, runID string) (*model.SweepRun, error)
	List(ctx context.Context, filter database.SweepRunFilter, page, limit int) ([]model.SweepRun, int64, error)
}

// HistoryService handles sweep run history queries
type HistoryService struct {
	repo RunHistoryStore
}

// NewHistoryService creates a new history service
func NewHistoryService(repo RunHistoryStore) *HistoryService {
	return &HistoryService{repo: repo}
}

// Get retrieves one run by run ID
func (s *HistoryService) Get(ctx context.Context, runID string) (*model.SweepRun, error) {
	return s.repo.GetByRunID(ctx, runID)
}

// List retrieves run summaries, newest first. since is RFC 3339 and ignored when empty or malformed.
func (s *HistoryService) List(ctx context.Context, sweep, status, since string, page, limit int) ([]model.SweepRunSummary, int64, error) {
	filter := database.SweepRunFilter{Sweep: sweep, Status: status}
	if since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filter.Since = t
		}
	}

	runs, total, err := s.repo.List(ctx, filter, page, limit)
	if err != nil {
		return nil, 0, err
	}

	summaries := make([]model.SweepRunSummary, len(runs))
	for i, run := range runs {
		summaries[i] = run.ToSummary()
	}

	return summaries, total, nil
}
