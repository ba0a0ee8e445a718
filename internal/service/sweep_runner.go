package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dandantas/ordersweep/internal/model"
	"github.com/dandantas/ordersweep/internal/scheduler"
	"github.com/google/uuid"
)

// ErrUnknownSweep is returned when a trigger names no registered sweep
var ErrUnknownSweep = errors.New("unknown sweep")

// TaskLookup finds a schedule entry by name
type TaskLookup interface {
	Task(name string) (*scheduler.Task, bool)
}

// RunLookup fetches a recorded sweep run
type RunLookup interface {
	GetByRunID(ctx context.Context, runID string) (*model.SweepRun, error)
}

// SweepRunner handles manual, out-of-band sweep runs. Runs go through the
// schedule entry itself, so they are master-gated and never overlap a
// scheduled run of the same sweep.
type SweepRunner struct {
	ctx       context.Context
	tasks     TaskLookup
	runs      RunLookup
	jobStore  *model.JobStatusStore
	retention time.Duration
}

// DefaultJobRetention is how long a finished manual job stays queryable
const DefaultJobRetention = time.Hour

// SweepRunnerOption configures a SweepRunner
type SweepRunnerOption func(*SweepRunner)

// WithJobRetention sets how long finished jobs are kept before eviction
func WithJobRetention(d time.Duration) SweepRunnerOption {
	return func(sr *SweepRunner) {
		if d > 0 {
			sr.retention = d
		}
	}
}

// NewSweepRunner creates a sweep runner. ctx is the parent of every manual
// run; runs is optional and only used to attach results.
func NewSweepRunner(ctx context.Context, tasks TaskLookup, runs RunLookup, opts ...SweepRunnerOption) *SweepRunner {
	sr := &SweepRunner{
		ctx:       ctx,
		tasks:     tasks,
		runs:      runs,
		jobStore:  model.NewJobStatusStore(),
		retention: DefaultJobRetention,
	}
	for _, opt := range opts {
		opt(sr)
	}
	return sr
}

// Submit starts a manual run of the named sweep and returns its job ID,
// which is also the run ID recorded in sweep history.
func (sr *SweepRunner) Submit(name string) (string, error) {
	task, ok := sr.tasks.Task(name)
	if !ok {
		return "", ErrUnknownSweep
	}

	jobID := uuid.New().String()
	sr.jobStore.Set(jobID, model.JobStatus{
		JobID:  jobID,
		Sweep:  name,
		Status: model.JobQueued,
	})

	go sr.runAsync(task, jobID)

	return jobID, nil
}

// GetJobStatus retrieves the status of a manual run
func (sr *SweepRunner) GetJobStatus(jobID string) (model.JobStatus, bool) {
	return sr.jobStore.Get(jobID)
}

func (sr *SweepRunner) runAsync(task *scheduler.Task, jobID string) {
	sr.jobStore.Update(jobID, func(s *model.JobStatus) { s.Status = model.JobProcessing })

	slog.Info("Starting manual sweep",
		"job_id", jobID,
		"sweep", task.Name(),
	)

	result := task.FireWithRunID(sr.ctx, scheduler.TriggerManual, jobID)

	var run *model.SweepRun
	if sr.runs != nil && (result == scheduler.FireSucceeded || result == scheduler.FireFailed) {
		var err error
		run, err = sr.runs.GetByRunID(sr.ctx, jobID)
		if err != nil {
			slog.Warn("Manual sweep finished but its run record is unavailable",
				"job_id", jobID,
				"error", err,
			)
		}
	}

	sr.jobStore.Update(jobID, func(s *model.JobStatus) {
		s.Result = run
		switch result {
		case scheduler.FireSucceeded:
			s.Status = model.JobCompleted
		case scheduler.FireFailed:
			s.Status = model.JobFailed
			if run != nil {
				s.Error = run.Error
			} else if last, ok := task.Last(); ok && last.RunID == jobID && last.Err != nil {
				s.Error = last.Err.Error()
			} else {
				s.Error = "sweep failed"
			}
		case scheduler.FireSkippedNotMaster:
			s.Status = model.JobSkipped
			s.Reason = "this instance is not the master"
		case scheduler.FireSkippedOverlap:
			s.Status = model.JobSkipped
			s.Reason = "a run of this sweep is already in progress"
		}
	})

	slog.Info("Manual sweep finished",
		"job_id", jobID,
		"sweep", task.Name(),
		"result", result.String(),
	)

	time.AfterFunc(sr.retention, func() { sr.jobStore.Delete(jobID) })
}
