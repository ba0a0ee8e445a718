package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Sweep run triggers
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// Sweep run statuses
const (
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
	RunStatusPartial = "partial" // Some steps failed, others succeeded
)

// StepResult is the outcome of one reconciliation step within a sweep
type StepResult struct {
	Step     string `json:"step" bson:"step"`
	Affected int64  `json:"affected" bson:"affected"`
	Error    string `json:"error,omitempty" bson:"error,omitempty"`
}

// SweepRun represents a complete sweep run document
type SweepRun struct {
	ID         primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	RunID      string             `json:"run_id" bson:"run_id"`
	Sweep      string             `json:"sweep" bson:"sweep"`
	Trigger    string             `json:"trigger" bson:"trigger"`
	InstanceID string             `json:"instance_id" bson:"instance_id"`
	StartedAt  time.Time          `json:"started_at" bson:"started_at"`
	FinishedAt time.Time          `json:"finished_at" bson:"finished_at"`
	DurationMs int64              `json:"duration_ms" bson:"duration_ms"`
	Steps      []StepResult       `json:"steps" bson:"steps"`
	Status     string             `json:"status" bson:"status"`
	Error      string             `json:"error,omitempty" bson:"error,omitempty"`
}

// SweepRunSummary represents a summary for list responses
type SweepRunSummary struct {
	RunID      string `json:"run_id"`
	Sweep      string `json:"sweep"`
	Trigger    string `json:"trigger"`
	InstanceID string `json:"instance_id"`
	StartedAt  string `json:"started_at"`
	DurationMs int64  `json:"duration_ms"`
	Status     string `json:"status"`
	Affected   int64  `json:"affected"`
}

// ToSummary converts SweepRun to SweepRunSummary
func (r *SweepRun) ToSummary() SweepRunSummary {
	var startedAt string
	if !r.StartedAt.IsZero() {
		startedAt = r.StartedAt.Format(time.RFC3339)
	}

	var affected int64
	for _, step := range r.Steps {
		affected += step.Affected
	}

	return SweepRunSummary{
		RunID:      r.RunID,
		Sweep:      r.Sweep,
		Trigger:    r.Trigger,
		InstanceID: r.InstanceID,
		StartedAt:  startedAt,
		DurationMs: r.DurationMs,
		Status:     r.Status,
		Affected:   affected,
	}
}
