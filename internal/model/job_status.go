package model

import (
	"sync"
)

// Manual sweep job states
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobSkipped    = "skipped"
	JobFailed     = "failed"
)

// JobStatus represents the status of a manually triggered sweep
type JobStatus struct {
	JobID  string    `json:"job_id"`
	Sweep  string    `json:"sweep"`
	Status string    `json:"status"`
	Reason string    `json:"reason,omitempty"` // Why a job was skipped
	Error  string    `json:"error,omitempty"`
	Result *SweepRun `json:"result,omitempty"`
}

// JobStatusStore is an in-memory store for job statuses
type JobStatusStore struct {
	mu   sync.RWMutex
	jobs map[string]*JobStatus
}

// NewJobStatusStore creates a new job status store
func NewJobStatusStore() *JobStatusStore {
	return &JobStatusStore{
		jobs: make(map[string]*JobStatus),
	}
}

// Set stores a copy of a job status
func (s *JobStatusStore) Set(jobID string, status JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[jobID] = &status
}

// Update applies fn to the stored status under the lock
func (s *JobStatusStore) Update(jobID string, fn func(*JobStatus)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, exists := s.jobs[jobID]
	if !exists {
		return false
	}
	fn(status)
	return true
}

// Get retrieves a copy of a job status
func (s *JobStatusStore) Get(jobID string) (JobStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, exists := s.jobs[jobID]
	if !exists {
		return JobStatus{}, false
	}
	return *status, true
}

// Delete removes a job status
func (s *JobStatusStore) Delete(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
}
