package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// EntryInfo describes a registered task for the operations API
type EntryInfo struct {
	Name       string    `json:"name"`
	Expression string    `json:"expression"`
	Timezone   string    `json:"timezone"`
	State      State     `json:"state"`
	Busy       bool      `json:"busy"`
	NextRun    time.Time `json:"next_run"`
	LastRunID  string    `json:"last_run_id,omitempty"`
	LastRunAt  time.Time `json:"last_run_at,omitempty"`
	LastResult string    `json:"last_result,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Scheduler owns the process's schedule entries
type Scheduler struct {
	gate   MasterChecker
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	tasks map[string]*Task
	order []string
}

// NewScheduler creates a scheduler whose tasks all consult gate
func NewScheduler(gate MasterChecker, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		gate:   gate,
		logger: logger,
		now:    time.Now,
		tasks:  make(map[string]*Task),
	}
}

// Schedule validates the expression and timezone, then registers a stopped
// task. Invalid configuration returns a *ScheduleConfigError.
func (s *Scheduler) Schedule(name, expr, timezone string, action Action, opts ...TaskOption) (*Task, error) {
	spec, err := ParseSpec(name, expr, timezone)
	if err != nil {
		return nil, err
	}

	opts = append([]TaskOption{WithTaskLogger(s.logger)}, opts...)
	task, err := NewTask(spec, s.gate, action, opts...)
	if err != nil {
		return nil, err
	}

	if err := s.Register(task); err != nil {
		return nil, err
	}
	return task, nil
}

// Register adds an already built task
func (s *Scheduler) Register(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.Name()]; exists {
		return fmt.Errorf("schedule entry %q already registered", task.Name())
	}
	s.tasks[task.Name()] = task
	s.order = append(s.order, task.Name())

	s.logger.Info("Registered schedule entry",
		"task", task.Name(),
		"expression", task.Spec().Expression,
		"timezone", task.Spec().Location.String(),
	)
	return nil
}

// Task returns a registered task by name
func (s *Scheduler) Task(name string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[name]
	return task, ok
}

// Start arms every registered task
func (s *Scheduler) Start(ctx context.Context) {
	for _, task := range s.snapshot() {
		task.Start(ctx)
	}
}

// Stop disarms every task and waits for in-flight runs until ctx expires.
// Runs are never interrupted.
func (s *Scheduler) Stop(ctx context.Context) {
	tasks := s.snapshot()

	waits := make([]context.Context, 0, len(tasks))
	for _, task := range tasks {
		waits = append(waits, task.Stop())
	}

	for i, done := range waits {
		select {
		case <-done.Done():
		case <-ctx.Done():
			s.logger.Warn("Timeout waiting for scheduled run to complete", "task", tasks[i].Name())
			return
		}
	}

	s.logger.Info("All schedule entries stopped")
}

// Entries describes every registered task, sorted by name
func (s *Scheduler) Entries() []EntryInfo {
	now := s.now()
	tasks := s.snapshot()

	entries := make([]EntryInfo, 0, len(tasks))
	for _, task := range tasks {
		info := EntryInfo{
			Name:       task.Name(),
			Expression: task.Spec().Expression,
			Timezone:   task.Spec().Location.String(),
			State:      task.State(),
			Busy:       task.Busy(),
			NextRun:    task.Spec().Next(now),
		}
		if last, ok := task.Last(); ok {
			info.LastRunID = last.RunID
			info.LastRunAt = last.At
			info.LastResult = last.Result.String()
			if last.Err != nil {
				info.LastError = last.Err.Error()
			}
		}
		entries = append(entries, info)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

func (s *Scheduler) snapshot() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]*Task, 0, len(s.order))
	for _, name := range s.order {
		tasks = append(tasks, s.tasks[name])
	}
	return tasks
}
