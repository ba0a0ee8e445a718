package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// MasterChecker answers whether this instance may run maintenance work.
type MasterChecker interface {
	IsMaster() bool
}

// Run describes one invocation of an action.
type Run struct {
	Task    string
	RunID   string
	Trigger string    // "schedule" or "manual"
	Now     time.Time // Task clock reading at start; actions compute cutoffs from it
}

// Action is the work a task performs when it fires on the master.
// It must be idempotent: brief multi-master windows are possible.
type Action func(ctx context.Context, run Run) error

// ActionError is an action failure or a recovered panic.
type ActionError struct {
	Task    string
	RunID   string
	Trigger string
	At      time.Time
	Panic   bool
	Err     error
}

func (e *ActionError) Error() string {
	if e.Panic {
		return fmt.Sprintf("task %s run %s panicked: %v", e.Task, e.RunID, e.Err)
	}
	return fmt.Sprintf("task %s run %s failed: %v", e.Task, e.RunID, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// ErrorSink receives action failures. Implementations must not block for long.
type ErrorSink interface {
	ReportActionError(ctx context.Context, err *ActionError)
}

// ErrorSinkFunc adapts a function to ErrorSink.
type ErrorSinkFunc func(ctx context.Context, err *ActionError)

// ReportActionError calls f.
func (f ErrorSinkFunc) ReportActionError(ctx context.Context, err *ActionError) {
	f(ctx, err)
}

// Run triggers
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// FireResult is the outcome of a single tick.
type FireResult int

const (
	FireSucceeded FireResult = iota
	FireFailed
	FireSkippedNotMaster
	FireSkippedOverlap
)

func (r FireResult) String() string {
	switch r {
	case FireSucceeded:
		return "succeeded"
	case FireFailed:
		return "failed"
	case FireSkippedNotMaster:
		return "skipped_not_master"
	case FireSkippedOverlap:
		return "skipped_overlap"
	default:
		return "unknown"
	}
}

// State of a task's timer.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// LastFire records the most recent tick of a task.
type LastFire struct {
	RunID  string
	At     time.Time
	Result FireResult
	Err    error
}

// TaskOption configures a Task.
type TaskOption func(*Task)

// WithErrorSink sets where action failures go. Failures are always logged.
func WithErrorSink(sink ErrorSink) TaskOption {
	return func(t *Task) { t.sink = sink }
}

// WithTaskClock replaces time.Now.
func WithTaskClock(now func() time.Time) TaskOption {
	return func(t *Task) { t.now = now }
}

// WithTaskLogger sets the logger.
func WithTaskLogger(l *slog.Logger) TaskOption {
	return func(t *Task) { t.logger = l }
}

// WithActionTimeout bounds every action run. Zero means no bound.
func WithActionTimeout(d time.Duration) TaskOption {
	return func(t *Task) { t.timeout = d }
}

// WithFireObserver is called after every tick with its outcome.
func WithFireObserver(fn func(task string, result FireResult, elapsed time.Duration)) TaskOption {
	return func(t *Task) { t.observe = fn }
}

// Task is one schedule entry: a validated spec, a master gate, an action,
// an error sink, and a guard that keeps runs of the same task from overlapping.
type Task struct {
	spec    Spec
	gate    MasterChecker
	action  Action
	sink    ErrorSink
	now     func() time.Time
	logger  *slog.Logger
	timeout time.Duration
	observe func(string, FireResult, time.Duration)

	// running is held for the whole duration of an action run.
	running atomic.Bool

	mu      sync.Mutex
	state   State
	runner  *cron.Cron
	runDone chan struct{}
	last    LastFire
}

// NewTask builds a stopped task.
func NewTask(spec Spec, gate MasterChecker, action Action, opts ...TaskOption) (*Task, error) {
	if spec.schedule == nil {
		return nil, &ScheduleConfigError{Name: spec.Name, Expression: spec.Expression, Err: errors.New("spec was not created by ParseSpec")}
	}
	if gate == nil {
		return nil, errors.New("scheduler: master checker is required")
	}
	if action == nil {
		return nil, errors.New("scheduler: action is required")
	}

	t := &Task{
		spec:   spec,
		gate:   gate,
		action: action,
		now:    time.Now,
		logger: slog.Default(),
		state:  StateStopped,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Name returns the task name.
func (t *Task) Name() string {
	return t.spec.Name
}

// Spec returns the task's schedule.
func (t *Task) Spec() Spec {
	return t.spec
}

// State returns whether the timer is running.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Last returns the most recent tick outcome. ok is false before the first tick.
func (t *Task) Last() (last LastFire, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, !t.last.At.IsZero()
}

// Busy reports whether an action run is in flight.
func (t *Task) Busy() bool {
	return t.running.Load()
}

// Start arms the timer. ctx is the parent of every action run; cancelling it
// aborts in-flight runs, which Stop deliberately does not do.
func (t *Task) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateRunning {
		return
	}

	logger := cronLogger{logger: t.logger.With("task", t.spec.Name)}
	runner := cron.New(
		cron.WithLocation(t.spec.Location),
		cron.WithParser(secondsParser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)
	runner.Schedule(t.spec.Schedule(), cron.FuncJob(func() {
		t.Fire(ctx, TriggerSchedule)
	}))
	runner.Start()

	t.runner = runner
	t.state = StateRunning

	t.logger.Info("Schedule entry started",
		"task", t.spec.Name,
		"expression", t.spec.Expression,
		"timezone", t.spec.Location.String(),
		"next_run", t.spec.Next(t.now()).Format(time.RFC3339),
	)
}

// Stop disarms the timer. The returned context is done once any in-flight
// run has returned; the run itself is not interrupted.
func (t *Task) Stop() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()

	var waits []<-chan struct{}
	if t.state == StateRunning && t.runner != nil {
		waits = append(waits, t.runner.Stop().Done())
		t.logger.Info("Schedule entry stopped", "task", t.spec.Name)
	}
	t.state = StateStopped
	t.runner = nil

	// Manual runs are not tracked by the cron runner, so wait on the run itself too.
	if t.runDone != nil {
		waits = append(waits, t.runDone)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		for _, w := range waits {
			<-w
		}
	}()
	return ctx
}

// Fire performs one tick: check master status, take the per-task guard,
// run the action once. A tick that finds the previous run still in flight
// is skipped, not queued. Fire never panics and never returns the action's
// error; failures go to the error sink.
func (t *Task) Fire(ctx context.Context, trigger string) FireResult {
	return t.FireWithRunID(ctx, trigger, uuid.New().String())
}

// FireWithRunID is Fire with a caller-chosen run ID, so a manual trigger can
// be correlated with the run it produced.
func (t *Task) FireWithRunID(ctx context.Context, trigger, runID string) FireResult {
	start := t.now()

	if !t.gate.IsMaster() {
		t.logger.Debug("Not master, skipping scheduled run", "task", t.spec.Name, "trigger", trigger)
		t.record(runID, start, FireSkippedNotMaster, nil)
		return FireSkippedNotMaster
	}

	done, ok := t.acquire()
	if !ok {
		t.logger.Warn("Previous run still in flight, skipping",
			"task", t.spec.Name,
			"trigger", trigger,
		)
		t.record(runID, start, FireSkippedOverlap, nil)
		return FireSkippedOverlap
	}
	defer func() {
		t.running.Store(false)
		close(done)
	}()

	run := Run{
		Task:    t.spec.Name,
		RunID:   runID,
		Trigger: trigger,
		Now:     start,
	}

	t.logger.Info("I am the master, running scheduled task",
		"task", t.spec.Name,
		"run_id", runID,
		"trigger", trigger,
	)

	runCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	err := t.invoke(runCtx, run)
	elapsed := t.now().Sub(start)

	if err != nil {
		t.logger.Error("Scheduled task failed",
			"task", t.spec.Name,
			"run_id", runID,
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		if t.sink != nil {
			t.report(ctx, err)
		}
		t.record(runID, start, FireFailed, err)
		return FireFailed
	}

	t.logger.Info("Scheduled task completed",
		"task", t.spec.Name,
		"run_id", runID,
		"duration_ms", elapsed.Milliseconds(),
	)
	t.record(runID, start, FireSucceeded, nil)
	return FireSucceeded
}

// acquire takes the per-task guard. The returned channel is closed when the run ends.
func (t *Task) acquire() (chan struct{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running.CompareAndSwap(false, true) {
		return nil, false
	}
	done := make(chan struct{})
	t.runDone = done
	return done, true
}

// invoke runs the action converting a panic into an ActionError.
func (t *Task) invoke(ctx context.Context, run Run) (actionErr *ActionError) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Scheduled task panicked",
				"task", run.Task,
				"run_id", run.RunID,
				"panic", r,
				"stack_trace", string(debug.Stack()),
			)
			actionErr = &ActionError{
				Task:    run.Task,
				RunID:   run.RunID,
				Trigger: run.Trigger,
				At:      run.Now,
				Panic:   true,
				Err:     fmt.Errorf("%v", r),
			}
		}
	}()

	if err := t.action(ctx, run); err != nil {
		return &ActionError{
			Task:    run.Task,
			RunID:   run.RunID,
			Trigger: run.Trigger,
			At:      run.Now,
			Err:     err,
		}
	}
	return nil
}

// report hands the failure to the sink; a misbehaving sink cannot take the task down.
func (t *Task) report(ctx context.Context, err *ActionError) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Error sink panicked", "task", t.spec.Name, "panic", r)
		}
	}()
	t.sink.ReportActionError(ctx, err)
}

func (t *Task) record(runID string, at time.Time, result FireResult, err *ActionError) {
	last := LastFire{RunID: runID, At: at, Result: result}
	if err != nil {
		last.Err = err
	}

	t.mu.Lock()
	t.last = last
	t.mu.Unlock()

	if t.observe != nil {
		t.observe(t.spec.Name, result, t.now().Sub(at))
	}
}
