// Package election decides which running instance is the master allowed to
// run maintenance work. The decision is a lease in shared storage; the gate
// keeps the last observed outcome in memory so callers never do I/O.
package election

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dandantas/ordersweep/internal/model"
	"github.com/google/uuid"
)

// ErrCoordinationUnavailable wraps every failure of the lease backend.
var ErrCoordinationUnavailable = errors.New("coordination backend unavailable")

// releaseTimeout bounds the lease release and instance removal done by Stop.
const releaseTimeout = 5 * time.Second

// LeaseStore claims, renews and releases the shared master lease.
type LeaseStore interface {
	// TryAcquire claims the lease for holder when it is free, expired or
	// already held by holder, extending it to now+ttl. It returns false when
	// another holder owns an unexpired lease.
	TryAcquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	// Release drops the lease if holder owns it.
	Release(ctx context.Context, name, holder string) error
}

// InstanceStore records instance liveness.
type InstanceStore interface {
	Heartbeat(ctx context.Context, instance model.Instance) error
	Remove(ctx context.Context, instanceID string) error
}

// Status is a point-in-time view of the gate for diagnostics
type Status struct {
	InstanceID     string    `json:"instance_id"`
	LeaseName      string    `json:"lease_name"`
	IsMaster       bool      `json:"is_master"`
	LeaseExpiresAt time.Time `json:"lease_expires_at,omitempty"`
	LastAttemptAt  time.Time `json:"last_attempt_at,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

// Option configures a Gate.
type Option func(*Gate)

// WithLeaseName sets the shared lease document name.
func WithLeaseName(name string) Option {
	return func(g *Gate) { g.leaseName = name }
}

// WithTTL sets how long a won lease stays valid without renewal.
func WithTTL(d time.Duration) Option {
	return func(g *Gate) { g.ttl = d }
}

// WithRenewInterval sets how often the gate re-contests the lease.
func WithRenewInterval(d time.Duration) Option {
	return func(g *Gate) { g.renewInterval = d }
}

// WithInstanceID overrides the generated instance identifier.
func WithInstanceID(id string) Option {
	return func(g *Gate) {
		if id != "" {
			g.instanceID = id
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithStatusHook registers fn to be called whenever master status flips.
func WithStatusHook(fn func(isMaster bool)) Option {
	return func(g *Gate) { g.onChange = fn }
}

// Gate tracks whether this instance currently holds the master lease.
type Gate struct {
	leases    LeaseStore
	instances InstanceStore

	instanceID    string
	hostname      string
	leaseName     string
	ttl           time.Duration
	renewInterval time.Duration
	now           func() time.Time
	logger        *slog.Logger
	onChange      func(bool)
	startedAt     time.Time

	master        atomic.Bool
	leaseDeadline atomic.Int64 // unix nanos

	mu            sync.Mutex
	lastErr       error
	lastAttemptAt time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}
}

// NewGate creates a gate. instances may be nil when liveness records are not wanted.
func NewGate(leases LeaseStore, instances InstanceStore, opts ...Option) *Gate {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	g := &Gate{
		leases:        leases,
		instances:     instances,
		hostname:      hostname,
		instanceID:    NewInstanceID(hostname),
		leaseName:     "master",
		ttl:           30 * time.Second,
		renewInterval: 10 * time.Second,
		now:           time.Now,
		logger:        slog.Default(),
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.startedAt = g.now().UTC()
	return g
}

// NewInstanceID builds a process identifier unique even when several
// instances share a hostname.
func NewInstanceID(hostname string) string {
	suffix := uuid.New().String()[:8]
	if hostname == "" {
		return uuid.New().String()
	}
	return hostname + "-" + suffix
}

// InstanceID returns this process's identifier.
func (g *Gate) InstanceID() string {
	return g.instanceID
}

// IsMaster reports the most recently observed master status. It never blocks.
// A lease whose local deadline has passed without a successful renewal reads
// as false even if the background loop is stuck.
func (g *Gate) IsMaster() bool {
	if !g.master.Load() {
		return false
	}
	return g.now().UnixNano() < g.leaseDeadline.Load()
}

// Start launches the background election loop. Only the first call has any effect.
func (g *Gate) Start(ctx context.Context) {
	g.startOnce.Do(func() {
		g.logger.Info("Starting leader election",
			"instance_id", g.instanceID,
			"lease", g.leaseName,
			"ttl", g.ttl,
			"renew_interval", g.renewInterval,
		)
		go g.run(ctx)
	})
}

// Stop ends the loop, drops master status and gives the lease back so another
// instance can take over without waiting for expiry.
func (g *Gate) Stop(ctx context.Context) {
	g.stopOnce.Do(func() {
		close(g.stopCh)
	})

	started := true
	g.startOnce.Do(func() {
		started = false
		close(g.done)
	})
	if started {
		select {
		case <-g.done:
		case <-ctx.Done():
			g.logger.Warn("Timeout waiting for leader election loop to stop", "instance_id", g.instanceID)
		}
	}

	wasMaster := g.master.Load()
	g.setMaster(false, time.Time{})

	// The caller's deadline may already be spent on draining sweeps.
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if wasMaster {
		if err := g.leases.Release(releaseCtx, g.leaseName, g.instanceID); err != nil {
			g.logger.Error("Failed to release master lease", "instance_id", g.instanceID, "error", err)
		}
	}
	if g.instances != nil && started {
		if err := g.instances.Remove(releaseCtx, g.instanceID); err != nil {
			g.logger.Warn("Failed to remove instance record", "instance_id", g.instanceID, "error", err)
		}
	}

	g.logger.Info("Leader election stopped", "instance_id", g.instanceID)
}

// Status returns a snapshot for diagnostics.
func (g *Gate) Status() Status {
	g.mu.Lock()
	lastErr := g.lastErr
	lastAttempt := g.lastAttemptAt
	g.mu.Unlock()

	s := Status{
		InstanceID:    g.instanceID,
		LeaseName:     g.leaseName,
		IsMaster:      g.IsMaster(),
		LastAttemptAt: lastAttempt,
	}
	if s.IsMaster {
		s.LeaseExpiresAt = time.Unix(0, g.leaseDeadline.Load()).UTC()
	}
	if lastErr != nil {
		s.LastError = lastErr.Error()
	}
	return s
}

func (g *Gate) run(ctx context.Context) {
	defer close(g.done)

	ticker := time.NewTicker(g.renewInterval)
	defer ticker.Stop()

	g.refresh(ctx)

	for {
		select {
		case <-ticker.C:
			g.refresh(ctx)
		case <-g.stopCh:
			return
		case <-ctx.Done():
			g.setMaster(false, time.Time{})
			return
		}
	}
}

// refresh contests the lease once and records the outcome.
func (g *Gate) refresh(ctx context.Context) {
	attemptAt := g.now()

	// The call must finish well inside the TTL or a stale true could outlive the lease.
	timeout := g.renewInterval
	if half := g.ttl / 2; half < timeout {
		timeout = half
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	acquired, err := g.tryAcquire(callCtx)

	g.mu.Lock()
	g.lastAttemptAt = attemptAt.UTC()
	g.lastErr = err
	g.mu.Unlock()

	switch {
	case err != nil:
		g.logger.Warn("Leader election attempt failed, assuming not master",
			"instance_id", g.instanceID,
			"error", err,
		)
		g.setMaster(false, time.Time{})
	case acquired:
		g.setMaster(true, attemptAt.Add(g.ttl))
	default:
		g.setMaster(false, time.Time{})
	}

	g.heartbeat(callCtx, attemptAt)
}

func (g *Gate) tryAcquire(ctx context.Context) (acquired bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			acquired = false
			err = fmt.Errorf("%w: panic: %v", ErrCoordinationUnavailable, r)
		}
	}()

	acquired, err = g.leases.TryAcquire(ctx, g.leaseName, g.instanceID, g.ttl)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrCoordinationUnavailable, err)
	}
	return acquired, nil
}

func (g *Gate) heartbeat(ctx context.Context, at time.Time) {
	if g.instances == nil {
		return
	}

	instance := model.Instance{
		ID:          g.instanceID,
		Hostname:    g.hostname,
		StartedAt:   g.startedAt,
		HeartbeatAt: at.UTC(),
		ExpiresAt:   at.Add(g.ttl).UTC(),
	}
	if err := g.instances.Heartbeat(ctx, instance); err != nil {
		g.logger.Debug("Instance heartbeat failed", "instance_id", g.instanceID, "error", err)
	}
}

func (g *Gate) setMaster(isMaster bool, deadline time.Time) {
	if isMaster {
		g.leaseDeadline.Store(deadline.UnixNano())
	} else {
		g.leaseDeadline.Store(0)
	}

	if g.master.Swap(isMaster) == isMaster {
		return
	}

	if isMaster {
		g.logger.Info("Became master", "instance_id", g.instanceID, "lease", g.leaseName)
	} else {
		g.logger.Info("Lost master status", "instance_id", g.instanceID, "lease", g.leaseName)
	}
	if g.onChange != nil {
		g.onChange(isMaster)
	}
}
