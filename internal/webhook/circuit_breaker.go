package webhook

import (
	"sync"
	"time"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerSettings configures a CircuitBreaker
type BreakerSettings struct {
	FailureThreshold int           // Consecutive failures before opening
	SuccessThreshold int           // Successes in half-open before closing
	Cooldown         time.Duration // Time open before a trial request
}

// DefaultBreakerSettings returns the settings used for the alert webhook
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         60 * time.Second,
	}
}

// CircuitBreaker stops alert deliveries to a webhook that keeps failing
type CircuitBreaker struct {
	settings BreakerSettings
	now      func() time.Time

	mu           sync.Mutex
	state        CircuitState
	failures     int
	successes    int
	stateChanged time.Time
}

// NewCircuitBreaker creates a closed circuit breaker
func NewCircuitBreaker(settings BreakerSettings, now func() time.Time) *CircuitBreaker {
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		settings:     settings,
		now:          now,
		state:        StateClosed,
		stateChanged: now(),
	}
}

// Allow reports whether a delivery may be attempted. An open breaker moves to
// half-open once the cooldown has passed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.stateChanged) >= cb.settings.Cooldown {
		cb.transition(StateHalfOpen)
	}
	return cb.state != StateOpen
}

// Success records a delivered alert
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.settings.SuccessThreshold {
			cb.transition(StateClosed)
		}
	}
}

// Failure records an alert that could not be delivered
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.settings.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	cb.stateChanged = cb.now()
}
