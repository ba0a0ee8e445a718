package webhook

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/dandantas/ordersweep/internal/model"
)

// Backoff decides whether and when a failed delivery is attempted again
type Backoff struct {
	config model.RetryConfig
}

// NewBackoff creates a backoff from a retry configuration, filling defaults
func NewBackoff(config model.RetryConfig) *Backoff {
	config.SetDefaults()
	return &Backoff{config: config}
}

// MaxAttempts returns the total number of attempts, the first one included
func (b *Backoff) MaxAttempts() int {
	return b.config.MaxAttempts
}

// Delay returns the wait after the given failed attempt:
// min(initial * multiplier^(attempt-1), max)
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delayMs := float64(b.config.InitialDelayMs) * math.Pow(b.config.Multiplier, float64(attempt-1))
	if delayMs > float64(b.config.MaxDelayMs) {
		delayMs = float64(b.config.MaxDelayMs)
	}

	return time.Duration(delayMs) * time.Millisecond
}

// Retry reports whether another attempt should follow the given failed one
func (b *Backoff) Retry(attempt, statusCode int, err error) bool {
	if attempt >= b.config.MaxAttempts {
		return false
	}
	return retryable(statusCode, err)
}

// Wait blocks for the delay after attempt, or until ctx is done
func (b *Backoff) Wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(b.Delay(attempt))
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retryable: transport errors, 5xx and 429 are worth another try; other 4xx are not
func retryable(statusCode int, err error) bool {
	switch {
	case err != nil && statusCode == 0:
		return true
	case statusCode == http.StatusTooManyRequests:
		return true
	case statusCode >= 500:
		return true
	case statusCode >= 400:
		return false
	default:
		return statusCode >= 300
	}
}
