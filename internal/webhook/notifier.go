// Package webhook posts sweep failures to an alert webhook with retry and a
// circuit breaker.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dandantas/ordersweep/internal/model"
	"github.com/dandantas/ordersweep/internal/scheduler"
)

// ErrCircuitOpen is returned when deliveries are suspended after repeated failures
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Delivery statuses
const (
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
	DeliveryDropped   = "dropped"
)

// DeliveryObserver is told the final status of every alert
type DeliveryObserver func(status string)

// NotifierOption configures a Notifier
type NotifierOption func(*Notifier)

// WithHTTPClient replaces the default client
func WithHTTPClient(c *http.Client) NotifierOption {
	return func(n *Notifier) { n.httpClient = c }
}

// WithBreaker replaces the default circuit breaker
func WithBreaker(cb *CircuitBreaker) NotifierOption {
	return func(n *Notifier) { n.breaker = cb }
}

// WithQueueSize sets how many alerts may wait for delivery
func WithQueueSize(size int) NotifierOption {
	return func(n *Notifier) { n.queue = make(chan FailurePayload, size) }
}

// WithDeliveryObserver registers fn for delivery outcomes
func WithDeliveryObserver(fn DeliveryObserver) NotifierOption {
	return func(n *Notifier) { n.observe = fn }
}

// Notifier is a scheduler error sink that posts failures to a webhook.
// ReportActionError only enqueues; a background goroutine delivers.
type Notifier struct {
	webhook    model.Webhook
	instanceID string
	httpClient *http.Client
	breaker    *CircuitBreaker
	observe    DeliveryObserver

	queue  chan FailurePayload
	wg     sync.WaitGroup
	once   sync.Once
	stop   chan struct{}
	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewNotifier creates a notifier for the given webhook
func NewNotifier(webhook model.Webhook, instanceID string, timeout time.Duration, opts ...NotifierOption) (*Notifier, error) {
	if err := webhook.Validate(); err != nil {
		return nil, err
	}

	n := &Notifier{
		webhook:    webhook,
		instanceID: instanceID,
		httpClient: NewHTTPClient(timeout),
		breaker:    NewCircuitBreaker(DefaultBreakerSettings(), nil),
		queue:      make(chan FailurePayload, 32),
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// NewHTTPClient creates an HTTP client with connection pooling
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// Start launches the delivery goroutine. ctx bounds every delivery.
func (n *Notifier) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	n.mu.Lock()
	n.cancel = cancel
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer cancel()
		defer n.wg.Done()
		for {
			select {
			case payload := <-n.queue:
				if _, err := n.Deliver(ctx, payload); err != nil {
					slog.Error("Sweep failure alert not delivered",
						"webhook_url", n.webhook.URL,
						"sweep", payload.Metadata["sweep"],
						"run_id", payload.Metadata["run_id"],
						"error", err,
					)
				}
			case <-n.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops the delivery goroutine after the alert it is sending, if any.
// When ctx ends first the in-flight delivery is cancelled, so Close never
// waits out a retry backoff. Queued alerts that were not picked up are dropped.
func (n *Notifier) Close(ctx context.Context) {
	n.once.Do(func() { close(n.stop) })

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	slog.Warn("Timeout waiting for alert delivery, cancelling it", "webhook_url", n.webhook.URL)
	n.mu.Lock()
	if n.cancel != nil {
		n.cancel()
	}
	n.mu.Unlock()
	<-done
}

// ReportActionError implements scheduler.ErrorSink
func (n *Notifier) ReportActionError(_ context.Context, actionErr *scheduler.ActionError) {
	payload := FormatFailurePayload(actionErr, n.instanceID)

	select {
	case n.queue <- payload:
	default:
		slog.Warn("Alert queue full, dropping sweep failure alert",
			"sweep", actionErr.Task,
			"run_id", actionErr.RunID,
		)
		n.record(DeliveryDropped)
	}
}

// BreakerState returns the circuit breaker state
func (n *Notifier) BreakerState() string {
	return n.breaker.State().String()
}

// Deliver posts one payload, retrying per the webhook's retry configuration
func (n *Notifier) Deliver(ctx context.Context, payload FailurePayload) (*model.AlertDelivery, error) {
	runID, _ := payload.Metadata["run_id"].(string)
	sweep, _ := payload.Metadata["sweep"].(string)

	delivery := &model.AlertDelivery{
		RunID:      runID,
		Sweep:      sweep,
		WebhookURL: n.webhook.URL,
		Attempts:   make([]model.AlertAttempt, 0),
		CreatedAt:  time.Now().UTC(),
	}

	finish := func(status string, err error) (*model.AlertDelivery, error) {
		delivery.FinalStatus = status
		delivery.CompletedAt = time.Now().UTC()
		n.record(status)
		return delivery, err
	}

	if !n.breaker.Allow() {
		slog.Warn("Circuit breaker is open, skipping webhook delivery",
			"webhook_url", n.webhook.URL,
			"run_id", runID,
		)
		return finish(DeliveryFailed, ErrCircuitOpen)
	}

	payload.Metadata["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	body, err := json.Marshal(payload)
	if err != nil {
		return finish(DeliveryFailed, fmt.Errorf("failed to marshal alert payload: %w", err))
	}

	backoff := NewBackoff(n.webhook.RetryConfig)
	for attempt := 1; ; attempt++ {
		result, err := n.send(ctx, body)
		result.AttemptNumber = attempt
		delivery.Attempts = append(delivery.Attempts, result)

		if err == nil {
			slog.Info("Webhook delivered successfully",
				"webhook_url", n.webhook.URL,
				"run_id", runID,
				"attempt", attempt,
				"status_code", result.StatusCode,
			)
			n.breaker.Success()
			return finish(DeliveryDelivered, nil)
		}

		if !backoff.Retry(attempt, result.StatusCode, err) {
			n.breaker.Failure()
			return finish(DeliveryFailed, fmt.Errorf("webhook delivery failed after %d attempts: %w", attempt, err))
		}

		slog.Warn("Webhook delivery failed, retrying",
			"webhook_url", n.webhook.URL,
			"run_id", runID,
			"attempt", attempt,
			"next_retry_ms", backoff.Delay(attempt).Milliseconds(),
			"error", result.Error,
		)
		if err := backoff.Wait(ctx, attempt); err != nil {
			return finish(DeliveryFailed, err)
		}
	}
}

// send performs a single delivery attempt
func (n *Notifier) send(ctx context.Context, body []byte) (model.AlertAttempt, error) {
	start := time.Now()
	attempt := model.AlertAttempt{Timestamp: start.UTC()}

	fail := func(err error) (model.AlertAttempt, error) {
		attempt.Error = err.Error()
		attempt.DurationMs = time.Since(start).Milliseconds()
		return attempt, err
	}

	req, err := http.NewRequestWithContext(ctx, n.webhook.Method, n.webhook.URL, bytes.NewReader(body))
	if err != nil {
		return fail(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range n.webhook.Headers {
		req.Header.Set(key, value)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fail(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	// Limit to 1KB
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		slog.Warn("Failed to read webhook response body", "error", err)
	}

	attempt.StatusCode = resp.StatusCode
	attempt.ResponseBody = string(respBody)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}

	attempt.DurationMs = time.Since(start).Milliseconds()
	return attempt, nil
}

func (n *Notifier) record(status string) {
	if n.observe != nil {
		n.observe(status)
	}
}
