package model

import "time"

// AlertAttempt represents a single webhook delivery attempt
type AlertAttempt struct {
	AttemptNumber int       `json:"attempt_number"`
	Timestamp     time.Time `json:"timestamp"`
	StatusCode    int       `json:"status_code,omitempty"`
	ResponseBody  string    `json:"response_body,omitempty"`
	Error         string    `json:"error,omitempty"`
	DurationMs    int64     `json:"duration_ms"`
}

// AlertDelivery is the outcome of sending one sweep failure alert
type AlertDelivery struct {
	RunID       string         `json:"run_id"`
	Sweep       string         `json:"sweep"`
	WebhookURL  string         `json:"webhook_url"`
	Attempts    []AlertAttempt `json:"attempts"`
	FinalStatus string         `json:"final_status"` // "delivered", "failed"
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
}
