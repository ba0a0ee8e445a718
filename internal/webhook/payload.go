package webhook

import (
	"fmt"
	"time"

	"github.com/dandantas/ordersweep/internal/scheduler"
)

// FailurePayload is the JSON body posted for a failed sweep
type FailurePayload struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
	Details  map[string]any `json:"details"`
}

// FormatFailurePayload builds the alert for a failed or panicked sweep run
func FormatFailurePayload(err *scheduler.ActionError, instanceID string) FailurePayload {
	severity := "error"
	verb := "failed"
	if err.Panic {
		severity = "critical"
		verb = "panicked"
	}

	return FailurePayload{
		Text: fmt.Sprintf("🚨 Sweep %s %s: %v", err.Task, verb, err.Err),
		Metadata: map[string]any{
			"service":     "ordersweep",
			"sweep":       err.Task,
			"run_id":      err.RunID,
			"instance_id": instanceID,
			"severity":    severity,
			"timestamp":   "", // set at delivery
		},
		Details: map[string]any{
			"trigger":    err.Trigger,
			"started_at": err.At.UTC().Format(time.RFC3339),
			"panic":      err.Panic,
			"error":      fmt.Sprint(err.Err),
		},
	}
}
