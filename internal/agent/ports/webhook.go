package ports

import (
	"context"
	"time"
)

// WebhookRequest is the payload handed to a deliverer for a webhook rule.
type WebhookRequest struct {
	URL     string         `json:"url"`
	Event   string         `json:"event"`
	RuleID  string         `json:"rule_id,omitempty"`
	RunID   string         `json:"run_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// WebhookResult reports a completed delivery attempt.
type WebhookResult struct {
	StatusCode int           `json:"status_code"`
	Duration   time.Duration `json:"duration"`
}

// WebhookDeliverer performs the actual delivery. Deliveries run on the
// dispatcher's goroutines; implementations must honor ctx.
type WebhookDeliverer interface {
	Deliver(ctx context.Context, req WebhookRequest) (*WebhookResult, error)
}

// NotifyLevel grades a notification.
type NotifyLevel string

const (
	NotifyInfo  NotifyLevel = "info"
	NotifyWarn  NotifyLevel = "warn"
	NotifyError NotifyLevel = "error"
)

// Notification is a human-directed message emitted by a notify rule.
type Notification struct {
	Title   string      `json:"title"`
	Message string      `json:"message"`
	Level   NotifyLevel `json:"level,omitempty"`
	RunID   string      `json:"run_id,omitempty"`
}

// Notifier surfaces notifications to wherever the host wants them.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
