// Package hooks delivers webhook and notify side effects for matched
// rules. Dispatches are fire-and-forget: the agent loop never waits on a
// delivery and never observes a delivery failure as a run error.
package hooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"drover/internal/agent/ports"
	"drover/internal/async"
	"drover/internal/audit"
	"drover/internal/logging"
	"drover/pkg/types"
)

const (
	defaultMaxInFlight = 8
	defaultTimeout     = 10 * time.Second
)

const (
	outcomeDelivered = "delivered"
	outcomeNotified  = "notified"
	outcomeFailed    = "failed"
	outcomeDropped   = "dropped"
	outcomePanicked  = "panicked"
	outcomeSkipped   = "skipped"
)

// Dispatcher fans side effects out to bounded background goroutines and
// records every outcome in the audit trail.
type Dispatcher struct {
	deliverer ports.WebhookDeliverer
	notifier  ports.Notifier
	sink      ports.AuditSink
	logger    logging.Logger

	timeout     time.Duration
	maxInFlight int
	group       errgroup.Group

	mu     sync.Mutex
	closed bool
}

// Option adjusts dispatcher construction.
type Option func(*Dispatcher)

// WithMaxInFlight bounds concurrent deliveries. Dispatches beyond the
// bound are dropped, not queued.
func WithMaxInFlight(n int) Option {
	return func(d *Dispatcher) { d.maxInFlight = n }
}

// WithTimeout bounds each individual delivery.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// NewDispatcher creates a dispatcher. deliverer and notifier may be nil;
// dispatches needing them are then recorded as skipped.
func NewDispatcher(deliverer ports.WebhookDeliverer, notifier ports.Notifier, sink ports.AuditSink, logger logging.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		deliverer:   deliverer,
		notifier:    notifier,
		sink:        audit.OrNop(sink),
		logger:      logging.OrNop(logger),
		timeout:     defaultTimeout,
		maxInFlight: defaultMaxInFlight,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.timeout <= 0 {
		d.timeout = defaultTimeout
	}
	if d.maxInFlight <= 0 {
		d.maxInFlight = defaultMaxInFlight
	}
	d.group.SetLimit(d.maxInFlight)
	return d
}

// Dispatch routes a matched rule's side effect. Actions without a
// dispatcher side effect are ignored.
func (d *Dispatcher) Dispatch(rule types.HookRule, event types.HookEvent, runID string, payload map[string]any) {
	switch rule.Action {
	case types.ActionWebhook:
		d.DispatchWebhook(rule, event, runID, payload)
	case types.ActionNotify:
		d.DispatchNotify(rule, event, ports.Notification{
			Title:   fmt.Sprintf("%s matched rule %s", event, rule.ID),
			Message: notificationMessage(payload),
			Level:   ports.NotifyInfo,
			RunID:   runID,
		})
	}
}

// DispatchWebhook posts the payload to the rule's webhook URL in the
// background.
func (d *Dispatcher) DispatchWebhook(rule types.HookRule, event types.HookEvent, runID string, payload map[string]any) {
	base := ports.AuditRecord{
		Category: ports.AuditHook,
		RunID:    runID,
		RuleID:   rule.ID,
		Event:    string(event),
	}

	if rule.WebhookURL == "" {
		d.logger.Warn("webhook rule %s has no URL", rule.ID)
		base.Outcome = outcomeSkipped
		base.Error = "rule has no webhook URL"
		d.record(base)
		return
	}
	if d.deliverer == nil {
		base.Outcome = outcomeSkipped
		base.Error = "no webhook deliverer configured"
		d.record(base)
		return
	}

	req := ports.WebhookRequest{
		URL:     rule.WebhookURL,
		Event:   string(event),
		RuleID:  rule.ID,
		RunID:   runID,
		Payload: payload,
	}
	d.submit("webhook "+rule.ID, base, func(ctx context.Context, rec ports.AuditRecord) {
		result, err := d.deliverer.Deliver(ctx, req)
		switch {
		case err != nil:
			rec.Outcome = outcomeFailed
			rec.Error = err.Error()
			d.logger.Warn("webhook %s delivery failed: %v", rule.ID, err)
		case result.StatusCode >= 400:
			rec.Outcome = outcomeFailed
			rec.Detail = map[string]any{"status": result.StatusCode}
			d.logger.Warn("webhook %s returned status %d", rule.ID, result.StatusCode)
		default:
			rec.Outcome = outcomeDelivered
			rec.Detail = map[string]any{
				"status":      result.StatusCode,
				"duration_ms": result.Duration.Milliseconds(),
			}
		}
		d.record(rec)
	})
}

// DispatchNotify surfaces a notification in the background.
func (d *Dispatcher) DispatchNotify(rule types.HookRule, event types.HookEvent, notification ports.Notification) {
	base := ports.AuditRecord{
		Category: ports.AuditHook,
		RunID:    notification.RunID,
		RuleID:   rule.ID,
		Event:    string(event),
	}

	if d.notifier == nil {
		base.Outcome = outcomeSkipped
		base.Error = "no notifier configured"
		d.record(base)
		return
	}

	d.submit("notify "+rule.ID, base, func(ctx context.Context, rec ports.AuditRecord) {
		if err := d.notifier.Notify(ctx, notification); err != nil {
			rec.Outcome = outcomeFailed
			rec.Error = err.Error()
			d.logger.Warn("notify %s failed: %v", rule.ID, err)
		} else {
			rec.Outcome = outcomeNotified
		}
		d.record(rec)
	})
}

// submit starts fn on the bounded group. When the group is full or the
// dispatcher is closed the dispatch is dropped and audited as such.
func (d *Dispatcher) submit(name string, base ports.AuditRecord, fn func(ctx context.Context, rec ports.AuditRecord)) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		base.Outcome = outcomeDropped
		base.Error = "dispatcher closed"
		d.record(base)
		return
	}
	started := d.group.TryGo(func() error {
		defer async.RecoverWith(d.logger, name, func(recovered any) {
			rec := base
			rec.Outcome = outcomePanicked
			rec.Error = fmt.Sprint(recovered)
			d.record(rec)
		})
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		fn(ctx, base)
		return nil
	})
	d.mu.Unlock()

	if !started {
		base.Outcome = outcomeDropped
		base.Error = "dispatch capacity exhausted"
		d.record(base)
		d.logger.Warn("dropped %s: %d dispatches already in flight", name, d.maxInFlight)
	}
}

func (d *Dispatcher) record(rec ports.AuditRecord) {
	if err := d.sink.Append(context.Background(), rec); err != nil {
		d.logger.Error("failed to append hook audit record: %v", err)
	}
}

// Close waits for in-flight dispatches. Later dispatches are dropped.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	_ = d.group.Wait()
}

func notificationMessage(payload map[string]any) string {
	if msg, ok := payload["message"].(string); ok && msg != "" {
		return msg
	}
	if tool, ok := payload["tool"].(string); ok && tool != "" {
		return "tool " + tool
	}
	return "hook event fired"
}
