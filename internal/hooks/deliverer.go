package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"drover/internal/agent/ports"
	"drover/internal/logging"
)

// maxResponseDrain caps how much of a webhook response body gets read
// before the connection is released.
const maxResponseDrain = 4096

// webhookEnvelope is the JSON body posted to webhook endpoints.
type webhookEnvelope struct {
	Event   string         `json:"event"`
	RuleID  string         `json:"rule_id,omitempty"`
	RunID   string         `json:"run_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	SentAt  time.Time      `json:"sent_at"`
}

// HTTPDeliverer posts webhook payloads as JSON.
type HTTPDeliverer struct {
	client *http.Client
	logger logging.Logger
}

// NewHTTPDeliverer creates a deliverer with its own client timeout as a
// backstop behind the dispatcher's per-delivery context.
func NewHTTPDeliverer(timeout time.Duration, logger logging.Logger) *HTTPDeliverer {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPDeliverer{
		client: &http.Client{Timeout: timeout},
		logger: logging.OrNop(logger),
	}
}

func (d *HTTPDeliverer) Deliver(ctx context.Context, req ports.WebhookRequest) (*ports.WebhookResult, error) {
	body, err := json.Marshal(webhookEnvelope{
		Event:   req.Event,
		RuleID:  req.RuleID,
		RunID:   req.RunID,
		Payload: req.Payload,
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseDrain))

	d.logger.Debug("delivered webhook for rule %s: status %d", req.RuleID, resp.StatusCode)
	return &ports.WebhookResult{StatusCode: resp.StatusCode, Duration: time.Since(start)}, nil
}
