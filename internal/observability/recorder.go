package observability

import (
	"context"
	"sync"
	"time"

	"drover/internal/agent"
	"drover/internal/async"
	"drover/internal/logging"
	"drover/pkg/types"
)

// Recorder translates run events into metric recordings. It tracks
// parked approvals so the wait histogram measures request-to-decision
// time.
type Recorder struct {
	metrics *Metrics
	logger  logging.Logger

	mu      sync.Mutex
	pending map[string]pendingApproval
}

type pendingApproval struct {
	tool        string
	requestedAt time.Time
}

// NewRecorder creates a recorder feeding the given collector.
func NewRecorder(metrics *Metrics, logger logging.Logger) *Recorder {
	return &Recorder{
		metrics: metrics,
		logger:  logging.OrNop(logger),
		pending: make(map[string]pendingApproval),
	}
}

// Watch subscribes to the broadcaster and records every event until the
// returned stop function is called. Stop waits for the drain goroutine
// to finish, so recordings for already published events are never lost.
func (r *Recorder) Watch(b *agent.Broadcaster, buffer int) (stop func()) {
	events, cancel := b.Subscribe(buffer)
	done := make(chan struct{})
	async.Go(r.logger, "metrics-recorder", func() {
		defer close(done)
		for event := range events {
			r.Record(event)
		}
	})
	return func() {
		cancel()
		<-done
	}
}

// Record maps one event onto the collector.
func (r *Recorder) Record(event agent.Event) {
	ctx := context.Background()
	switch event.Type {
	case agent.EventRunStarted:
		r.metrics.RecordRunStarted(ctx)
	case agent.EventIterationStarted:
		r.metrics.RecordIteration(ctx)
	case agent.EventStepAppended:
		r.recordStep(ctx, event)
	case agent.EventApprovalResolved:
		r.resolveApproval(ctx, event)
	case agent.EventRunFinished:
		r.metrics.RecordRunFinished(ctx, string(event.Status))
	}
}

func (r *Recorder) recordStep(ctx context.Context, event agent.Event) {
	step := event.Step
	if step == nil {
		return
	}
	r.metrics.RecordStep(ctx, string(step.Kind))

	switch {
	case step.ToolCall != nil:
		tc := step.ToolCall
		var duration time.Duration
		if tc.Result != nil {
			duration = tc.Result.Duration
		}
		r.metrics.RecordToolCall(ctx, tc.Call.Name, string(tc.Status), duration)
		if tc.Status == types.ToolCallPendingApproval && tc.ApprovalID != "" {
			r.mu.Lock()
			r.pending[tc.ApprovalID] = pendingApproval{tool: tc.Call.Name, requestedAt: event.Time}
			r.mu.Unlock()
		}
	case step.Patch != nil:
		r.metrics.RecordPatch(ctx, string(step.Patch.Outcome))
	}
}

func (r *Recorder) resolveApproval(ctx context.Context, event agent.Event) {
	r.mu.Lock()
	p, ok := r.pending[event.ApprovalID]
	if ok {
		delete(r.pending, event.ApprovalID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	wait := event.Time.Sub(p.requestedAt)
	if wait < 0 {
		wait = 0
	}
	r.metrics.RecordApprovalWait(ctx, event.Resolution, wait)
}
