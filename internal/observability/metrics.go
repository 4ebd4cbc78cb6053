package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the instruments recorded over a run's lifecycle. A
// disabled collector has nil instruments and every Record method is a
// no-op.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter

	runsStarted  metric.Int64Counter
	runsFinished metric.Int64Counter
	runsActive   metric.Int64UpDownCounter
	iterations   metric.Int64Counter
	steps        metric.Int64Counter
	toolCalls    metric.Int64Counter
	toolDuration metric.Float64Histogram
	patches      metric.Int64Counter
	approvalWait metric.Float64Histogram
}

// NewMetrics wires the OpenTelemetry meter to a Prometheus exporter.
// Disabled metrics return a collector whose recordings are no-ops.
func NewMetrics(enabled bool) (*Metrics, error) {
	if !enabled {
		return &Metrics{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	return newMetricsFrom(provider)
}

func newMetricsFrom(provider *sdkmetric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(serviceName)

	runsStarted, err := meter.Int64Counter(
		"drover.runs.started.total",
		metric.WithDescription("Total number of runs started"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create runs_started counter: %w", err)
	}

	runsFinished, err := meter.Int64Counter(
		"drover.runs.finished.total",
		metric.WithDescription("Total number of runs reaching a terminal status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create runs_finished counter: %w", err)
	}

	runsActive, err := meter.Int64UpDownCounter(
		"drover.runs.active",
		metric.WithDescription("Number of runs in flight"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create runs_active gauge: %w", err)
	}

	iterations, err := meter.Int64Counter(
		"drover.iterations.total",
		metric.WithDescription("Total iterations begun across all runs"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create iterations counter: %w", err)
	}

	steps, err := meter.Int64Counter(
		"drover.steps.total",
		metric.WithDescription("Total steps appended to runs"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create steps counter: %w", err)
	}

	toolCalls, err := meter.Int64Counter(
		"drover.tool.calls.total",
		metric.WithDescription("Total tool calls by status"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool_calls counter: %w", err)
	}

	toolDuration, err := meter.Float64Histogram(
		"drover.tool.duration",
		metric.WithDescription("Tool execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool_duration histogram: %w", err)
	}

	patches, err := meter.Int64Counter(
		"drover.patch.applies.total",
		metric.WithDescription("Total patch applications by outcome"),
		metric.WithUnit("{patch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create patches counter: %w", err)
	}

	approvalWait, err := meter.Float64Histogram(
		"drover.approval.wait",
		metric.WithDescription("Seconds a parked tool call waited for a decision"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create approval_wait histogram: %w", err)
	}

	return &Metrics{
		provider:     provider,
		meter:        meter,
		runsStarted:  runsStarted,
		runsFinished: runsFinished,
		runsActive:   runsActive,
		iterations:   iterations,
		steps:        steps,
		toolCalls:    toolCalls,
		toolDuration: toolDuration,
		patches:      patches,
		approvalWait: approvalWait,
	}, nil
}

// Handler serves the Prometheus scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// Shutdown flushes pending metric data.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.provider != nil {
		return m.provider.Shutdown(ctx)
	}
	return nil
}

// RecordRunStarted counts a run entering the running state.
func (m *Metrics) RecordRunStarted(ctx context.Context) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.Add(ctx, 1)
	m.runsActive.Add(ctx, 1)
}

// RecordRunFinished counts a run reaching a terminal status.
func (m *Metrics) RecordRunFinished(ctx context.Context, status string) {
	if m.runsFinished == nil {
		return
	}
	m.runsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.runsActive.Add(ctx, -1)
}

// RecordIteration counts an iteration rollover.
func (m *Metrics) RecordIteration(ctx context.Context) {
	if m.iterations == nil {
		return
	}
	m.iterations.Add(ctx, 1)
}

// RecordStep counts an appended step by kind.
func (m *Metrics) RecordStep(ctx context.Context, kind string) {
	if m.steps == nil {
		return
	}
	m.steps.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordToolCall counts a tool call and, when it actually ran, its
// duration.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, duration time.Duration) {
	if m.toolCalls == nil {
		return
	}
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	))
	if duration > 0 {
		m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("tool", tool)))
	}
}

// RecordPatch counts a patch application by outcome.
func (m *Metrics) RecordPatch(ctx context.Context, outcome string) {
	if m.patches == nil {
		return
	}
	m.patches.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordApprovalWait records how long a parked call waited.
func (m *Metrics) RecordApprovalWait(ctx context.Context, resolution string, wait time.Duration) {
	if m.approvalWait == nil {
		return
	}
	m.approvalWait.Record(ctx, wait.Seconds(), metric.WithAttributes(attribute.String("resolution", resolution)))
}
