// Package metrics implements the engine's observability port on the
// OpenTelemetry metric API.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/md-rashed-zaman/flowrunner/worker"

var durationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

type OTel struct {
	attempts metric.Int64Counter
	success  metric.Int64Counter
	failure  metric.Int64Counter
	dlq      metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates the worker instruments once; call it at startup.
func New(mp metric.MeterProvider) (*OTel, error) {
	meter := mp.Meter(meterName)
	m := &OTel{}
	var err error

	if m.attempts, err = meter.Int64Counter("worker_attempts_total",
		metric.WithDescription("Total action attempts"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, err
	}
	if m.success, err = meter.Int64Counter("worker_success_total",
		metric.WithDescription("Total successful executions"),
		metric.WithUnit("{execution}"),
	); err != nil {
		return nil, err
	}
	if m.failure, err = meter.Int64Counter("worker_failure_total",
		metric.WithDescription("Total failed executions"),
		metric.WithUnit("{execution}"),
	); err != nil {
		return nil, err
	}
	if m.dlq, err = meter.Int64Counter("worker_dlq_total",
		metric.WithDescription("Total executions moved to DLQ"),
		metric.WithUnit("{execution}"),
	); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("worker_action_duration_seconds",
		metric.WithDescription("Action execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	return m, nil
}

func byWorkflow(workflowID string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("workflow_id", workflowID))
}

func (m *OTel) RecordAttempt(ctx context.Context, workflowID string) {
	m.attempts.Add(ctx, 1, byWorkflow(workflowID))
}

func (m *OTel) RecordSuccess(ctx context.Context, workflowID string) {
	m.success.Add(ctx, 1, byWorkflow(workflowID))
}

func (m *OTel) RecordFailure(ctx context.Context, workflowID string) {
	m.failure.Add(ctx, 1, byWorkflow(workflowID))
}

func (m *OTel) RecordDLQ(ctx context.Context, workflowID string) {
	m.dlq.Add(ctx, 1, byWorkflow(workflowID))
}

func (m *OTel) RecordDuration(ctx context.Context, workflowID string, d time.Duration) {
	m.duration.Record(ctx, d.Seconds(), byWorkflow(workflowID))
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordAttempt(context.Context, string)                 {}
func (Nop) RecordSuccess(context.Context, string)                 {}
func (Nop) RecordFailure(context.Context, string)                 {}
func (Nop) RecordDLQ(context.Context, string)                     {}
func (Nop) RecordDuration(context.Context, string, time.Duration) {}
