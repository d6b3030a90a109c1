package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/md-rashed-zaman/flowrunner/services/worker-service/internal/engine"
)

var _ engine.Metrics = (*OTel)(nil)
var _ engine.Metrics = Nop{}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestOTelInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(mp)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordAttempt(ctx, "wf-1")
	m.RecordAttempt(ctx, "wf-1")
	m.RecordAttempt(ctx, "wf-2")
	m.RecordSuccess(ctx, "wf-1")
	m.RecordFailure(ctx, "wf-2")
	m.RecordDLQ(ctx, "wf-2")
	m.RecordDuration(ctx, "wf-1", 300*time.Millisecond)

	data := collect(t, reader)

	attempts, ok := data["worker_attempts_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	byWF := map[string]int64{}
	for _, dp := range attempts.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("workflow_id"))
		byWF[v.AsString()] = dp.Value
	}
	require.Equal(t, map[string]int64{"wf-1": 2, "wf-2": 1}, byWF)

	for _, name := range []string{"worker_success_total", "worker_failure_total", "worker_dlq_total"} {
		sum, ok := data[name].(metricdata.Sum[int64])
		require.True(t, ok, name)
		require.Len(t, sum.DataPoints, 1, name)
		require.EqualValues(t, 1, sum.DataPoints[0].Value, name)
	}

	hist, ok := data["worker_action_duration_seconds"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	dp := hist.DataPoints[0]
	require.Equal(t, durationBuckets, dp.Bounds)
	require.EqualValues(t, 1, dp.Count)
	require.InDelta(t, 0.3, dp.Sum, 1e-9)
}
