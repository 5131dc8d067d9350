package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMeterProvider(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return reader, mp
}

// collectMetric returns the named metric from the reader
func collectMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	t.Fatalf("metric %s not found", name)
	return metricdata.Metrics{}
}

func TestNewIngestMetrics_NilProvider(t *testing.T) {
	t.Parallel()

	metrics, err := NewIngestMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, metrics)

	// Should not panic
	ctx := context.Background()
	metrics.RecordRecords(ctx, "faa", OutcomeFetched, 3)
	metrics.RecordRetry(ctx, "faa")
	metrics.RecordChunk(ctx, "failed")
	metrics.RecordRunDuration(ctx, "completed", time.Second)
}

func TestIngestMetrics_RecordRecords(t *testing.T) {
	t.Parallel()

	reader, mp := newTestMeterProvider(t)
	metrics, err := NewIngestMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordRecords(ctx, "faa", OutcomeFetched, 10)
	metrics.RecordRecords(ctx, "faa", OutcomeFetched, 5)
	metrics.RecordRecords(ctx, "faa", OutcomeRejected, 2)
	metrics.RecordRecords(ctx, "easa", OutcomeFetched, 0)

	m := collectMetric(t, reader, "operator_ingest_records_total")
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	got := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		source, _ := dp.Attributes.Value(attribute.Key("source"))
		outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
		got[source.AsString()+"/"+outcome.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"faa/fetched": 15, "faa/rejected": 2}, got)
}

func TestIngestMetrics_RecordRetryAndChunk(t *testing.T) {
	t.Parallel()

	reader, mp := newTestMeterProvider(t)
	metrics, err := NewIngestMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordRetry(ctx, "faa")
	metrics.RecordRetry(ctx, "faa")
	metrics.RecordChunk(ctx, "succeeded")

	retries, ok := collectMetric(t, reader, "operator_ingest_source_retries_total").Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, retries.DataPoints, 1)
	assert.Equal(t, int64(2), retries.DataPoints[0].Value)

	chunks, ok := collectMetric(t, reader, "operator_ingest_chunks_total").Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, chunks.DataPoints, 1)
	assert.Equal(t, int64(1), chunks.DataPoints[0].Value)
}

func TestIngestMetrics_RecordRunDuration(t *testing.T) {
	t.Parallel()

	reader, mp := newTestMeterProvider(t)
	metrics, err := NewIngestMetrics(mp)
	require.NoError(t, err)

	metrics.RecordRunDuration(context.Background(), "partially_failed", 90*time.Second)

	hist, ok := collectMetric(t, reader, "operator_ingest_run_duration_seconds").Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.InDelta(t, 90.0, hist.DataPoints[0].Sum, 0.001)

	status, _ := hist.DataPoints[0].Attributes.Value(attribute.Key("status"))
	assert.Equal(t, "partially_failed", status.AsString())
}
