package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// IngestMetricsMeterName is the name used for the ingestion meter
const IngestMetricsMeterName = "github.com/aviregistry/operator-ingest/ingest"

// Record outcomes counted per source
const (
	OutcomeFetched   = "fetched"
	OutcomeValidated = "validated"
	OutcomeRejected  = "rejected"
	OutcomeUpserted  = "upserted"
	OutcomeFailed    = "failed"
)

// IngestMetrics holds the instruments for ingestion runs. A nil
// *IngestMetrics is valid and records nothing.
type IngestMetrics struct {
	records     metric.Int64Counter
	retries     metric.Int64Counter
	chunks      metric.Int64Counter
	runDuration metric.Float64Histogram
}

// NewIngestMetrics creates the ingestion instruments.
// If provider is nil, it returns nil (no-op metrics).
func NewIngestMetrics(provider metric.MeterProvider) (*IngestMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(IngestMetricsMeterName)

	records, err := meter.Int64Counter(
		"operator_ingest_records_total",
		metric.WithDescription("Records seen per source by pipeline outcome"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter(
		"operator_ingest_source_retries_total",
		metric.WithDescription("Retried source requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	chunks, err := meter.Int64Counter(
		"operator_ingest_chunks_total",
		metric.WithDescription("Delivery chunks by outcome"),
		metric.WithUnit("{chunk}"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"operator_ingest_run_duration_seconds",
		metric.WithDescription("Duration of ingestion runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 1200),
	)
	if err != nil {
		return nil, err
	}

	return &IngestMetrics{
		records:     records,
		retries:     retries,
		chunks:      chunks,
		runDuration: runDuration,
	}, nil
}

// RecordRecords adds count records of the given outcome for a source
func (m *IngestMetrics) RecordRecords(ctx context.Context, source, outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.records.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	))
}

// RecordRetry counts one retried request to a source
func (m *IngestMetrics) RecordRetry(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordChunk counts one delivery chunk. outcome is "succeeded", "partial" or "failed".
func (m *IngestMetrics) RecordChunk(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.chunks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordRunDuration records how long a run took and how it ended
func (m *IngestMetrics) RecordRunDuration(ctx context.Context, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}
