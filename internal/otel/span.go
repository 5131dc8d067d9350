// Package otel holds span helpers shared by the ingestion pipeline.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys
const (
	AttrRunID       = attribute.Key("ingest.run_id")
	AttrRunStatus   = attribute.Key("ingest.run_status")
	AttrSourceName  = attribute.Key("ingest.source.name")
	AttrSourceType  = attribute.Key("ingest.source.type")
	AttrFetched     = attribute.Key("ingest.source.fetched")
	AttrChunkIndex  = attribute.Key("delivery.chunk.index")
	AttrRecordCount = attribute.Key("delivery.chunk.records")
)

// StartSpan starts a span on tracer. A nil tracer yields the span already in
// ctx, which is a no-op span when there is none.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err on span and marks it failed. The status description
// stays generic so source URLs and credentials never end up in it; the error
// itself is kept in the span event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}

// EndSpan records err, if any, and ends span
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	RecordError(span, err)
	span.End()
}
