// Package otel provides OpenTelemetry instrumentation utilities for the sync engine.
package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by every span the engine emits.
const (
	AttrPipeline    = attribute.Key("sync.pipeline")
	AttrPhase       = attribute.Key("sync.phase")
	AttrPageSize    = attribute.Key("pagination.limit")
	AttrHasCursor   = attribute.Key("pagination.has_cursor")
	AttrBoundaryID  = attribute.Key("pagination.boundary_id")
	AttrPartition   = attribute.Key("pagination.partition")
	AttrResultCount = attribute.Key("result.count")
	AttrWritten     = attribute.Key("result.written")
	AttrMalformed   = attribute.Key("result.malformed")
	AttrWatermark   = attribute.Key("sync.watermark")
	AttrStoreType   = attribute.Key("store.type")
)

// StartSpan starts a new span if the tracer is non-nil, otherwise returns a no-op span.
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

// RecordError records an error on a span and sets the span status to error.
// The status description stays generic so store errors (which may carry SQL or
// connection strings) only appear in span events.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}

// SetResult records the outcome counts of a page or delta window
func SetResult(span trace.Span, read, written, malformed int) {
	span.SetAttributes(
		AttrResultCount.Int(read),
		AttrWritten.Int(written),
		AttrMalformed.Int(malformed),
	)
}

// Watermark is the AttrWatermark attribute for t, in UTC with nanoseconds
func Watermark(t time.Time) attribute.KeyValue {
	return AttrWatermark.String(t.UTC().Format(time.RFC3339Nano))
}
