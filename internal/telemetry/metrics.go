package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the sync metrics meter
	SyncMetricsMeterName = "github.com/stacklok/record-sync/sync"
)

// Record outcomes reported by RecordStats
const (
	OutcomeRead      = "read"
	OutcomeWritten   = "written"
	OutcomeReplaced  = "replaced"
	OutcomeMalformed = "malformed"
)

// CycleCounts carries the per-cycle record counters
type CycleCounts struct {
	Read      int
	Written   int
	Replaced  int
	Malformed int
}

// SyncMetrics holds the OpenTelemetry instruments for sync cycles
type SyncMetrics struct {
	cycleDuration metric.Float64Histogram
	records       metric.Int64Counter
	retries       metric.Int64Counter
	watermark     metric.Int64Gauge
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	cycleDuration, err := meter.Float64Histogram(
		"record_sync_cycle_duration_seconds",
		metric.WithDescription("Duration of sync cycles in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300),
	)
	if err != nil {
		return nil, err
	}

	records, err := meter.Int64Counter(
		"record_sync_records_total",
		metric.WithDescription("Number of records processed by outcome"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter(
		"record_sync_retries_total",
		metric.WithDescription("Number of retried sync attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	watermark, err := meter.Int64Gauge(
		"record_sync_watermark_seconds",
		metric.WithDescription("Current delta sync watermark as a unix timestamp"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		cycleDuration: cycleDuration,
		records:       records,
		retries:       retries,
		watermark:     watermark,
	}, nil
}

// RecordCycle records the duration of one sync cycle
func (m *SyncMetrics) RecordCycle(ctx context.Context, pipeline, phase string, duration time.Duration, success bool) {
	if m == nil || m.cycleDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("pipeline", pipeline),
		attribute.String("phase", phase),
		attribute.Bool("success", success),
	}

	m.cycleDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordStats adds the cycle's record counts to the records counter
func (m *SyncMetrics) RecordStats(ctx context.Context, pipeline, phase string, counts CycleCounts) {
	if m == nil || m.records == nil {
		return
	}

	for outcome, n := range map[string]int{
		OutcomeRead:      counts.Read,
		OutcomeWritten:   counts.Written,
		OutcomeReplaced:  counts.Replaced,
		OutcomeMalformed: counts.Malformed,
	} {
		if n == 0 {
			continue
		}
		m.records.Add(ctx, int64(n), metric.WithAttributes(
			attribute.String("pipeline", pipeline),
			attribute.String("phase", phase),
			attribute.String("outcome", outcome),
		))
	}
}

// RecordRetry counts a failed attempt that will be retried
func (m *SyncMetrics) RecordRetry(ctx context.Context, pipeline string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("pipeline", pipeline)))
}

// RecordWatermark records the pipeline's current watermark
func (m *SyncMetrics) RecordWatermark(ctx context.Context, pipeline string, watermark time.Time) {
	if m == nil || m.watermark == nil || watermark.IsZero() {
		return
	}
	m.watermark.Record(ctx, watermark.Unix(), metric.WithAttributes(attribute.String("pipeline", pipeline)))
}
