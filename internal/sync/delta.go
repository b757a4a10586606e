package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/record-sync/internal/otel"
	"github.com/stacklok/record-sync/internal/store"
)

// DeltaSyncer replays the source records changed since a watermark.
//
// Only records whose UpdatedAt moves on a write are detected. Records deleted from
// the source are never seen and stay in the target.
type DeltaSyncer struct {
	source store.Source
	target store.Target
	tracer trace.Tracer
}

// NewDeltaSyncer creates a DeltaSyncer reading from source and writing to target
func NewDeltaSyncer(source store.Source, target store.Target, opts ...Option) *DeltaSyncer {
	o := newOptions(opts)
	return &DeltaSyncer{
		source: source,
		target: target,
		tracer: o.tracer,
	}
}

// SyncSince upserts every source record updated after watermark-overlap.
//
// The overlap re-reads a window below the watermark so that writes committed late,
// or stamped by a clock running behind, are still picked up. Records inside the
// window are written again; upserts make that harmless.
// On error the caller keeps its previous watermark.
func (d *DeltaSyncer) SyncSince(ctx context.Context, watermark time.Time, overlap time.Duration) (*DeltaResult, error) {
	if overlap < 0 {
		return nil, NewConfigurationError("overlapWindow", "must not be negative, got %s", overlap)
	}

	ctx, span := otel.StartSpan(ctx, d.tracer, "sync.SyncSince",
		trace.WithAttributes(otel.Watermark(watermark)))
	defer span.End()

	since := watermark.Add(-overlap)
	recs, err := d.source.Find(ctx, store.Query{
		Filter: store.Filter{UpdatedAfter: &since},
		Sort:   store.SortIDAscending,
	})
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to read records updated after %s: %w", since.Format(time.RFC3339Nano), err)
	}

	b, err := applyBatch(ctx, d.target, recs)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	newWatermark := watermark
	for _, rec := range b.written {
		if rec.UpdatedAt.After(newWatermark) {
			newWatermark = rec.UpdatedAt
		}
	}

	otel.SetResult(span, b.stats.Read, b.stats.Written, b.stats.Malformed)
	if b.stats.Read > 0 {
		slog.DebugContext(ctx, "Synced delta window",
			"since", since,
			"changed", b.stats.Written,
			"watermark", newWatermark)
	}

	return &DeltaResult{
		Stats:        b.stats,
		Changed:      b.written,
		Skipped:      b.skipped,
		NewWatermark: newWatermark,
	}, nil
}
