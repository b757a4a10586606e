package sync

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/record-sync/internal/otel"
	"github.com/stacklok/record-sync/internal/record"
	"github.com/stacklok/record-sync/internal/store"
)

// PaginatedSyncer copies the source into the target one page at a time.
//
// Pages are taken in descending ID order. Each request asks for limit+1 records;
// the extra record only signals that another page exists and is never written.
type PaginatedSyncer struct {
	source store.Source
	target store.Target
	tracer trace.Tracer
}

// NewPaginatedSyncer creates a PaginatedSyncer reading from source and writing to target
func NewPaginatedSyncer(source store.Source, target store.Target, opts ...Option) *PaginatedSyncer {
	o := newOptions(opts)
	return &PaginatedSyncer{
		source: source,
		target: target,
		tracer: o.tracer,
	}
}

// SyncPage writes the next page of at most limit records below cursor.BoundaryID.
// On error the caller keeps its previous cursor and may retry the same page.
func (p *PaginatedSyncer) SyncPage(ctx context.Context, limit int, cursor PageCursor) (*PageResult, error) {
	return p.syncPage(ctx, limit, cursor, store.Filter{}, "")
}

// SyncRange is SyncPage restricted to the IDs in r. A cursor without a boundary
// starts at r.Max inclusive.
func (p *PaginatedSyncer) SyncRange(ctx context.Context, limit int, cursor PageCursor, r IDRange) (*PageResult, error) {
	if !r.Min.Valid() || r.Max < r.Min {
		return nil, NewConfigurationError("range", "[%d, %d] is not a valid id range", r.Min, r.Max)
	}
	bounds := store.Filter{IDAtLeast: &r.Min}
	if cursor.BoundaryID == nil {
		bounds.IDAtMost = &r.Max
	}
	return p.syncPage(ctx, limit, cursor, bounds, fmt.Sprintf("%d-%d", r.Min, r.Max))
}

func (p *PaginatedSyncer) syncPage(
	ctx context.Context,
	limit int,
	cursor PageCursor,
	bounds store.Filter,
	partition string,
) (*PageResult, error) {
	if limit <= 0 {
		return nil, NewConfigurationError("limit", "must be positive, got %d", limit)
	}

	attrs := []trace.SpanStartOption{trace.WithAttributes(
		otel.AttrPageSize.Int(limit),
		otel.AttrHasCursor.Bool(cursor.BoundaryID != nil),
	)}
	if partition != "" {
		attrs = append(attrs, trace.WithAttributes(otel.AttrPartition.String(partition)))
	}
	ctx, span := otel.StartSpan(ctx, p.tracer, "sync.SyncPage", attrs...)
	defer span.End()

	bounds.IDBefore = cursor.BoundaryID
	recs, err := p.source.Find(ctx, store.Query{
		Filter: bounds,
		Sort:   store.SortIDDescending,
		Limit:  limit + 1,
	})
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to read page %s: %w", cursor, err)
	}

	hasMore := len(recs) > limit
	if hasMore {
		recs = recs[:limit]
	}

	next := PageCursor{HasMore: hasMore}
	if hasMore {
		boundary, err := nextBoundary(recs, cursor.BoundaryID)
		if err != nil {
			otel.RecordError(span, err)
			return nil, err
		}
		next.BoundaryID = &boundary
		span.SetAttributes(otel.AttrBoundaryID.Int64(int64(boundary)))
	}

	b, err := applyBatch(ctx, p.target, recs)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	otel.SetResult(span, b.stats.Read, b.stats.Written, b.stats.Malformed)
	slog.DebugContext(ctx, "Synced page",
		"cursor", cursor.String(),
		"read", b.stats.Read,
		"written", b.stats.Written,
		"has_more", hasMore)

	return &PageResult{
		Stats:      b.stats,
		Records:    b.written,
		Skipped:    b.skipped,
		NextCursor: next,
	}, nil
}

// nextBoundary returns the lowest valid ID of a full page. The next page is read
// strictly below it, so it must lie strictly below the previous boundary.
func nextBoundary(page []record.Record, previous *record.ID) (record.ID, error) {
	var lowest record.ID
	for _, rec := range page {
		if rec.ID.Valid() && (lowest == 0 || rec.ID < lowest) {
			lowest = rec.ID
		}
	}
	if lowest == 0 {
		return 0, fmt.Errorf("%w: page of %d records has no valid id", ErrCursorStalled, len(page))
	}
	if previous != nil && lowest >= *previous {
		return 0, fmt.Errorf("%w: boundary %d is not below %d", ErrCursorStalled, lowest, *previous)
	}
	return lowest, nil
}
