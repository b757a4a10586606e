package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/record-sync/internal/record"
	"github.com/stacklok/record-sync/internal/store"
)

// TracerName is the instrumentation scope of the syncer spans
const TracerName = "github.com/stacklok/record-sync/internal/sync"

// Option configures a PaginatedSyncer or a DeltaSyncer
type Option func(*options)

type options struct {
	tracer trace.Tracer
}

// WithTracer enables a span per page and per delta window
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// batch is the outcome of writing one slice of source records to the target
type batch struct {
	stats   Stats
	written []record.Record
	skipped []*record.MalformedRecordError
}

// applyBatch validates and upserts recs in order. Malformed records are skipped and
// reported; the first failed write aborts the batch. Records written before the
// failure stay written, which is safe because every write is an upsert by ID.
func applyBatch(ctx context.Context, target store.Target, recs []record.Record) (*batch, error) {
	b := &batch{
		stats:   Stats{Read: len(recs)},
		written: make([]record.Record, 0, len(recs)),
	}

	for _, rec := range recs {
		if err := rec.Validate(); err != nil {
			var malformed *record.MalformedRecordError
			if errors.As(err, &malformed) {
				slog.WarnContext(ctx, "Skipping malformed record",
					"id", rec.ID,
					"reason", malformed.Reason)
				b.skipped = append(b.skipped, malformed)
				b.stats.Malformed++
				continue
			}
			return nil, err
		}

		replaced, err := target.Upsert(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert record %d: %w", rec.ID, err)
		}
		b.written = append(b.written, rec)
		b.stats.Written++
		if replaced {
			b.stats.Replaced++
		}
	}

	return b, nil
}
