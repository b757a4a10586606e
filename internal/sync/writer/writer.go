// Package writer decorates a target store so that every record the sync engine
// writes is also published as a structured event.
package writer

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/record-sync/internal/record"
	"github.com/stacklok/record-sync/internal/store"
)

//go:generate mockgen -destination=mocks/mock_sink.go -package=mocks -source=writer.go Sink

// Action tells whether a write created or replaced the target record
type Action string

const (
	// ActionInserted means the record ID was new to the target
	ActionInserted Action = "inserted"
	// ActionReplaced means an existing target record was overwritten
	ActionReplaced Action = "replaced"
)

// Event describes one record written to the target
type Event struct {
	ID        uuid.UUID
	Pipeline  string
	RecordID  record.ID
	Action    Action
	UpdatedAt time.Time
	EmittedAt time.Time
}

// Sink receives write events
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// LogSink writes each event as one structured log line
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink logging to logger, or to slog.Default when nil
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Emit implements Sink
func (l *LogSink) Emit(ctx context.Context, event Event) {
	l.logger.InfoContext(ctx, "Record written",
		"event_id", event.ID.String(),
		"pipeline", event.Pipeline,
		"record_id", event.RecordID,
		"action", string(event.Action),
		"updated_at", event.UpdatedAt)
}

// EventTarget is a store.Target that emits an Event after each successful upsert
type EventTarget struct {
	next     store.Target
	sink     Sink
	pipeline string
	now      func() time.Time
}

var _ store.Target = (*EventTarget)(nil)

// NewEventTarget wraps next, sending one event per written record to sink
func NewEventTarget(next store.Target, sink Sink, pipeline string) *EventTarget {
	return &EventTarget{
		next:     next,
		sink:     sink,
		pipeline: pipeline,
		now:      time.Now,
	}
}

// Upsert writes rec to the wrapped target. Failed writes emit nothing.
func (e *EventTarget) Upsert(ctx context.Context, rec record.Record) (bool, error) {
	replaced, err := e.next.Upsert(ctx, rec)
	if err != nil {
		return false, err
	}

	action := ActionInserted
	if replaced {
		action = ActionReplaced
	}
	e.sink.Emit(ctx, Event{
		ID:        uuid.New(),
		Pipeline:  e.pipeline,
		RecordID:  rec.ID,
		Action:    action,
		UpdatedAt: rec.UpdatedAt,
		EmittedAt: e.now(),
	})
	return replaced, nil
}
