package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/record-sync/internal/otel"
	"github.com/stacklok/record-sync/internal/record"
	"github.com/stacklok/record-sync/internal/status"
	"github.com/stacklok/record-sync/internal/store"
	pkgsync "github.com/stacklok/record-sync/internal/sync"
	"github.com/stacklok/record-sync/internal/telemetry"
)

const (
	phaseLabelFull  = "full"
	phaseLabelDelta = "delta"
)

// fullSyncSession is the in-memory progress of a full sync. It survives failed
// cycles so the next cycle resumes at the page that failed, and is dropped on
// completion, on a stalled cursor, or when the process exits.
type fullSyncSession struct {
	startedAt  time.Time
	partitions []*partitionProgress
}

type partitionProgress struct {
	// idRange is nil for an unpartitioned sync
	idRange *pkgsync.IDRange
	cursor  pkgsync.PageCursor
	done    bool
	stats   pkgsync.Stats
}

func (s *fullSyncSession) stats() pkgsync.Stats {
	var total pkgsync.Stats
	for _, p := range s.partitions {
		total.Add(p.stats)
	}
	return total
}

// runCycle runs one full or delta cycle. Only configuration errors are returned;
// every other failure is logged, recorded in the status and retried next cycle.
func (c *defaultCoordinator) runCycle(ctx context.Context) error {
	if !c.guard.TryAcquire(1) {
		slog.DebugContext(ctx, "Sync cycle already running, skipping", "pipeline", c.settings.pipeline)
		return nil
	}
	defer c.guard.Release(1)

	if ctx.Err() != nil || !c.initialize(ctx) {
		return nil
	}

	current, err := c.statusSvc.GetSyncStatus(ctx, c.settings.pipeline)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load sync status",
			"pipeline", c.settings.pipeline,
			"error", err)
		return nil
	}

	if current.NeedsFullSync() {
		err = c.runFullSync(ctx, current)
	} else {
		err = c.runDeltaSync(ctx, current)
	}

	if pkgsync.IsConfigurationError(err) {
		return err
	}
	return nil
}

func (c *defaultCoordinator) runFullSync(ctx context.Context, current *status.SyncStatus) error {
	pipeline := c.settings.pipeline
	cycleStart := c.now()

	ctx, span := otel.StartSpan(ctx, c.tracer, "coordinator.FullSync",
		trace.WithAttributes(otel.AttrPipeline.String(pipeline), otel.AttrPhase.String(phaseLabelFull)))
	defer span.End()

	session := c.currentSession()
	if session == nil {
		var err error
		session, err = c.newSession(ctx)
		if err != nil {
			otel.RecordError(span, err)
			c.recordFailure(ctx, phaseLabelFull, cycleStart, err)
			return err
		}
		c.mu.Lock()
		c.resyncPending = false
		c.mu.Unlock()
		slog.InfoContext(ctx, "Starting full sync",
			"pipeline", pipeline,
			"partitions", len(session.partitions),
			"requested", current.FullSyncRequested)
	} else {
		slog.InfoContext(ctx, "Resuming full sync", "pipeline", pipeline)
	}
	c.setSession(session)

	startedAt := session.startedAt
	if _, err := c.statusSvc.UpdateStatusAtomically(ctx, pipeline, func(s *status.SyncStatus) bool {
		now := c.now()
		s.Phase = status.SyncPhaseFullSync
		s.Message = "Full sync in progress"
		s.FullSyncStartedAt = &startedAt
		s.LastAttempt = &now
		return true
	}); err != nil {
		slog.WarnContext(ctx, "Failed to persist full sync start", "pipeline", pipeline, "error", err)
	}
	c.setPhase(status.SyncPhaseFullSync)

	err := c.copyPartitions(ctx, session)
	stats := session.stats()
	if err != nil && ctx.Err() != nil {
		slog.InfoContext(ctx, "Full sync interrupted",
			"pipeline", pipeline,
			"written", stats.Written)
		return nil
	}
	if err != nil {
		otel.RecordError(span, err)
		if errors.Is(err, pkgsync.ErrCursorStalled) {
			// restarting from the top is the only way out of a stalled cursor
			c.setSession(nil)
		}
		c.recordFailure(ctx, phaseLabelFull, cycleStart, err)
		return err
	}

	// the copy is finished, so its result is recorded even when a stop is under way
	persistCtx := context.WithoutCancel(ctx)
	rerun := false
	_, err = c.statusSvc.UpdateStatusAtomically(persistCtx, pipeline, func(s *status.SyncStatus) bool {
		now := c.now()
		rerun = c.isResyncPending()
		s.Phase = status.SyncPhaseSteadyState
		s.Message = fmt.Sprintf("Full sync completed: %d records written", stats.Written)
		s.FullSyncCompleted = true
		s.FullSyncRequested = rerun
		s.AdvanceWatermark(startedAt)
		s.LastSyncTime = &now
		s.AttemptCount = 0
		s.RecordsWritten += int64(stats.Written)
		return true
	})
	if err != nil {
		// the session is kept with every partition done, so the next cycle only
		// records the completion
		otel.RecordError(span, err)
		c.recordFailure(ctx, phaseLabelFull, cycleStart, err)
		return err
	}

	c.setSession(nil)
	c.setPhase(status.SyncPhaseSteadyState)
	c.syncMetrics.RecordCycle(ctx, pipeline, phaseLabelFull, c.now().Sub(cycleStart), true)
	c.syncMetrics.RecordStats(ctx, pipeline, phaseLabelFull, counts(stats))
	c.recordWatermark(ctx)

	slog.InfoContext(ctx, "Full sync completed",
		"pipeline", pipeline,
		"read", stats.Read,
		"written", stats.Written,
		"replaced", stats.Replaced,
		"malformed", stats.Malformed,
		"duration", c.now().Sub(startedAt),
		"resync_pending", rerun)
	return nil
}

// newSession starts a full sync at the current time. With more than one partition,
// the ID span present at this moment is split into disjoint ranges. Records inserted
// later carry an UpdatedAt after the start time and are picked up by delta sync.
func (c *defaultCoordinator) newSession(ctx context.Context) (*fullSyncSession, error) {
	session := &fullSyncSession{startedAt: c.now()}

	if c.settings.partitions <= 1 {
		session.partitions = []*partitionProgress{{}}
		return session, nil
	}

	bounds, err := c.idBounds(ctx)
	if err != nil {
		return nil, err
	}
	if bounds == nil {
		session.partitions = []*partitionProgress{{}}
		return session, nil
	}

	for _, r := range splitRange(*bounds, c.settings.partitions) {
		session.partitions = append(session.partitions, &partitionProgress{idRange: &r})
	}
	return session, nil
}

// idBounds returns the lowest and highest valid source IDs, or nil for an empty source
func (c *defaultCoordinator) idBounds(ctx context.Context) (*pkgsync.IDRange, error) {
	edge := func(sort store.SortOrder) (record.ID, error) {
		recs, err := retry(ctx, c, func() ([]record.Record, error) {
			recs, err := c.source.Find(ctx, store.Query{Sort: sort, Limit: 1})
			return recs, classify(err)
		})
		if err != nil || len(recs) == 0 {
			return 0, err
		}
		return recs[0].ID, nil
	}

	lowest, err := edge(store.SortIDAscending)
	if err != nil {
		return nil, fmt.Errorf("failed to read lowest id: %w", err)
	}
	highest, err := edge(store.SortIDDescending)
	if err != nil {
		return nil, fmt.Errorf("failed to read highest id: %w", err)
	}
	if !highest.Valid() {
		return nil, nil
	}

	return &pkgsync.IDRange{Min: max(1, lowest), Max: highest}, nil
}

// copyPartitions drives every unfinished partition to exhaustion. Partitions run
// concurrently; pages within a partition run in order.
func (c *defaultCoordinator) copyPartitions(ctx context.Context, session *fullSyncSession) error {
	if len(session.partitions) == 1 {
		return c.copyPartition(ctx, session.partitions[0])
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range session.partitions {
		if p.done {
			continue
		}
		g.Go(func() error {
			return c.copyPartition(gctx, p)
		})
	}
	return g.Wait()
}

func (c *defaultCoordinator) copyPartition(ctx context.Context, p *partitionProgress) error {
	limit := c.settings.batchSize
	// pages run to completion once started; cancellation is checked between pages
	pageCtx := context.WithoutCancel(ctx)

	for !p.done {
		if err := ctx.Err(); err != nil {
			return err
		}

		cursor := p.cursor
		res, err := retry(ctx, c, func() (*pkgsync.PageResult, error) {
			var (
				res *pkgsync.PageResult
				err error
			)
			if p.idRange == nil {
				res, err = c.paginated.SyncPage(pageCtx, limit, cursor)
			} else {
				res, err = c.paginated.SyncRange(pageCtx, limit, cursor, *p.idRange)
			}
			return res, classify(err)
		})
		if err != nil {
			return err
		}

		p.stats.Add(res.Stats)
		p.cursor = res.NextCursor
		p.done = !res.NextCursor.HasMore
	}
	return nil
}

func (c *defaultCoordinator) runDeltaSync(ctx context.Context, current *status.SyncStatus) error {
	pipeline := c.settings.pipeline
	cycleStart := c.now()
	watermark := current.WatermarkOrZero()

	ctx, span := otel.StartSpan(ctx, c.tracer, "coordinator.DeltaSync",
		trace.WithAttributes(otel.AttrPipeline.String(pipeline), otel.AttrPhase.String(phaseLabelDelta)))
	defer span.End()

	c.setPhase(status.SyncPhaseSteadyState)

	deltaCtx := context.WithoutCancel(ctx)
	res, err := retry(ctx, c, func() (*pkgsync.DeltaResult, error) {
		res, err := c.delta.SyncSince(deltaCtx, watermark, c.settings.overlap)
		return res, classify(err)
	})
	if err != nil {
		otel.RecordError(span, err)
		c.recordFailure(ctx, phaseLabelDelta, cycleStart, err)
		return err
	}

	_, err = c.statusSvc.UpdateStatusAtomically(context.WithoutCancel(ctx), pipeline, func(s *status.SyncStatus) bool {
		now := c.now()
		s.Phase = status.SyncPhaseSteadyState
		s.Message = fmt.Sprintf("Delta sync completed: %d records written", res.Written)
		s.AdvanceWatermark(res.NewWatermark)
		s.LastSyncTime = &now
		s.AttemptCount = 0
		s.RecordsWritten += int64(res.Written)
		return true
	})
	if err != nil {
		otel.RecordError(span, err)
		c.recordFailure(ctx, phaseLabelDelta, cycleStart, err)
		return err
	}

	c.syncMetrics.RecordCycle(ctx, pipeline, phaseLabelDelta, c.now().Sub(cycleStart), true)
	c.syncMetrics.RecordStats(ctx, pipeline, phaseLabelDelta, counts(res.Stats))
	c.recordWatermark(ctx)

	if res.Read > 0 {
		slog.InfoContext(ctx, "Delta sync completed",
			"pipeline", pipeline,
			"read", res.Read,
			"written", res.Written,
			"malformed", res.Malformed,
			"watermark", res.NewWatermark)
	}
	return nil
}

// recordFailure stores the failure in the status and metrics. The cursor and the
// watermark are left where they were.
func (c *defaultCoordinator) recordFailure(ctx context.Context, phase string, cycleStart time.Time, cause error) {
	pipeline := c.settings.pipeline
	slog.ErrorContext(ctx, "Sync cycle failed",
		"pipeline", pipeline,
		"phase", phase,
		"error", cause)

	c.syncMetrics.RecordCycle(ctx, pipeline, phase, c.now().Sub(cycleStart), false)

	// the failure must be recorded even when the cycle was cancelled
	ctx = context.WithoutCancel(ctx)
	if _, err := c.statusSvc.UpdateStatusAtomically(ctx, pipeline, func(s *status.SyncStatus) bool {
		now := c.now()
		s.Message = fmt.Sprintf("%s sync failed: %v", phase, cause)
		s.LastAttempt = &now
		s.AttemptCount++
		return true
	}); err != nil {
		slog.ErrorContext(ctx, "Error updating sync status",
			"pipeline", pipeline,
			"error", err)
	}
}

func (c *defaultCoordinator) recordWatermark(ctx context.Context) {
	current, err := c.statusSvc.GetSyncStatus(ctx, c.settings.pipeline)
	if err != nil {
		return
	}
	c.syncMetrics.RecordWatermark(ctx, c.settings.pipeline, current.WatermarkOrZero())
}

func (c *defaultCoordinator) currentSession() *fullSyncSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *defaultCoordinator) setSession(s *fullSyncSession) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

func (c *defaultCoordinator) isResyncPending() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resyncPending
}

// retry runs op with exponential backoff. Errors marked permanent by classify
// are returned at once.
func retry[T any](ctx context.Context, c *defaultCoordinator, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(c.settings.backOff()),
		backoff.WithMaxTries(c.settings.maxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.syncMetrics.RecordRetry(ctx, c.settings.pipeline)
			slog.WarnContext(ctx, "Retrying sync operation",
				"pipeline", c.settings.pipeline,
				"error", err,
				"next_attempt_in", next)
		}),
	)
}

// classify marks every error that is not a transient store failure as permanent
func classify(err error) error {
	if err == nil || store.IsTransient(err) {
		return err
	}
	return backoff.Permanent(err)
}

func counts(s pkgsync.Stats) telemetry.CycleCounts {
	return telemetry.CycleCounts{
		Read:      s.Read,
		Written:   s.Written,
		Replaced:  s.Replaced,
		Malformed: s.Malformed,
	}
}
