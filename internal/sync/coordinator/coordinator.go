package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/stacklok/record-sync/internal/config"
	"github.com/stacklok/record-sync/internal/status"
	pkgsync "github.com/stacklok/record-sync/internal/sync"
	"github.com/stacklok/record-sync/internal/store"
	"github.com/stacklok/record-sync/internal/sync/state"
	"github.com/stacklok/record-sync/internal/telemetry"
)

//go:generate mockgen -destination=mocks/mock_coordinator.go -package=mocks -source=coordinator.go Coordinator

// Coordinator drives the sync state machine of one pipeline
type Coordinator interface {
	// Start runs the sync loop. It blocks until the context is cancelled, Stop is
	// called, or the configuration turns out to be unusable.
	Start(ctx context.Context) error

	// Stop gracefully stops the loop, waiting for the cycle in flight
	Stop() error

	// RequestFullSync schedules a full sync for the next cycle and wakes the loop.
	// The watermark is kept; a completed resync never lowers it.
	RequestFullSync(ctx context.Context) error

	// Phase returns the current phase of the state machine
	Phase() status.SyncPhase
}

// defaultCoordinator is the default implementation of Coordinator
type defaultCoordinator struct {
	source    store.Source
	settings  settings
	statusSvc state.StateService

	paginated *pkgsync.PaginatedSyncer
	delta     *pkgsync.DeltaSyncer

	// guard admits a single cycle at a time, so full and delta sync never overlap
	guard   *semaphore.Weighted
	trigger chan struct{}

	mu      gosync.RWMutex
	phase   status.SyncPhase
	session *fullSyncSession
	// resyncPending is set by a request that arrives while a full sync is running
	resyncPending bool

	// initialized is only touched while holding guard
	initialized bool

	// Lifecycle management
	cancelFunc context.CancelFunc
	done       chan struct{}

	tracer      trace.Tracer
	syncMetrics *telemetry.SyncMetrics
	now         func() time.Time
}

// Option is a function that configures the coordinator
type Option func(*defaultCoordinator)

// WithSyncMetrics sets the sync metrics for the coordinator
func WithSyncMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(c *defaultCoordinator) {
		c.syncMetrics = metrics
	}
}

// WithTracer traces every cycle, page and delta window
func WithTracer(tracer trace.Tracer) Option {
	return func(c *defaultCoordinator) {
		c.tracer = tracer
	}
}

// WithClock sets the clock used for the full-sync start time and status timestamps
func WithClock(now func() time.Time) Option {
	return func(c *defaultCoordinator) {
		c.now = now
	}
}

// New creates a coordinator syncing source into target
func New(
	source store.Source,
	target store.Target,
	statusSvc state.StateService,
	cfg *config.Config,
	opts ...Option,
) Coordinator {
	c := &defaultCoordinator{
		source:    source,
		settings:  newSettings(cfg),
		statusSvc: statusSvc,
		guard:     semaphore.NewWeighted(1),
		trigger:   make(chan struct{}, 1),
		phase:     status.SyncPhaseUninitialized,
		done:      make(chan struct{}),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	syncOpts := []pkgsync.Option{pkgsync.WithTracer(c.tracer)}
	c.paginated = pkgsync.NewPaginatedSyncer(source, target, syncOpts...)
	c.delta = pkgsync.NewDeltaSyncer(source, target, syncOpts...)

	return c
}

// Start begins the sync loop
func (c *defaultCoordinator) Start(ctx context.Context) error {
	pipeline := c.settings.pipeline
	if err := c.settings.validate(); err != nil {
		close(c.done)
		return err
	}

	slog.Info("Starting sync coordinator",
		"pipeline", pipeline,
		"batch_size", c.settings.batchSize,
		"poll_interval", c.settings.pollInterval,
		"overlap_window", c.settings.overlap,
		"partitions", c.settings.partitions)

	coordCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelFunc = cancel
	c.mu.Unlock()
	defer func() {
		cancel()
		close(c.done)
		slog.Info("Sync coordinator shutting down", "pipeline", pipeline)
	}()

	if err := c.runCycle(coordCtx); err != nil {
		return err
	}

	timer := time.NewTimer(c.settings.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
		case <-c.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-coordCtx.Done():
			slog.Info("Sync coordinator stopping", "pipeline", pipeline)
			return nil
		}

		if err := c.runCycle(coordCtx); err != nil {
			return err
		}
		// fixed delay: the next cycle is scheduled from the end of this one
		timer.Reset(c.settings.nextInterval())
	}
}

// Stop gracefully stops the coordinator
func (c *defaultCoordinator) Stop() error {
	c.mu.RLock()
	cancel := c.cancelFunc
	c.mu.RUnlock()

	if cancel != nil {
		slog.Info("Stopping sync coordinator", "pipeline", c.settings.pipeline)
		cancel()
		<-c.done
	}
	return nil
}

// RequestFullSync flags the pipeline for a full sync and wakes the loop
func (c *defaultCoordinator) RequestFullSync(ctx context.Context) error {
	pipeline := c.settings.pipeline

	// a full sync already under way keeps the request for one more run
	c.mu.Lock()
	if c.session != nil {
		c.resyncPending = true
	}
	c.mu.Unlock()

	changed, err := c.statusSvc.UpdateStatusAtomically(ctx, pipeline, func(s *status.SyncStatus) bool {
		if s.FullSyncRequested {
			return false
		}
		s.FullSyncRequested = true
		s.Message = "Full sync requested"
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to request full sync: %w", err)
	}

	if changed {
		slog.InfoContext(ctx, "Full sync requested", "pipeline", pipeline)
	}

	select {
	case c.trigger <- struct{}{}:
	default:
	}
	return nil
}

// Phase returns the current phase
func (c *defaultCoordinator) Phase() status.SyncPhase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// initialize registers the pipeline with the state service and adopts its persisted
// phase. Until it succeeds every cycle starts by trying again.
func (c *defaultCoordinator) initialize(ctx context.Context) bool {
	if c.initialized {
		return true
	}

	pipeline := c.settings.pipeline
	if err := c.statusSvc.Initialize(ctx, []string{pipeline}); err != nil {
		slog.ErrorContext(ctx, "Failed to initialize sync status",
			"pipeline", pipeline,
			"error", err)
		return false
	}
	current, err := c.statusSvc.GetSyncStatus(ctx, pipeline)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load sync status",
			"pipeline", pipeline,
			"error", err)
		return false
	}

	c.setPhase(current.Phase)
	c.initialized = true
	return true
}

func (c *defaultCoordinator) setPhase(phase status.SyncPhase) {
	if phase == "" {
		phase = status.SyncPhaseUninitialized
	}

	c.mu.Lock()
	previous := c.phase
	c.phase = phase
	c.mu.Unlock()

	if previous != phase {
		slog.Info("Sync phase changed",
			"pipeline", c.settings.pipeline,
			"from", string(previous),
			"to", string(phase))
	}
}
