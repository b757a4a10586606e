// Package state persists the per-pipeline sync status the orchestrator resumes from.
package state

import (
	"context"
	"errors"
	"log/slog"

	"github.com/stacklok/record-sync/internal/status"
)

// ErrPipelineNotFound is returned when a pipeline has no stored status.
var ErrPipelineNotFound = errors.New("pipeline not found")

// StateService provides methods for inspecting and updating the sync state of pipelines.
//
//go:generate mockgen -destination=mocks/mock_state_service.go -package=mocks github.com/stacklok/record-sync/internal/sync/state StateService
//nolint:revive // This name is fine
type StateService interface {
	// Initialize loads or creates the status of each pipeline.
	// It is intended to be called once at startup.
	Initialize(ctx context.Context, pipelines []string) error
	// ListSyncStatuses lists all available sync statuses.
	ListSyncStatuses(ctx context.Context) (map[string]*status.SyncStatus, error)
	// GetSyncStatus returns the status of the named pipeline, or ErrPipelineNotFound.
	GetSyncStatus(ctx context.Context, pipeline string) (*status.SyncStatus, error)
	// UpdateSyncStatus replaces the status of the named pipeline.
	// The stored watermark is never moved backwards.
	UpdateSyncStatus(ctx context.Context, pipeline string, syncStatus *status.SyncStatus) error
	// UpdateStatusAtomically fetches the current status, applies testAndUpdateFn
	// and stores the result if the function reports a change, as a single
	// atomic action. It returns whether the status was modified.
	UpdateStatusAtomically(
		ctx context.Context,
		pipeline string,
		testAndUpdateFn func(syncStatus *status.SyncStatus) bool,
	) (bool, error)
}

// initialStatus normalizes a status loaded at startup.
// A status that was never saved becomes Uninitialized. A status left in
// FullSync by a previous process is reset, since that full sync did not finish.
// It reports whether the status changed and must be persisted.
func initialStatus(ctx context.Context, pipeline string, loaded *status.SyncStatus) (*status.SyncStatus, bool) {
	if loaded == nil || loaded.Phase == "" {
		slog.InfoContext(ctx, "No previous sync status found, initializing", "pipeline", pipeline)
		s := &status.SyncStatus{}
		if loaded != nil {
			s = loaded.Clone()
		}
		s.Phase = status.SyncPhaseUninitialized
		s.Message = "No previous sync status found"
		return s, true
	}

	if loaded.Phase == status.SyncPhaseFullSync {
		slog.WarnContext(ctx, "Previous full sync was interrupted, it will restart", "pipeline", pipeline)
		s := loaded.Clone()
		s.Phase = status.SyncPhaseUninitialized
		s.Message = "Previous full sync was interrupted"
		return s, true
	}

	slog.InfoContext(ctx, "Loaded sync status",
		"pipeline", pipeline,
		"phase", loaded.Phase,
		"full_sync_completed", loaded.FullSyncCompleted,
		"watermark", loaded.WatermarkOrZero(),
	)
	return loaded, false
}

// keepWatermark carries prev's watermark into next when next would move it backwards
func keepWatermark(prev, next *status.SyncStatus) {
	if prev == nil || prev.Watermark == nil {
		return
	}
	next.AdvanceWatermark(*prev.Watermark)
}
