package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/stacklok/record-sync/internal/status"
)

// fileStateService keeps statuses in memory and writes every change through
// to a StatusPersistence (local files or S3 objects).
type fileStateService struct {
	statusPersistence status.StatusPersistence

	mu             sync.RWMutex
	cachedStatuses map[string]*status.SyncStatus
}

// NewFileStateService creates a state service over the given status persistence
func NewFileStateService(statusPersistence status.StatusPersistence) StateService {
	return &fileStateService{
		statusPersistence: statusPersistence,
		cachedStatuses:    make(map[string]*status.SyncStatus),
	}
}

func (f *fileStateService) Initialize(ctx context.Context, pipelines []string) error {
	for _, pipeline := range pipelines {
		if err := f.loadOrInitialize(ctx, pipeline); err != nil {
			return err
		}
	}
	return nil
}

func (f *fileStateService) ListSyncStatuses(_ context.Context) (map[string]*status.SyncStatus, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	result := make(map[string]*status.SyncStatus, len(f.cachedStatuses))
	for name, syncStatus := range f.cachedStatuses {
		result[name] = syncStatus.Clone()
	}
	return result, nil
}

func (f *fileStateService) GetSyncStatus(_ context.Context, pipeline string) (*status.SyncStatus, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	syncStatus, exists := f.cachedStatuses[pipeline]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, pipeline)
	}
	return syncStatus.Clone(), nil
}

func (f *fileStateService) UpdateStatusAtomically(
	ctx context.Context,
	pipeline string,
	testAndUpdateFn func(syncStatus *status.SyncStatus) bool,
) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, exists := f.cachedStatuses[pipeline]
	if !exists {
		return false, fmt.Errorf("%w: %s", ErrPipelineNotFound, pipeline)
	}

	// the callback works on a copy so a failed save leaves the cache untouched
	updated := current.Clone()
	if !testAndUpdateFn(updated) {
		return false, nil
	}
	keepWatermark(current, updated)

	if err := f.statusPersistence.SaveStatus(ctx, pipeline, updated); err != nil {
		return false, err
	}
	f.cachedStatuses[pipeline] = updated
	return true, nil
}

func (f *fileStateService) UpdateSyncStatus(ctx context.Context, pipeline string, syncStatus *status.SyncStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	updated := syncStatus.Clone()
	keepWatermark(f.cachedStatuses[pipeline], updated)

	if err := f.statusPersistence.SaveStatus(ctx, pipeline, updated); err != nil {
		return err
	}
	f.cachedStatuses[pipeline] = updated
	return nil
}

func (f *fileStateService) loadOrInitialize(ctx context.Context, pipeline string) error {
	loaded, err := f.statusPersistence.LoadStatus(ctx, pipeline)
	if err != nil {
		// an unreadable status restarts the pipeline with a full sync
		slog.WarnContext(ctx, "Failed to load sync status, initializing with defaults",
			"pipeline", pipeline, "error", err)
		loaded = nil
	}

	syncStatus, changed := initialStatus(ctx, pipeline, loaded)
	if changed {
		if err := f.statusPersistence.SaveStatus(ctx, pipeline, syncStatus); err != nil {
			return fmt.Errorf("failed to persist initial status for pipeline '%s': %w", pipeline, err)
		}
	}

	f.mu.Lock()
	f.cachedStatuses[pipeline] = syncStatus
	f.mu.Unlock()
	return nil
}
