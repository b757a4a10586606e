package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/record-sync/internal/status"
	statusmocks "github.com/stacklok/record-sync/internal/status/mocks"
)

const testPipeline = "orders"

var testWatermark = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewFileStateService(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	mockPersistence := statusmocks.NewMockStatusPersistence(ctrl)

	service := NewFileStateService(mockPersistence)
	require.NotNil(t, service)

	fileService, ok := service.(*fileStateService)
	require.True(t, ok)
	assert.Equal(t, mockPersistence, fileService.statusPersistence)
	assert.NotNil(t, fileService.cachedStatuses)
}

func TestFileStateService_Initialize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		loaded      *status.SyncStatus
		loadErr     error
		expectSave  bool
		saveErr     error
		wantErr     bool
		wantPhase   status.SyncPhase
		wantMessage string
		wantWM      bool
	}{
		{
			name:        "first run initializes to uninitialized",
			loaded:      &status.SyncStatus{},
			expectSave:  true,
			wantPhase:   status.SyncPhaseUninitialized,
			wantMessage: "No previous sync status found",
		},
		{
			name:        "unreadable status is reinitialized",
			loadErr:     errors.New("corrupt file"),
			expectSave:  true,
			wantPhase:   status.SyncPhaseUninitialized,
			wantMessage: "No previous sync status found",
		},
		{
			name: "interrupted full sync is reset and keeps the watermark",
			loaded: &status.SyncStatus{
				Phase:     status.SyncPhaseFullSync,
				Watermark: &testWatermark,
			},
			expectSave:  true,
			wantPhase:   status.SyncPhaseUninitialized,
			wantMessage: "Previous full sync was interrupted",
			wantWM:      true,
		},
		{
			name: "steady state is kept as is",
			loaded: &status.SyncStatus{
				Phase:             status.SyncPhaseSteadyState,
				Message:           "Delta sync completed",
				FullSyncCompleted: true,
				Watermark:         &testWatermark,
			},
			expectSave:  false,
			wantPhase:   status.SyncPhaseSteadyState,
			wantMessage: "Delta sync completed",
			wantWM:      true,
		},
		{
			name:       "failure to persist the initial status is returned",
			loaded:     &status.SyncStatus{},
			expectSave: true,
			saveErr:    errors.New("disk full"),
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			mockPersistence := statusmocks.NewMockStatusPersistence(ctrl)
			mockPersistence.EXPECT().LoadStatus(gomock.Any(), testPipeline).Return(tt.loaded, tt.loadErr)
			if tt.expectSave {
				mockPersistence.EXPECT().SaveStatus(gomock.Any(), testPipeline, gomock.Any()).Return(tt.saveErr)
			}

			service := NewFileStateService(mockPersistence)
			err := service.Initialize(context.Background(), []string{testPipeline})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			got, err := service.GetSyncStatus(context.Background(), testPipeline)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPhase, got.Phase)
			assert.Equal(t, tt.wantMessage, got.Message)
			if tt.wantWM {
				require.NotNil(t, got.Watermark)
				assert.True(t, testWatermark.Equal(*got.Watermark))
			}
		})
	}
}

func TestFileStateService_GetSyncStatus_NotFound(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	service := NewFileStateService(statusmocks.NewMockStatusPersistence(ctrl))

	got, err := service.GetSyncStatus(context.Background(), "unknown")
	require.ErrorIs(t, err, ErrPipelineNotFound)
	assert.Nil(t, got)
}

func TestFileStateService_UpdateSyncStatus(t *testing.T) {
	t.Parallel()

	service := NewFileStateService(status.NewFileStatusPersistence(t.TempDir()))
	ctx := context.Background()
	require.NoError(t, service.Initialize(ctx, []string{testPipeline}))

	later := testWatermark.Add(time.Hour)
	require.NoError(t, service.UpdateSyncStatus(ctx, testPipeline, &status.SyncStatus{
		Phase:     status.SyncPhaseSteadyState,
		Watermark: &later,
	}))

	t.Run("watermark never moves backwards", func(t *testing.T) {
		require.NoError(t, service.UpdateSyncStatus(ctx, testPipeline, &status.SyncStatus{
			Phase:     status.SyncPhaseSteadyState,
			Message:   "stale writer",
			Watermark: &testWatermark,
		}))

		got, err := service.GetSyncStatus(ctx, testPipeline)
		require.NoError(t, err)
		assert.Equal(t, "stale writer", got.Message)
		require.NotNil(t, got.Watermark)
		assert.True(t, later.Equal(*got.Watermark))
	})

	t.Run("update is persisted", func(t *testing.T) {
		reloaded := NewFileStateService(service.(*fileStateService).statusPersistence)
		require.NoError(t, reloaded.Initialize(ctx, []string{testPipeline}))

		got, err := reloaded.GetSyncStatus(ctx, testPipeline)
		require.NoError(t, err)
		assert.Equal(t, status.SyncPhaseSteadyState, got.Phase)
		require.NotNil(t, got.Watermark)
		assert.True(t, later.Equal(*got.Watermark))
	})
}

func TestFileStateService_UpdateStatusAtomically(t *testing.T) {
	t.Parallel()

	t.Run("unknown pipeline", func(t *testing.T) {
		t.Parallel()

		ctrl := gomock.NewController(t)
		service := NewFileStateService(statusmocks.NewMockStatusPersistence(ctrl))

		updated, err := service.UpdateStatusAtomically(context.Background(), "unknown",
			func(*status.SyncStatus) bool { return true })
		require.ErrorIs(t, err, ErrPipelineNotFound)
		assert.False(t, updated)
	})

	t.Run("no change skips the save", func(t *testing.T) {
		t.Parallel()

		ctrl := gomock.NewController(t)
		mockPersistence := statusmocks.NewMockStatusPersistence(ctrl)
		mockPersistence.EXPECT().LoadStatus(gomock.Any(), testPipeline).
			Return(&status.SyncStatus{Phase: status.SyncPhaseSteadyState}, nil)

		service := NewFileStateService(mockPersistence)
		require.NoError(t, service.Initialize(context.Background(), []string{testPipeline}))

		updated, err := service.UpdateStatusAtomically(context.Background(), testPipeline,
			func(*status.SyncStatus) bool { return false })
		require.NoError(t, err)
		assert.False(t, updated)
	})

	t.Run("failed save leaves the cache untouched", func(t *testing.T) {
		t.Parallel()

		ctrl := gomock.NewController(t)
		mockPersistence := statusmocks.NewMockStatusPersistence(ctrl)
		mockPersistence.EXPECT().LoadStatus(gomock.Any(), testPipeline).
			Return(&status.SyncStatus{Phase: status.SyncPhaseSteadyState}, nil)
		mockPersistence.EXPECT().SaveStatus(gomock.Any(), testPipeline, gomock.Any()).
			Return(errors.New("disk full"))

		service := NewFileStateService(mockPersistence)
		require.NoError(t, service.Initialize(context.Background(), []string{testPipeline}))

		updated, err := service.UpdateStatusAtomically(context.Background(), testPipeline,
			func(s *status.SyncStatus) bool {
				s.FullSyncRequested = true
				return true
			})
		require.Error(t, err)
		assert.False(t, updated)

		got, err := service.GetSyncStatus(context.Background(), testPipeline)
		require.NoError(t, err)
		assert.False(t, got.FullSyncRequested)
	})

	t.Run("change is saved", func(t *testing.T) {
		t.Parallel()

		ctrl := gomock.NewController(t)
		mockPersistence := statusmocks.NewMockStatusPersistence(ctrl)
		mockPersistence.EXPECT().LoadStatus(gomock.Any(), testPipeline).
			Return(&status.SyncStatus{Phase: status.SyncPhaseSteadyState}, nil)
		mockPersistence.EXPECT().SaveStatus(gomock.Any(), testPipeline, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, s *status.SyncStatus) error {
				assert.True(t, s.FullSyncRequested)
				return nil
			})

		service := NewFileStateService(mockPersistence)
		require.NoError(t, service.Initialize(context.Background(), []string{testPipeline}))

		updated, err := service.UpdateStatusAtomically(context.Background(), testPipeline,
			func(s *status.SyncStatus) bool {
				s.FullSyncRequested = true
				return true
			})
		require.NoError(t, err)
		assert.True(t, updated)
	})
}

func TestFileStateService_DeepCopyBehavior(t *testing.T) {
	t.Parallel()

	service := NewFileStateService(status.NewFileStatusPersistence(t.TempDir()))
	ctx := context.Background()
	require.NoError(t, service.Initialize(ctx, []string{testPipeline}))

	wm := testWatermark
	require.NoError(t, service.UpdateSyncStatus(ctx, testPipeline, &status.SyncStatus{
		Phase:     status.SyncPhaseSteadyState,
		Watermark: &wm,
	}))

	got, err := service.GetSyncStatus(ctx, testPipeline)
	require.NoError(t, err)
	got.Phase = status.SyncPhaseFullSync
	*got.Watermark = testWatermark.Add(-time.Hour)

	all, err := service.ListSyncStatuses(ctx)
	require.NoError(t, err)
	require.Contains(t, all, testPipeline)
	assert.Equal(t, status.SyncPhaseSteadyState, all[testPipeline].Phase)
	assert.True(t, testWatermark.Equal(*all[testPipeline].Watermark))
}
