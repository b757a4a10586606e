package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncStatus_NeedsFullSync(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status SyncStatus
		want   bool
	}{
		{name: "never synced", status: SyncStatus{}, want: true},
		{name: "completed", status: SyncStatus{FullSyncCompleted: true}, want: false},
		{name: "resync requested", status: SyncStatus{FullSyncCompleted: true, FullSyncRequested: true}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.status.NeedsFullSync())
		})
	}
}

func TestSyncStatus_AdvanceWatermark(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s := &SyncStatus{}

	assert.True(t, s.WatermarkOrZero().IsZero())
	assert.True(t, s.AdvanceWatermark(base))
	assert.False(t, s.AdvanceWatermark(base.Add(-time.Hour)))
	assert.False(t, s.AdvanceWatermark(base))
	assert.Equal(t, base, s.WatermarkOrZero())
	assert.True(t, s.AdvanceWatermark(base.Add(time.Second)))
	assert.Equal(t, base.Add(time.Second), s.WatermarkOrZero())
}

func TestSyncStatus_Clone(t *testing.T) {
	t.Parallel()

	wm := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s := &SyncStatus{Phase: SyncPhaseSteadyState, Watermark: &wm}

	c := s.Clone()
	require.NotNil(t, c)
	*c.Watermark = wm.Add(time.Hour)

	assert.Equal(t, wm, *s.Watermark)
	assert.Nil(t, (*SyncStatus)(nil).Clone())
}
