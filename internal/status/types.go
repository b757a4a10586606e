package status

import "time"

// SyncPhase is the orchestrator state of a sync pipeline
type SyncPhase string

const (
	// SyncPhaseUninitialized means no sync has run yet in this process
	SyncPhaseUninitialized SyncPhase = "Uninitialized"

	// SyncPhaseFullSync means a paginated full sync is in progress
	SyncPhaseFullSync SyncPhase = "FullSync"

	// SyncPhaseSteadyState means a full sync completed and delta cycles are running
	SyncPhaseSteadyState SyncPhase = "SteadyState"
)

// SyncStatus is the persisted state of one sync pipeline
type SyncStatus struct {
	// Phase is the last phase the orchestrator reported
	Phase SyncPhase `json:"phase"`

	// Message provides additional information about the last cycle
	Message string `json:"message,omitempty"`

	// FullSyncCompleted is set once a full sync has copied the whole source.
	// It alone decides whether the next start runs a full sync.
	FullSyncCompleted bool `json:"fullSyncCompleted"`

	// FullSyncRequested asks the orchestrator to run a full sync on its next cycle
	FullSyncRequested bool `json:"fullSyncRequested,omitempty"`

	// FullSyncStartedAt is when the last full sync began
	FullSyncStartedAt *time.Time `json:"fullSyncStartedAt,omitempty"`

	// Watermark is the lastSyncedAt of delta sync. It never decreases.
	Watermark *time.Time `json:"watermark,omitempty"`

	// LastAttempt is the timestamp of the last cycle attempt
	LastAttempt *time.Time `json:"lastAttempt,omitempty"`

	// AttemptCount is the number of failed cycles since the last success
	AttemptCount int `json:"attemptCount,omitempty"`

	// LastSyncTime is the timestamp of the last successful cycle
	LastSyncTime *time.Time `json:"lastSyncTime,omitempty"`

	// RecordsWritten is the total number of target writes made by this pipeline
	RecordsWritten int64 `json:"recordsWritten,omitempty"`
}

// NeedsFullSync reports whether the next cycle must run a full sync
func (s *SyncStatus) NeedsFullSync() bool {
	return !s.FullSyncCompleted || s.FullSyncRequested
}

// AdvanceWatermark moves the watermark to t unless it is already later.
// It reports whether the watermark changed.
func (s *SyncStatus) AdvanceWatermark(t time.Time) bool {
	if s.Watermark != nil && !t.After(*s.Watermark) {
		return false
	}
	s.Watermark = &t
	return true
}

// WatermarkOrZero returns the watermark, or the zero time if none was recorded
func (s *SyncStatus) WatermarkOrZero() time.Time {
	if s.Watermark == nil {
		return time.Time{}
	}
	return *s.Watermark
}

// Clone returns a deep copy of the status
func (s *SyncStatus) Clone() *SyncStatus {
	if s == nil {
		return nil
	}
	out := *s
	out.FullSyncStartedAt = cloneTime(s.FullSyncStartedAt)
	out.Watermark = cloneTime(s.Watermark)
	out.LastAttempt = cloneTime(s.LastAttempt)
	out.LastSyncTime = cloneTime(s.LastSyncTime)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
