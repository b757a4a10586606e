package v0

import "github.com/stacklok/record-sync/internal/status"

// PipelineStatus is the persisted status of one pipeline
type PipelineStatus struct {
	Pipeline string `json:"pipeline"`
	// LivePhase is the in-memory phase of the coordinator serving this process.
	// It is only set for the pipeline this process runs.
	LivePhase status.SyncPhase `json:"livePhase,omitempty"`
	*status.SyncStatus
}

// StatusListResponse lists the status of every known pipeline, ordered by name
type StatusListResponse struct {
	Pipelines []PipelineStatus `json:"pipelines"`
}

// ResyncResponse acknowledges a full sync request
type ResyncResponse struct {
	Pipeline string `json:"pipeline"`
	Status   string `json:"status"`
}
