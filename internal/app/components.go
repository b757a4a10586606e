package app

import (
	"github.com/stacklok/record-sync/internal/app/storage"
	"github.com/stacklok/record-sync/internal/store"
	"github.com/stacklok/record-sync/internal/sync/coordinator"
	"github.com/stacklok/record-sync/internal/sync/state"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Coordinator drives full and delta synchronization
	Coordinator coordinator.Coordinator

	// Source is the store records are read from
	Source storage.SourceStore

	// Target is the store records are written to, wrapped by the event sink when enabled
	Target store.Target

	// StateService persists the sync status
	StateService state.StateService
}
