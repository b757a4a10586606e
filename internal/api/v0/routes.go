// Package v0 provides the operational HTTP handlers of the sync engine.
package v0

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/record-sync/internal/api/common"
	"github.com/stacklok/record-sync/internal/status"
	"github.com/stacklok/record-sync/internal/sync/state"
	"github.com/stacklok/record-sync/internal/versions"
)

// SyncController is the part of the coordinator the API drives
type SyncController interface {
	RequestFullSync(ctx context.Context) error
	Phase() status.SyncPhase
}

// StatusReader reads persisted pipeline statuses
type StatusReader interface {
	ListSyncStatuses(ctx context.Context) (map[string]*status.SyncStatus, error)
	GetSyncStatus(ctx context.Context, pipeline string) (*status.SyncStatus, error)
}

// Routes serves the health, status and resync endpoints of one pipeline
type Routes struct {
	pipeline   string
	controller SyncController
	statuses   StatusReader
}

// NewRoutes creates the routes of the pipeline run by controller
func NewRoutes(pipeline string, controller SyncController, statuses StatusReader) *Routes {
	return &Routes{
		pipeline:   pipeline,
		controller: controller,
		statuses:   statuses,
	}
}

// Router returns the chi router with every operational endpoint
func (rt *Routes) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/readiness", rt.readinessHandler)
	r.Get("/version", versionHandler)

	r.Get("/status", rt.listStatuses)
	r.Get("/status/{pipeline}", rt.getStatus)
	r.Post("/resync", rt.resync)

	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, map[string]string{"status": "healthy"}, http.StatusOK)
}

// readinessHandler reports ready once the pipeline has completed its first full sync
func (rt *Routes) readinessHandler(w http.ResponseWriter, r *http.Request) {
	s, err := rt.statuses.GetSyncStatus(r.Context(), rt.pipeline)
	if err != nil {
		common.WriteErrorResponse(w, "sync status unavailable: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	if !s.FullSyncCompleted {
		common.WriteErrorResponse(w, "initial full sync has not completed", http.StatusServiceUnavailable)
		return
	}

	common.WriteJSONResponse(w, map[string]string{"status": "ready"}, http.StatusOK)
}

func versionHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, versions.Get(), http.StatusOK)
}

func (rt *Routes) listStatuses(w http.ResponseWriter, r *http.Request) {
	all, err := rt.statuses.ListSyncStatuses(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list sync statuses", "error", err)
		common.WriteErrorResponse(w, "failed to list sync statuses", http.StatusInternalServerError)
		return
	}

	resp := StatusListResponse{Pipelines: make([]PipelineStatus, 0, len(all))}
	for name, s := range all {
		resp.Pipelines = append(resp.Pipelines, rt.pipelineStatus(name, s))
	}
	slices.SortFunc(resp.Pipelines, func(a, b PipelineStatus) int {
		return strings.Compare(a.Pipeline, b.Pipeline)
	})

	common.WriteJSONResponse(w, resp, http.StatusOK)
}

func (rt *Routes) getStatus(w http.ResponseWriter, r *http.Request) {
	name, err := common.URLParam(r, "pipeline")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	s, err := rt.statuses.GetSyncStatus(r.Context(), name)
	switch {
	case errors.Is(err, state.ErrPipelineNotFound):
		common.WriteErrorResponse(w, "pipeline not found: "+name, http.StatusNotFound)
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "Failed to get sync status", "pipeline", name, "error", err)
		common.WriteErrorResponse(w, "failed to get sync status", http.StatusInternalServerError)
		return
	}

	common.WriteJSONResponse(w, rt.pipelineStatus(name, s), http.StatusOK)
}

// resync flags the pipeline for a full sync. The sync itself runs in the background.
func (rt *Routes) resync(w http.ResponseWriter, r *http.Request) {
	if err := rt.controller.RequestFullSync(r.Context()); err != nil {
		slog.ErrorContext(r.Context(), "Failed to request full sync", "pipeline", rt.pipeline, "error", err)
		common.WriteErrorResponse(w, "failed to request full sync", http.StatusInternalServerError)
		return
	}

	common.WriteJSONResponse(w, ResyncResponse{Pipeline: rt.pipeline, Status: "accepted"}, http.StatusAccepted)
}

func (rt *Routes) pipelineStatus(name string, s *status.SyncStatus) PipelineStatus {
	ps := PipelineStatus{Pipeline: name, SyncStatus: s}
	if name == rt.pipeline {
		ps.LivePhase = rt.controller.Phase()
	}
	return ps
}
