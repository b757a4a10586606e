// Package status provides sync status tracking and its file and S3 persistence.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// StatusFileName is the name of the status file (or object) kept per pipeline
//
//nolint:revive // exported as status.StatusFileName on purpose
const StatusFileName = "status.json"

// StatusPersistence defines the interface for sync status persistence
//
//go:generate mockgen -destination=mocks/mock_persistence.go -package=mocks -source=persistence.go StatusPersistence
//nolint:revive // This name is fine
type StatusPersistence interface {
	// SaveStatus saves the sync status of a pipeline
	SaveStatus(ctx context.Context, pipeline string, status *SyncStatus) error

	// LoadStatus loads the sync status of a pipeline.
	// Returns an empty SyncStatus if nothing was saved yet (first run)
	LoadStatus(ctx context.Context, pipeline string) (*SyncStatus, error)

	// LoadAllStatus loads the sync status of every pipeline
	LoadAllStatus(ctx context.Context) (map[string]*SyncStatus, error)
}

func encodeStatus(pipeline string, s *SyncStatus) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode status of pipeline %q: %w", pipeline, err)
	}
	return data, nil
}

func decodeStatus(pipeline string, data []byte) (*SyncStatus, error) {
	s := &SyncStatus{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to decode status of pipeline %q: %w", pipeline, err)
	}
	return s, nil
}

// dirPersistence keeps one <dir>/<pipeline>/status.json per pipeline
type dirPersistence struct {
	dir string
}

// NewFileStatusPersistence stores statuses below dir, one directory per pipeline
func NewFileStatusPersistence(dir string) StatusPersistence {
	return &dirPersistence{dir: dir}
}

func (d *dirPersistence) path(pipeline string) string {
	return filepath.Join(d.dir, pipeline, StatusFileName)
}

// SaveStatus writes a temporary file next to the status file, syncs it and
// renames it over the old one, so readers never see a partial status
func (d *dirPersistence) SaveStatus(_ context.Context, pipeline string, s *SyncStatus) error {
	data, err := encodeStatus(pipeline, s)
	if err != nil {
		return err
	}

	target := d.path(pipeline)
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("failed to create status directory of pipeline %q: %w", pipeline, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), StatusFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to save status of pipeline %q: %w", pipeline, err)
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpName, target)
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to save status of pipeline %q: %w", pipeline, err)
	}
	return nil
}

func (d *dirPersistence) LoadStatus(_ context.Context, pipeline string) (*SyncStatus, error) {
	data, err := os.ReadFile(d.path(pipeline))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &SyncStatus{}, nil
	case err != nil:
		return nil, fmt.Errorf("failed to load status of pipeline %q: %w", pipeline, err)
	}
	return decodeStatus(pipeline, data)
}

// LoadAllStatus returns every pipeline with a status file. Unreadable files are
// logged and left out.
func (d *dirPersistence) LoadAllStatus(ctx context.Context) (map[string]*SyncStatus, error) {
	matches, err := filepath.Glob(filepath.Join(d.dir, "*", StatusFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to list status files: %w", err)
	}

	all := make(map[string]*SyncStatus, len(matches))
	for _, m := range matches {
		pipeline := filepath.Base(filepath.Dir(m))
		s, err := d.LoadStatus(ctx, pipeline)
		if err != nil {
			slog.WarnContext(ctx, "Skipping unreadable status file", "pipeline", pipeline, "error", err)
			continue
		}
		all[pipeline] = s
	}
	return all, nil
}
