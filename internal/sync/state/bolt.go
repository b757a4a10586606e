package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/stacklok/record-sync/internal/status"
)

var bucketSyncStatus = []byte("sync_status")

// BoltStateService stores one JSON status per pipeline in a bbolt file.
// bbolt serializes write transactions, which makes UpdateStatusAtomically
// atomic without an extra lock.
type BoltStateService struct {
	db *bbolt.DB
}

// NewBoltStateService opens (or creates) the bbolt file at path
func NewBoltStateService(path string) (*BoltStateService, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt state file: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSyncStatus)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create sync status bucket: %w", err)
	}

	return &BoltStateService{db: db}, nil
}

// Close closes the bbolt file
func (b *BoltStateService) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Initialize loads or creates the status of each pipeline
func (b *BoltStateService) Initialize(ctx context.Context, pipelines []string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSyncStatus)
		for _, pipeline := range pipelines {
			loaded, err := getStatus(bucket, pipeline)
			if err != nil {
				return err
			}
			syncStatus, changed := initialStatus(ctx, pipeline, loaded)
			if !changed {
				continue
			}
			if err := putStatus(bucket, pipeline, syncStatus); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListSyncStatuses lists all stored sync statuses
func (b *BoltStateService) ListSyncStatuses(_ context.Context) (map[string]*status.SyncStatus, error) {
	result := make(map[string]*status.SyncStatus)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSyncStatus).ForEach(func(k, v []byte) error {
			var s status.SyncStatus
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("failed to decode status of pipeline '%s': %w", k, err)
			}
			result[string(k)] = &s
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetSyncStatus returns the status of the named pipeline
func (b *BoltStateService) GetSyncStatus(_ context.Context, pipeline string) (*status.SyncStatus, error) {
	var result *status.SyncStatus
	err := b.db.View(func(tx *bbolt.Tx) error {
		s, err := getStatus(tx.Bucket(bucketSyncStatus), pipeline)
		if err != nil {
			return err
		}
		if s == nil {
			return fmt.Errorf("%w: %s", ErrPipelineNotFound, pipeline)
		}
		result = s
		return nil
	})
	return result, err
}

// UpdateSyncStatus replaces the status of the named pipeline
func (b *BoltStateService) UpdateSyncStatus(_ context.Context, pipeline string, syncStatus *status.SyncStatus) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSyncStatus)
		prev, err := getStatus(bucket, pipeline)
		if err != nil {
			return err
		}
		updated := syncStatus.Clone()
		keepWatermark(prev, updated)
		return putStatus(bucket, pipeline, updated)
	})
}

// UpdateStatusAtomically applies testAndUpdateFn inside a single write transaction
func (b *BoltStateService) UpdateStatusAtomically(
	_ context.Context,
	pipeline string,
	testAndUpdateFn func(syncStatus *status.SyncStatus) bool,
) (bool, error) {
	var updated bool
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSyncStatus)
		current, err := getStatus(bucket, pipeline)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("%w: %s", ErrPipelineNotFound, pipeline)
		}

		next := current.Clone()
		if !testAndUpdateFn(next) {
			return nil
		}
		keepWatermark(current, next)
		if err := putStatus(bucket, pipeline, next); err != nil {
			return err
		}
		updated = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return updated, nil
}

func getStatus(bucket *bbolt.Bucket, pipeline string) (*status.SyncStatus, error) {
	data := bucket.Get([]byte(pipeline))
	if data == nil {
		return nil, nil
	}
	var s status.SyncStatus
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode status of pipeline '%s': %w", pipeline, err)
	}
	return &s, nil
}

func putStatus(bucket *bbolt.Bucket, pipeline string, s *status.SyncStatus) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode status of pipeline '%s': %w", pipeline, err)
	}
	if err := bucket.Put([]byte(pipeline), data); err != nil {
		return fmt.Errorf("failed to store status of pipeline '%s': %w", pipeline, err)
	}
	return nil
}
