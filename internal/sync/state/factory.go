package state

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/record-sync/internal/config"
	"github.com/stacklok/record-sync/internal/status"
)

// BoltFileName is the bbolt file created inside the state path
const BoltFileName = "state.db"

// NewStateService creates a StateService based on the configured state type.
//
// The file and s3 types share the cached state service over a
// StatusPersistence. The database type requires a non-nil pool. The bolt
// type returns a service that must be closed by the caller; use Closer to
// release it.
func NewStateService(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (StateService, error) {
	switch cfg.State.GetType() {
	case config.StateTypeDatabase:
		if pool == nil {
			return nil, fmt.Errorf("database pool is required when state type is database")
		}
		return NewDBStateService(pool), nil
	case config.StateTypeBolt:
		return NewBoltStateService(filepath.Join(cfg.State.GetPath(), BoltFileName))
	case config.StateTypeS3:
		s3cfg := cfg.State.S3
		client, err := status.NewS3Client(ctx, status.S3ClientOptions{
			Region:       s3cfg.Region,
			Endpoint:     s3cfg.Endpoint,
			UsePathStyle: s3cfg.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return NewFileStateService(status.NewS3StatusPersistence(client, s3cfg.Bucket, s3cfg.Prefix)), nil
	default:
		return NewFileStateService(status.NewFileStatusPersistence(cfg.State.GetPath())), nil
	}
}

// Closer returns the close function of services holding resources, or a no-op
func Closer(svc StateService) func() error {
	if b, ok := svc.(*BoltStateService); ok {
		return b.Close
	}
	return func() error { return nil }
}
