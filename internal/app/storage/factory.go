// Package storage creates the record stores and the state service of a pipeline.
// All components share one PostgreSQL pool when any of them is backed by the database.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/record-sync/internal/config"
	"github.com/stacklok/record-sync/internal/db"
	"github.com/stacklok/record-sync/internal/seed"
	"github.com/stacklok/record-sync/internal/store"
	"github.com/stacklok/record-sync/internal/store/memory"
	"github.com/stacklok/record-sync/internal/store/postgres"
	"github.com/stacklok/record-sync/internal/store/sqlite"
	"github.com/stacklok/record-sync/internal/sync/state"
)

//go:generate mockgen -destination=mocks/mock_factory.go -package=mocks github.com/stacklok/record-sync/internal/app/storage Factory

// SourceStore is a source that also accepts the writes of the seed and touch commands
type SourceStore interface {
	store.Source
	store.Mutator
}

// Factory creates the storage-dependent components of a pipeline as a family
// and owns the resources they share.
type Factory interface {
	// CreateSource opens the source store, seeding memory sources when configured
	CreateSource(ctx context.Context) (SourceStore, error)

	// CreateTarget opens the target store
	CreateTarget(ctx context.Context) (store.Target, error)

	// CreateStateService creates the sync state service
	CreateStateService(ctx context.Context) (state.StateService, error)

	// Cleanup releases every resource opened by the factory
	Cleanup()
}

// PoolOpener opens the PostgreSQL pool
type PoolOpener func(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error)

type configFactory struct {
	config   *config.Config
	pool     *pgxpool.Pool
	openPool PoolOpener
	closers  []func() error
}

var _ Factory = (*configFactory)(nil)

// FactoryOption configures the factory
type FactoryOption func(*configFactory)

// WithPoolOpener replaces db.NewPool, mainly for tests
func WithPoolOpener(open PoolOpener) FactoryOption {
	return func(f *configFactory) {
		f.openPool = open
	}
}

// NewStorageFactory creates a factory for the stores and state backend selected by cfg.
// The database pool is opened lazily by the first component that needs it.
func NewStorageFactory(cfg *config.Config, opts ...FactoryOption) (Factory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	f := &configFactory{
		config:   cfg,
		openPool: db.NewPool,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *configFactory) CreateSource(ctx context.Context) (SourceStore, error) {
	src, err := f.openStore(ctx, &f.config.Source, config.DefaultSourceTable)
	if err != nil {
		return nil, fmt.Errorf("failed to open source store: %w", err)
	}

	if n := f.config.Source.Seed; n > 0 && f.config.Source.GetType() == config.StoreTypeMemory {
		if _, err := seed.Load(ctx, src, n); err != nil {
			return nil, fmt.Errorf("failed to seed source store: %w", err)
		}
	}
	return src, nil
}

func (f *configFactory) CreateTarget(ctx context.Context) (store.Target, error) {
	dst, err := f.openStore(ctx, &f.config.Target, config.DefaultTargetTable)
	if err != nil {
		return nil, fmt.Errorf("failed to open target store: %w", err)
	}
	return dst, nil
}

func (f *configFactory) CreateStateService(ctx context.Context) (state.StateService, error) {
	var pool *pgxpool.Pool
	if f.config.State.GetType() == config.StateTypeDatabase {
		var err error
		if pool, err = f.getPool(ctx); err != nil {
			return nil, err
		}
	}

	svc, err := state.NewStateService(ctx, f.config, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to create state service: %w", err)
	}
	f.closers = append(f.closers, state.Closer(svc))

	slog.Debug("Created state service", "type", f.config.State.GetType())
	return svc, nil
}

// Cleanup closes the stores, the state service and the pool, in reverse opening order
func (f *configFactory) Cleanup() {
	var errs []error
	for i := len(f.closers) - 1; i >= 0; i-- {
		errs = append(errs, f.closers[i]())
	}
	f.closers = nil

	if f.pool != nil {
		slog.Info("Closing database connection pool")
		f.pool.Close()
		f.pool = nil
	}

	if err := errors.Join(errs...); err != nil {
		slog.Error("Failed to release storage resources", "error", err)
	}
}

// sourceTarget is what every store backend implements
type sourceTarget interface {
	SourceStore
	store.Target
}

func (f *configFactory) openStore(ctx context.Context, sc *config.StoreConfig, defaultTable string) (sourceTarget, error) {
	switch sc.GetType() {
	case config.StoreTypePostgres:
		pool, err := f.getPool(ctx)
		if err != nil {
			return nil, err
		}
		s := postgres.New(pool, sc.GetTable(defaultTable))
		if err := s.EnsureTable(ctx); err != nil {
			return nil, err
		}
		slog.Debug("Opened postgres store", "table", sc.GetTable(defaultTable))
		return s, nil
	case config.StoreTypeSQLite:
		s, err := sqlite.New(ctx, sc.Path)
		if err != nil {
			return nil, err
		}
		f.closers = append(f.closers, s.Close)
		slog.Debug("Opened sqlite store", "path", sc.Path)
		return s, nil
	case config.StoreTypeMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store type: %s", sc.Type)
	}
}

func (f *configFactory) getPool(ctx context.Context) (*pgxpool.Pool, error) {
	if f.pool != nil {
		return f.pool, nil
	}
	if f.config.Database == nil {
		return nil, fmt.Errorf("database configuration is required")
	}

	pool, err := f.openPool(ctx, f.config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}
	f.pool = pool
	return pool, nil
}
