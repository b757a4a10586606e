package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/record-sync/internal/status"
)

const selectStatusColumns = `
	phase, message, full_sync_completed, full_sync_requested, full_sync_started_at,
	watermark, last_attempt, attempt_count, last_sync_time, records_written`

// upsertStatusSQL never moves the watermark backwards, even across processes
const upsertStatusSQL = `
INSERT INTO sync_state (
	pipeline, phase, message, full_sync_completed, full_sync_requested, full_sync_started_at,
	watermark, last_attempt, attempt_count, last_sync_time, records_written, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
ON CONFLICT (pipeline) DO UPDATE SET
	phase = EXCLUDED.phase,
	message = EXCLUDED.message,
	full_sync_completed = EXCLUDED.full_sync_completed,
	full_sync_requested = EXCLUDED.full_sync_requested,
	full_sync_started_at = EXCLUDED.full_sync_started_at,
	watermark = GREATEST(sync_state.watermark, EXCLUDED.watermark),
	last_attempt = EXCLUDED.last_attempt,
	attempt_count = EXCLUDED.attempt_count,
	last_sync_time = EXCLUDED.last_sync_time,
	records_written = EXCLUDED.records_written,
	updated_at = now()`

// querier is satisfied by both the pool and a transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type dbStateService struct {
	pool *pgxpool.Pool
}

// NewDBStateService creates a new PostgreSQL-backed state service.
// The sync_state table is created by the database migrations.
func NewDBStateService(pool *pgxpool.Pool) StateService {
	return &dbStateService{
		pool: pool,
	}
}

func (d *dbStateService) Initialize(ctx context.Context, pipelines []string) error {
	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		for _, pipeline := range pipelines {
			loaded, err := selectStatus(ctx, tx, pipeline, true)
			if err != nil && !errors.Is(err, ErrPipelineNotFound) {
				return err
			}
			syncStatus, changed := initialStatus(ctx, pipeline, loaded)
			if !changed {
				continue
			}
			if err := upsertStatus(ctx, tx, pipeline, syncStatus); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *dbStateService) ListSyncStatuses(ctx context.Context) (map[string]*status.SyncStatus, error) {
	rows, err := d.pool.Query(ctx, `SELECT pipeline, `+selectStatusColumns+` FROM sync_state ORDER BY pipeline`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync statuses: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*status.SyncStatus)
	for rows.Next() {
		var pipeline string
		s, err := scanStatus(rows, &pipeline)
		if err != nil {
			return nil, err
		}
		result[pipeline] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sync statuses: %w", err)
	}
	return result, nil
}

func (d *dbStateService) GetSyncStatus(ctx context.Context, pipeline string) (*status.SyncStatus, error) {
	return selectStatus(ctx, d.pool, pipeline, false)
}

func (d *dbStateService) UpdateSyncStatus(ctx context.Context, pipeline string, syncStatus *status.SyncStatus) error {
	return upsertStatus(ctx, d.pool, pipeline, syncStatus)
}

func (d *dbStateService) UpdateStatusAtomically(
	ctx context.Context,
	pipeline string,
	testAndUpdateFn func(syncStatus *status.SyncStatus) bool,
) (bool, error) {
	var updated bool
	err := pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		current, err := selectStatus(ctx, tx, pipeline, true)
		if err != nil {
			return err
		}
		if !testAndUpdateFn(current) {
			return nil
		}
		if err := upsertStatus(ctx, tx, pipeline, current); err != nil {
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

func selectStatus(ctx context.Context, q querier, pipeline string, forUpdate bool) (*status.SyncStatus, error) {
	sql := `SELECT ` + selectStatusColumns + ` FROM sync_state WHERE pipeline = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}

	s, err := scanStatus(q.QueryRow(ctx, sql, pipeline))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, pipeline)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load status of pipeline '%s': %w", pipeline, err)
	}
	return s, nil
}

func upsertStatus(ctx context.Context, q querier, pipeline string, s *status.SyncStatus) error {
	_, err := q.Exec(ctx, upsertStatusSQL,
		pipeline,
		string(s.Phase),
		s.Message,
		s.FullSyncCompleted,
		s.FullSyncRequested,
		s.FullSyncStartedAt,
		s.Watermark,
		s.LastAttempt,
		s.AttemptCount,
		s.LastSyncTime,
		s.RecordsWritten,
	)
	if err != nil {
		return fmt.Errorf("failed to store status of pipeline '%s': %w", pipeline, err)
	}
	return nil
}

// scanStatus scans the status columns, preceded by any extra destinations
func scanStatus(row pgx.Row, leading ...any) (*status.SyncStatus, error) {
	var (
		s     status.SyncStatus
		phase string
	)
	dest := append(leading,
		&phase,
		&s.Message,
		&s.FullSyncCompleted,
		&s.FullSyncRequested,
		&s.FullSyncStartedAt,
		&s.Watermark,
		&s.LastAttempt,
		&s.AttemptCount,
		&s.LastSyncTime,
		&s.RecordsWritten,
	)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	s.Phase = status.SyncPhase(phase)
	return &s, nil
}
