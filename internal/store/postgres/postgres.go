// Package postgres provides a record store backed by a PostgreSQL table.
// The same table layout serves as a sync source or target.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/record-sync/internal/record"
	"github.com/stacklok/record-sync/internal/store"
)

const columns = "id, fields, created_at, updated_at"

var dialect = store.SQLDialect{
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	TimeArg:     func(t time.Time) any { return t },
}

// Store reads and writes records in one table
type Store struct {
	pool  *pgxpool.Pool
	table string
}

var (
	_ store.Source  = (*Store)(nil)
	_ store.Target  = (*Store)(nil)
	_ store.Mutator = (*Store)(nil)
)

// New returns a store over table, which may be schema qualified ("sync.records")
func New(pool *pgxpool.Pool, table string) *Store {
	return &Store{
		pool:  pool,
		table: quoteTable(table),
	}
}

// EnsureTable creates the table if it does not exist yet.
// The default tables are created by the migrations; this covers custom table names.
func (s *Store) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id         BIGSERIAL   PRIMARY KEY,
	fields     JSONB       NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table))
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return nil
}

// Find returns records matching q in the requested ID order
func (s *Store) Find(ctx context.Context, q store.Query) ([]record.Record, error) {
	sql, args, err := store.FindSQL(s.table, columns, q, dialect)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, store.NewTransientError("postgres find", err)
	}
	recs, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, store.NewTransientError("postgres find", err)
	}
	return recs, nil
}

// Upsert inserts rec or replaces the row with the same ID
func (s *Store) Upsert(ctx context.Context, rec record.Record) (bool, error) {
	if !rec.ID.Valid() {
		return false, fmt.Errorf("cannot upsert record with invalid id %d", rec.ID)
	}

	// xmax is zero only for a freshly inserted row version
	sql := fmt.Sprintf(`
INSERT INTO %s (id, fields, created_at, updated_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
	fields = EXCLUDED.fields,
	created_at = EXCLUDED.created_at,
	updated_at = EXCLUDED.updated_at
RETURNING (xmax = 0)`, s.table)

	var inserted bool
	err := s.pool.QueryRow(ctx, sql, int64(rec.ID), fieldsArg(rec.Fields), rec.CreatedAt, rec.UpdatedAt).Scan(&inserted)
	if err != nil {
		return false, store.NewTransientError("postgres upsert", err)
	}
	return !inserted, nil
}

// Insert stores a new record, letting the database assign the ID and timestamps
func (s *Store) Insert(ctx context.Context, fields record.Fields) (record.Record, error) {
	sql := fmt.Sprintf(`INSERT INTO %s (fields) VALUES ($1) RETURNING %s`, s.table, columns)

	rows, err := s.pool.Query(ctx, sql, fieldsArg(fields))
	if err != nil {
		return record.Record{}, store.NewTransientError("postgres insert", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if err != nil {
		return record.Record{}, store.NewTransientError("postgres insert", err)
	}
	return rec, nil
}

// UpdateWhere merges set into every row whose top-level field equals value
func (s *Store) UpdateWhere(ctx context.Context, field, value string, set record.Fields) (int, error) {
	sql := fmt.Sprintf(`
UPDATE %s SET fields = fields || $3::jsonb, updated_at = clock_timestamp()
WHERE fields->>$1 = $2`, s.table)

	tag, err := s.pool.Exec(ctx, sql, field, value, fieldsArg(set))
	if err != nil {
		return 0, store.NewTransientError("postgres update", err)
	}
	return int(tag.RowsAffected()), nil
}

// FindOne returns the lowest-ID row whose top-level field equals value
func (s *Store) FindOne(ctx context.Context, field, value string) (record.Record, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE fields->>$1 = $2 ORDER BY id LIMIT 1`, columns, s.table)

	rows, err := s.pool.Query(ctx, sql, field, value)
	if err != nil {
		return record.Record{}, store.NewTransientError("postgres find one", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return record.Record{}, store.ErrNotFound
	}
	if err != nil {
		return record.Record{}, store.NewTransientError("postgres find one", err)
	}
	if rec.DecodeErr != nil {
		return record.Record{}, fmt.Errorf("failed to decode fields of record %d: %w", rec.ID, rec.DecodeErr)
	}
	return rec, nil
}

func scanRecord(row pgx.CollectableRow) (record.Record, error) {
	var (
		id     int64
		fields []byte
		rec    record.Record
	)
	if err := row.Scan(&id, &fields, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return record.Record{}, err
	}
	rec.ID = record.ID(id)
	rec.Fields, rec.DecodeErr = record.DecodeFields(fields)
	return rec, nil
}

// fieldsArg keeps a nil map from being stored as JSON null
func fieldsArg(f record.Fields) map[string]any {
	if f == nil {
		return map[string]any{}
	}
	return f
}

func quoteTable(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}
