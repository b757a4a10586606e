// Package sqlite provides a record store kept in a SQLite database file.
// Each file holds a single records table, so a source and a target need separate files.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/stacklok/record-sync/internal/record"
	"github.com/stacklok/record-sync/internal/store"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const (
	table   = "records"
	columns = "id, fields, created_at, updated_at"
)

// Timestamps are stored as unix nanoseconds so that ordering and the
// strict UpdatedAfter comparison keep full precision.
var dialect = store.SQLDialect{
	Placeholder: func(int) string { return "?" },
	TimeArg:     func(t time.Time) any { return t.UnixNano() },
}

// Store reads and writes records in a SQLite file
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ store.Source  = (*Store)(nil)
	_ store.Target  = (*Store)(nil)
	_ store.Mutator = (*Store)(nil)
)

// Option configures a Store
type Option func(*Store)

// WithClock sets the clock used to stamp inserts and updates
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New opens (or creates) the database at dbPath and applies the schema migrations.
// Use ":memory:" for a throwaway database.
func New(ctx context.Context, dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// one writer at a time; this also keeps ":memory:" on a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) runMigrations(ctx context.Context) error {
	fsys, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return err
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}
	return nil
}

// Find returns records matching q in the requested ID order
func (s *Store) Find(ctx context.Context, q store.Query) ([]record.Record, error) {
	query, args, err := store.FindSQL(table, columns, q, dialect)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.NewTransientError("sqlite find", err)
	}
	defer rows.Close()

	out := make([]record.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewTransientError("sqlite find", err)
	}
	return out, nil
}

// Upsert inserts rec or replaces the row with the same ID
func (s *Store) Upsert(ctx context.Context, rec record.Record) (bool, error) {
	if !rec.ID.Valid() {
		return false, fmt.Errorf("cannot upsert record with invalid id %d", rec.ID)
	}

	fields, err := encodeFields(rec.Fields)
	if err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, store.NewTransientError("sqlite upsert", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE id = ?`, int64(rec.ID)).Scan(&exists)
	if err != nil {
		return false, store.NewTransientError("sqlite upsert", err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO records (id, fields, created_at, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	fields = excluded.fields,
	created_at = excluded.created_at,
	updated_at = excluded.updated_at`,
		int64(rec.ID), fields, rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano())
	if err != nil {
		return false, store.NewTransientError("sqlite upsert", err)
	}

	if err := tx.Commit(); err != nil {
		return false, store.NewTransientError("sqlite upsert", err)
	}
	return exists > 0, nil
}

// Insert stores a new record with the next ID and the current time
func (s *Store) Insert(ctx context.Context, fields record.Fields) (record.Record, error) {
	if fields == nil {
		fields = record.Fields{}
	}
	encoded, err := encodeFields(fields)
	if err != nil {
		return record.Record{}, err
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO records (fields, created_at, updated_at) VALUES (?, ?, ?)`,
		encoded, now.UnixNano(), now.UnixNano())
	if err != nil {
		return record.Record{}, store.NewTransientError("sqlite insert", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return record.Record{}, store.NewTransientError("sqlite insert", err)
	}

	return record.Record{
		ID:        record.ID(id),
		Fields:    maps.Clone(fields),
		CreatedAt: time.Unix(0, now.UnixNano()),
		UpdatedAt: time.Unix(0, now.UnixNano()),
	}, nil
}

// UpdateWhere merges set into every row whose top-level field equals value
func (s *Store) UpdateWhere(ctx context.Context, field, value string, set record.Fields) (int, error) {
	patch, err := encodeFields(set)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET fields = json_patch(fields, ?), updated_at = ? WHERE json_extract(fields, ?) = ?`,
		patch, s.now().UnixNano(), jsonPath(field), value)
	if err != nil {
		return 0, store.NewTransientError("sqlite update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, store.NewTransientError("sqlite update", err)
	}
	return int(n), nil
}

// FindOne returns the lowest-ID row whose top-level field equals value
func (s *Store) FindOne(ctx context.Context, field, value string) (record.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM records WHERE json_extract(fields, ?) = ? ORDER BY id LIMIT 1`,
		jsonPath(field), value)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, store.ErrNotFound
	}
	if err != nil {
		return record.Record{}, err
	}
	if rec.DecodeErr != nil {
		return record.Record{}, fmt.Errorf("failed to decode fields of record %d: %w", rec.ID, rec.DecodeErr)
	}
	return rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (record.Record, error) {
	var (
		id               int64
		fields           string
		created, updated int64
	)
	if err := row.Scan(&id, &fields, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record.Record{}, err
		}
		return record.Record{}, store.NewTransientError("sqlite scan", err)
	}

	rec := record.Record{
		ID:        record.ID(id),
		CreatedAt: time.Unix(0, created),
		UpdatedAt: time.Unix(0, updated),
	}
	// an undecodable row is returned as a malformed record so the rest of the page syncs
	rec.Fields, rec.DecodeErr = record.DecodeFields([]byte(fields))
	return rec, nil
}

func encodeFields(f record.Fields) (string, error) {
	if f == nil {
		return "{}", nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("failed to encode fields: %w", err)
	}
	return string(b), nil
}

// jsonPath addresses a top-level key, quoting it so dots and spaces are taken literally
func jsonPath(field string) string {
	return `$."` + strings.ReplaceAll(field, `"`, `\"`) + `"`
}
