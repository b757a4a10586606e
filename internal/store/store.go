// Package store defines the source and target store abstractions consumed by the
// synchronization engine, and the query model used against the source.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stacklok/record-sync/internal/record"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Source,Target,Mutator

// SortOrder is the declared ordering of a Find result.
type SortOrder int

const (
	// SortIDDescending orders results by ID, highest first
	SortIDDescending SortOrder = iota
	// SortIDAscending orders results by ID, lowest first
	SortIDAscending
)

func (s SortOrder) String() string {
	switch s {
	case SortIDDescending:
		return "id_desc"
	case SortIDAscending:
		return "id_asc"
	default:
		return fmt.Sprintf("SortOrder(%d)", int(s))
	}
}

// Filter restricts a Find. Nil fields are not applied; set fields are ANDed.
type Filter struct {
	// IDBefore keeps records with ID strictly less than the value
	IDBefore *record.ID
	// IDAtLeast keeps records with ID greater than or equal to the value
	IDAtLeast *record.ID
	// IDAtMost keeps records with ID less than or equal to the value
	IDAtMost *record.ID
	// UpdatedAfter keeps records with UpdatedAt strictly after the value
	UpdatedAfter *time.Time
}

// Query is a single Find request.
type Query struct {
	Filter Filter
	Sort   SortOrder
	// Limit caps the number of returned records. Zero means no limit.
	Limit int
}

// Source is the read-only view of the source store.
type Source interface {
	// Find returns the records matching the query in the requested order
	Find(ctx context.Context, q Query) ([]record.Record, error)
}

// Target is the write-only view of the target store.
type Target interface {
	// Upsert inserts the record if its ID is absent, or replaces it otherwise.
	// It reports whether an existing record was replaced.
	Upsert(ctx context.Context, rec record.Record) (bool, error)
}

// Mutator is the write side of a source store. It is only used by the seed, touch
// and inspect commands; the synchronization engine never writes to the source.
type Mutator interface {
	// Insert stores a new record and returns it with the ID and timestamps assigned by the store
	Insert(ctx context.Context, fields record.Fields) (record.Record, error)
	// UpdateWhere merges set into every record whose field equals value, returning the count updated
	UpdateWhere(ctx context.Context, field, value string, set record.Fields) (int, error)
	// FindOne returns the first record whose field equals value, or ErrNotFound
	FindOne(ctx context.Context, field, value string) (record.Record, error)
}

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("record not found")

// ErrTransient is matched by every TransientError via errors.Is.
var ErrTransient = errors.New("transient store error")

// TransientError wraps a read or write failure from a store.
// The synchronization engine retries the current page or delta window on these errors.
type TransientError struct {
	Op  string
	Err error
}

// NewTransientError wraps err as a transient failure of op. It returns nil for a nil err.
func NewTransientError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTransient) work for wrapped TransientErrors.
func (*TransientError) Is(target error) bool {
	return target == ErrTransient
}

// IsTransient reports whether err is a store failure worth retrying
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Matches reports whether rec satisfies the filter. In-memory backends use it directly.
func (f Filter) Matches(rec record.Record) bool {
	if f.IDBefore != nil && rec.ID >= *f.IDBefore {
		return false
	}
	if f.IDAtLeast != nil && rec.ID < *f.IDAtLeast {
		return false
	}
	if f.IDAtMost != nil && rec.ID > *f.IDAtMost {
		return false
	}
	if f.UpdatedAfter != nil && !rec.UpdatedAt.After(*f.UpdatedAfter) {
		return false
	}
	return true
}
