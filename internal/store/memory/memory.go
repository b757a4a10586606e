// Package memory provides an in-memory, ID-ordered record store.
// It backs the demo pipeline and the engine's tests, and serves as either the
// source or the target of a sync.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/stacklok/record-sync/internal/record"
	"github.com/stacklok/record-sync/internal/store"
)

const btreeDegree = 32

// Store is a goroutine-safe in-memory store ordered by record ID.
type Store struct {
	mu     sync.RWMutex
	tree   *btree.BTreeG[record.Record]
	nextID record.ID
	now    func() time.Time
}

var (
	_ store.Source  = (*Store)(nil)
	_ store.Target  = (*Store)(nil)
	_ store.Mutator = (*Store)(nil)
)

// Option configures a Store
type Option func(*Store)

// WithClock sets the clock used to stamp CreatedAt/UpdatedAt on Insert and UpdateWhere.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty store
func New(opts ...Option) *Store {
	s := &Store{
		tree: btree.NewG(btreeDegree, func(a, b record.Record) bool {
			return a.ID < b.ID
		}),
		nextID: 1,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Find returns records matching q in the requested ID order.
func (s *Store) Find(ctx context.Context, q store.Query) ([]record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.NewTransientError("memory find", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]record.Record, 0)
	f := q.Filter

	switch q.Sort {
	case store.SortIDAscending:
		visit := func(rec record.Record) bool {
			if (f.IDBefore != nil && rec.ID >= *f.IDBefore) || (f.IDAtMost != nil && rec.ID > *f.IDAtMost) {
				return false
			}
			if f.Matches(rec) {
				out = append(out, rec.Clone())
			}
			return q.Limit == 0 || len(out) < q.Limit
		}
		if f.IDAtLeast != nil {
			s.tree.AscendGreaterOrEqual(record.Record{ID: *f.IDAtLeast}, visit)
		} else {
			s.tree.Ascend(visit)
		}
	case store.SortIDDescending:
		visit := func(rec record.Record) bool {
			if f.IDAtLeast != nil && rec.ID < *f.IDAtLeast {
				return false
			}
			if f.Matches(rec) {
				out = append(out, rec.Clone())
			}
			return q.Limit == 0 || len(out) < q.Limit
		}
		switch {
		case f.IDBefore != nil:
			s.tree.DescendLessOrEqual(record.Record{ID: *f.IDBefore - 1}, visit)
		case f.IDAtMost != nil:
			s.tree.DescendLessOrEqual(record.Record{ID: *f.IDAtMost}, visit)
		default:
			s.tree.Descend(visit)
		}
	default:
		return nil, fmt.Errorf("unsupported sort order: %s", q.Sort)
	}

	return out, nil
}

// Upsert stores rec verbatim, keyed by its ID.
func (s *Store) Upsert(ctx context.Context, rec record.Record) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, store.NewTransientError("memory upsert", err)
	}
	if !rec.ID.Valid() {
		return false, fmt.Errorf("cannot upsert record with invalid id %d", rec.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, replaced := s.tree.ReplaceOrInsert(rec.Clone())
	if rec.ID >= s.nextID {
		s.nextID = rec.ID + 1
	}
	return replaced, nil
}

// Insert assigns the next ID and the current time to a new record.
func (s *Store) Insert(_ context.Context, fields record.Fields) (record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec := record.Record{
		ID:        s.nextID,
		Fields:    maps.Clone(fields),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if rec.Fields == nil {
		rec.Fields = record.Fields{}
	}
	s.nextID++
	s.tree.ReplaceOrInsert(rec)
	return rec.Clone(), nil
}

// UpdateWhere merges set into every record whose field matches value and bumps UpdatedAt.
func (s *Store) UpdateWhere(_ context.Context, field, value string, set record.Fields) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []record.Record
	s.tree.Ascend(func(rec record.Record) bool {
		if fieldEquals(rec, field, value) {
			matched = append(matched, rec.Clone())
		}
		return true
	})

	now := s.now()
	for _, rec := range matched {
		if rec.Fields == nil {
			rec.Fields = record.Fields{}
		}
		maps.Copy(rec.Fields, set)
		rec.UpdatedAt = now
		s.tree.ReplaceOrInsert(rec)
	}
	return len(matched), nil
}

// FindOne returns the lowest-ID record whose field matches value.
func (s *Store) FindOne(_ context.Context, field, value string) (record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		found record.Record
		ok    bool
	)
	s.tree.Ascend(func(rec record.Record) bool {
		if fieldEquals(rec, field, value) {
			found, ok = rec.Clone(), true
			return false
		}
		return true
	})
	if !ok {
		return record.Record{}, store.ErrNotFound
	}
	return found, nil
}

// Get returns the record with the given ID
func (s *Store) Get(id record.ID) (record.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.tree.Get(record.Record{ID: id})
	if !ok {
		return record.Record{}, false
	}
	return rec.Clone(), true
}

// Len returns the number of stored records
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// IDs returns every stored ID in ascending order
func (s *Store) IDs() []record.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]record.ID, 0, s.tree.Len())
	s.tree.Ascend(func(rec record.Record) bool {
		ids = append(ids, rec.ID)
		return true
	})
	return ids
}

func fieldEquals(rec record.Record, field, value string) bool {
	v, ok := rec.Fields[field]
	return ok && fmt.Sprint(v) == value
}
