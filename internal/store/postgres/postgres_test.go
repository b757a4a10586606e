//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/record-sync/database"
	"github.com/stacklok/record-sync/internal/record"
	"github.com/stacklok/record-sync/internal/store"
)

func idPtr(id record.ID) *record.ID { return &id }

func TestStore_InsertAndFind(t *testing.T) {
	t.Parallel()

	pool, _ := database.SetupTestDB(t)
	ctx := context.Background()
	src := New(pool, "source_records")

	var ids []record.ID
	for i := range 5 {
		rec, err := src.Insert(ctx, record.Fields{"owner": "test1", "seq": float64(i)})
		require.NoError(t, err)
		assert.True(t, rec.ID.Valid())
		assert.False(t, rec.UpdatedAt.IsZero())
		ids = append(ids, rec.ID)
	}

	tests := []struct {
		name    string
		query   store.Query
		wantIDs []record.ID
	}{
		{
			name:    "descending page",
			query:   store.Query{Sort: store.SortIDDescending, Limit: 2},
			wantIDs: []record.ID{ids[4], ids[3]},
		},
		{
			name: "descending page below a boundary",
			query: store.Query{
				Filter: store.Filter{IDBefore: idPtr(ids[3])},
				Sort:   store.SortIDDescending,
				Limit:  2,
			},
			wantIDs: []record.ID{ids[2], ids[1]},
		},
		{
			name: "ascending with floor",
			query: store.Query{
				Filter: store.Filter{IDAtLeast: idPtr(ids[3])},
				Sort:   store.SortIDAscending,
			},
			wantIDs: []record.ID{ids[3], ids[4]},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := src.Find(ctx, tt.query)
			require.NoError(t, err)

			got := make([]record.ID, 0, len(recs))
			for _, r := range recs {
				got = append(got, r.ID)
			}
			assert.Equal(t, tt.wantIDs, got)
		})
	}
}

func TestStore_UpdateWhereAndDelta(t *testing.T) {
	t.Parallel()

	pool, _ := database.SetupTestDB(t)
	ctx := context.Background()
	src := New(pool, "source_records")

	first, err := src.Insert(ctx, record.Fields{"owner": "test1"})
	require.NoError(t, err)
	_, err = src.Insert(ctx, record.Fields{"owner": "test4"})
	require.NoError(t, err)

	n, err := src.UpdateWhere(ctx, "owner", "test4", record.Fields{"touched": true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	touched, err := src.FindOne(ctx, "owner", "test4")
	require.NoError(t, err)
	assert.Equal(t, true, touched.Fields["touched"])
	assert.Equal(t, "test4", touched.Fields["owner"])

	since := first.UpdatedAt
	recs, err := src.Find(ctx, store.Query{
		Filter: store.Filter{UpdatedAfter: &since},
		Sort:   store.SortIDAscending,
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, touched.ID, recs[0].ID)

	_, err = src.FindOne(ctx, "owner", "nobody")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_Upsert(t *testing.T) {
	t.Parallel()

	pool, _ := database.SetupTestDB(t)
	ctx := context.Background()
	dst := New(pool, "target_records")

	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rec := record.Record{ID: 42, Fields: record.Fields{"name": "GE"}, CreatedAt: ts, UpdatedAt: ts}

	replaced, err := dst.Upsert(ctx, rec)
	require.NoError(t, err)
	assert.False(t, replaced)

	rec.Fields = record.Fields{"name": "Exxon"}
	rec.UpdatedAt = ts.Add(time.Minute)
	replaced, err = dst.Upsert(ctx, rec)
	require.NoError(t, err)
	assert.True(t, replaced)

	got, err := dst.FindOne(ctx, "name", "Exxon")
	require.NoError(t, err)
	assert.Equal(t, record.ID(42), got.ID)
	assert.True(t, rec.UpdatedAt.Equal(got.UpdatedAt))

	_, err = dst.Upsert(ctx, record.Record{ID: 0, UpdatedAt: ts})
	require.Error(t, err)
}

func TestStore_EnsureTable(t *testing.T) {
	t.Parallel()

	pool, _ := database.SetupTestDB(t)
	ctx := context.Background()

	_, err := pool.Exec(ctx, "CREATE SCHEMA archive")
	require.NoError(t, err)

	s := New(pool, "archive.records")
	require.NoError(t, s.EnsureTable(ctx))
	require.NoError(t, s.EnsureTable(ctx))

	rec, err := s.Insert(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, record.Fields{}, rec.Fields)
}
