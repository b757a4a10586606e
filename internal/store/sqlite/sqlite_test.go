package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/record-sync/internal/record"
	"github.com/stacklok/record-sync/internal/store"
	"github.com/stacklok/record-sync/internal/store/memory"
	pkgsync "github.com/stacklok/record-sync/internal/sync"
)

type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func newTestStore(t *testing.T) (*Store, *stepClock) {
	t.Helper()

	clock := &stepClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s, err := New(context.Background(), filepath.Join(t.TempDir(), "records.db"), WithClock(clock.now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func idPtr(id record.ID) *record.ID { return &id }

func ids(recs []record.Record) []record.ID {
	out := make([]record.ID, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}

func TestStore_Find(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()
	for i := range 6 {
		_, err := s.Insert(ctx, record.Fields{"seq": i})
		require.NoError(t, err)
	}

	tests := []struct {
		name    string
		query   store.Query
		wantIDs []record.ID
		wantErr bool
	}{
		{
			name:    "first descending page",
			query:   store.Query{Sort: store.SortIDDescending, Limit: 4},
			wantIDs: []record.ID{6, 5, 4, 3},
		},
		{
			name: "next page below the boundary",
			query: store.Query{
				Filter: store.Filter{IDBefore: idPtr(3)},
				Sort:   store.SortIDDescending,
				Limit:  4,
			},
			wantIDs: []record.ID{2, 1},
		},
		{
			name: "partition range",
			query: store.Query{
				Filter: store.Filter{IDBefore: idPtr(5), IDAtLeast: idPtr(2)},
				Sort:   store.SortIDAscending,
			},
			wantIDs: []record.ID{2, 3, 4},
		},
		{
			name:    "negative limit",
			query:   store.Query{Sort: store.SortIDAscending, Limit: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Find(ctx, tt.query)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantIDs, ids(got))
		})
	}
}

func TestStore_UpdatedAfterIsStrict(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	first, err := s.Insert(ctx, record.Fields{"owner": "test1"})
	require.NoError(t, err)
	second, err := s.Insert(ctx, record.Fields{"owner": "test2"})
	require.NoError(t, err)

	since := first.UpdatedAt
	got, err := s.Find(ctx, store.Query{
		Filter: store.Filter{UpdatedAfter: &since},
		Sort:   store.SortIDAscending,
	})
	require.NoError(t, err)
	assert.Equal(t, []record.ID{second.ID}, ids(got))
}

func TestStore_UpdateWhereAndFindOne(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, record.Fields{"owner": "test1", "name": "GE"})
	require.NoError(t, err)
	inserted, err := s.Insert(ctx, record.Fields{"owner": "test4", "name": "Google"})
	require.NoError(t, err)

	n, err := s.UpdateWhere(ctx, "owner", "test4", record.Fields{"touched": true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.FindOne(ctx, "owner", "test4")
	require.NoError(t, err)
	assert.Equal(t, inserted.ID, got.ID)
	assert.Equal(t, "Google", got.Fields["name"])
	assert.Equal(t, true, got.Fields["touched"])
	assert.True(t, got.UpdatedAt.After(inserted.UpdatedAt))

	_, err = s.FindOne(ctx, "owner", "nobody")
	require.ErrorIs(t, err, store.ErrNotFound)

	n, err = s.UpdateWhere(ctx, "owner", "nobody", record.Fields{"touched": true})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_Upsert(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	ts := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)
	rec := record.Record{ID: 42, Fields: record.Fields{"name": "Exxon"}, CreatedAt: ts, UpdatedAt: ts}

	replaced, err := s.Upsert(ctx, rec)
	require.NoError(t, err)
	assert.False(t, replaced)

	rec.Fields["name"] = "Exxon Mobil"
	rec.UpdatedAt = ts.Add(time.Second)
	replaced, err = s.Upsert(ctx, rec)
	require.NoError(t, err)
	assert.True(t, replaced)

	got, err := s.Find(ctx, store.Query{Sort: store.SortIDAscending})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Exxon Mobil", got[0].Fields["name"])
	assert.True(t, rec.UpdatedAt.Equal(got[0].UpdatedAt))
	assert.True(t, ts.Equal(got[0].CreatedAt))

	_, err = s.Upsert(ctx, record.Record{UpdatedAt: ts})
	require.Error(t, err)
}

func TestNew_ReopenKeepsRecords(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "records.db")
	ctx := context.Background()

	s, err := New(ctx, path)
	require.NoError(t, err)
	_, err = s.Insert(ctx, record.Fields{"name": "GE"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := New(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.Find(ctx, store.Query{Sort: store.SortIDAscending})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "GE", got[0].Fields["name"])
}

func TestStore_UndecodableFieldsAreMalformed(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, record.Fields{"name": "GE"})
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (fields, created_at, updated_at) VALUES (?, ?, ?)`, `{"name":`, 1, 1)
	require.NoError(t, err)
	_, err = s.Insert(ctx, record.Fields{"name": "Google"})
	require.NoError(t, err)

	got, err := s.Find(ctx, store.Query{Sort: store.SortIDAscending})
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.ErrorIs(t, got[1].Validate(), record.ErrMalformedRecord)
	assert.NoError(t, got[0].Validate())
	assert.NoError(t, got[2].Validate())

	target := memory.New()
	res, err := pkgsync.NewPaginatedSyncer(s, target).SyncPage(ctx, 10, pkgsync.PageCursor{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Malformed)
	assert.Equal(t, 2, res.Written)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, record.ID(2), res.Skipped[0].ID)
	assert.Equal(t, []record.ID{1, 3}, target.IDs())
	assert.False(t, res.NextCursor.HasMore)
}

func TestStore_LargeIntegersRoundTrip(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rec := record.Record{
		ID:        7,
		Fields:    record.Fields{"amount": json.Number("9007199254740993")},
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	_, err := s.Upsert(ctx, rec)
	require.NoError(t, err)

	got, err := s.Find(ctx, store.Query{Sort: store.SortIDAscending})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, json.Number("9007199254740993"), got[0].Fields["amount"])

	inserted, err := s.Insert(ctx, record.Fields{"name": "GE", "amount": int64(1) << 60})
	require.NoError(t, err)
	found, err := s.FindOne(ctx, "name", "GE")
	require.NoError(t, err)
	assert.Equal(t, inserted.ID, found.ID)
	assert.Equal(t, json.Number("1152921504606846976"), found.Fields["amount"])
}

func TestJSONPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `$."owner"`, jsonPath("owner"))
	assert.Equal(t, `$."a.b"`, jsonPath("a.b"))
}
