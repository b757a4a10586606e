package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stacklok/record-sync/internal/record"
	"github.com/stacklok/record-sync/internal/store/memory"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// testClock hands out strictly increasing timestamps one second apart
type testClock struct {
	current time.Time
}

func newTestClock() *testClock {
	return &testClock{current: baseTime}
}

func (c *testClock) Now() time.Time {
	c.current = c.current.Add(time.Second)
	return c.current
}

func newSeededSource(t *testing.T, clock *testClock, names ...string) *memory.Store {
	t.Helper()

	src := memory.New(memory.WithClock(clock.Now))
	for _, name := range names {
		_, err := src.Insert(context.Background(), record.Fields{"name": name})
		require.NoError(t, err)
	}
	return src
}

func newNumberedSource(t *testing.T, n int) *memory.Store {
	t.Helper()

	names := make([]string, n)
	for i := range names {
		names[i] = "record"
	}
	return newSeededSource(t, newTestClock(), names...)
}

// drainFullSync drives SyncPage until the cursor is exhausted and returns the number
// of calls made. It fails the test if the loop does not terminate.
func drainFullSync(t *testing.T, syncer *PaginatedSyncer, limit, maxPages int) (int, Stats) {
	t.Helper()

	var (
		cursor PageCursor
		total  Stats
	)
	for pages := 1; pages <= maxPages; pages++ {
		res, err := syncer.SyncPage(context.Background(), limit, cursor)
		require.NoError(t, err)
		total.Add(res.Stats)
		if !res.NextCursor.HasMore {
			return pages, total
		}
		cursor = res.NextCursor
	}
	t.Fatalf("full sync did not terminate within %d pages", maxPages)
	return 0, total
}

func validRecord(id record.ID, updatedAt time.Time) record.Record {
	return record.Record{
		ID:        id,
		Fields:    record.Fields{"id": int64(id)},
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
}

func idsOf(recs []record.Record) []record.ID {
	out := make([]record.ID, len(recs))
	for i, rec := range recs {
		out[i] = rec.ID
	}
	return out
}
