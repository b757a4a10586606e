// Package seed writes demo records into a source store for local runs and tests.
package seed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stacklok/record-sync/internal/record"
	"github.com/stacklok/record-sync/internal/store"
)

// TouchedOwner is the owner set by Touch
const TouchedOwner = "test4"

// NameField is the field demo records are looked up by
const NameField = "name"

// Demo returns the three fixture companies, in insertion order
func Demo() []record.Fields {
	return []record.Fields{
		{NameField: "GE", "owner": "test", "amount": 1000000},
		{NameField: "Exxon", "owner": "test2", "amount": 5000000},
		{NameField: "Google", "owner": "test3", "amount": 5000001},
	}
}

// Generated returns the fields of the n-th generated record, starting at 1
func Generated(n int) record.Fields {
	return record.Fields{
		NameField: fmt.Sprintf("company-%05d", n),
		"owner":   fmt.Sprintf("owner-%d", n%7),
		"amount":  n * 1000,
	}
}

// Load inserts count records into m: the demo fixtures first, then generated ones.
// A count below the number of fixtures inserts only that many fixtures.
func Load(ctx context.Context, m store.Mutator, count int) ([]record.Record, error) {
	demo := Demo()
	out := make([]record.Record, 0, count)
	for i := range count {
		fields := Generated(i - len(demo) + 1)
		if i < len(demo) {
			fields = demo[i]
		}

		rec, err := m.Insert(ctx, fields)
		if err != nil {
			return out, fmt.Errorf("failed to insert record %d of %d: %w", i+1, count, err)
		}
		out = append(out, rec)
	}

	slog.InfoContext(ctx, "Seeded source records", "count", len(out))
	return out, nil
}

// Touch sets the owner of every record named name to TouchedOwner, bumping its updatedAt.
// It returns store.ErrNotFound when no record has that name.
func Touch(ctx context.Context, m store.Mutator, name string) (int, error) {
	n, err := m.UpdateWhere(ctx, NameField, name, record.Fields{"owner": TouchedOwner})
	if err != nil {
		return 0, fmt.Errorf("failed to touch %q: %w", name, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: %s", store.ErrNotFound, name)
	}
	return n, nil
}
