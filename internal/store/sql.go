package store

import (
	"fmt"
	"strings"
	"time"
)

// SQLDialect adapts FindSQL to a database driver
type SQLDialect struct {
	// Placeholder renders the n-th (1-based) bind parameter
	Placeholder func(n int) string
	// TimeArg converts a timestamp into the stored column representation
	TimeArg func(t time.Time) any
}

// FindSQL renders q as a SELECT of columns over an already quoted table.
// It returns the statement and its bind arguments.
func FindSQL(table, columns string, q Query, d SQLDialect) (string, []any, error) {
	var (
		conds []string
		args  []any
	)
	bind := func(v any) string {
		args = append(args, v)
		return d.Placeholder(len(args))
	}

	if q.Filter.IDBefore != nil {
		conds = append(conds, "id < "+bind(int64(*q.Filter.IDBefore)))
	}
	if q.Filter.IDAtLeast != nil {
		conds = append(conds, "id >= "+bind(int64(*q.Filter.IDAtLeast)))
	}
	if q.Filter.IDAtMost != nil {
		conds = append(conds, "id <= "+bind(int64(*q.Filter.IDAtMost)))
	}
	if q.Filter.UpdatedAfter != nil {
		conds = append(conds, "updated_at > "+bind(d.TimeArg(*q.Filter.UpdatedAfter)))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", columns, table)
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}

	switch q.Sort {
	case SortIDDescending:
		sb.WriteString(" ORDER BY id DESC")
	case SortIDAscending:
		sb.WriteString(" ORDER BY id ASC")
	default:
		return "", nil, fmt.Errorf("unsupported sort order: %s", q.Sort)
	}

	if q.Limit < 0 {
		return "", nil, fmt.Errorf("invalid limit %d", q.Limit)
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + bind(q.Limit))
	}

	return sb.String(), args, nil
}
