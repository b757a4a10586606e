package coordinator

import (
	"github.com/stacklok/record-sync/internal/record"
	pkgsync "github.com/stacklok/record-sync/internal/sync"
)

// splitRange cuts r into at most n disjoint, contiguous ranges of near-equal width,
// ordered from the highest IDs down. Spans narrower than n yield one range per ID.
func splitRange(r pkgsync.IDRange, n int) []pkgsync.IDRange {
	span := int64(r.Max-r.Min) + 1
	if n < 1 {
		n = 1
	}
	if int64(n) > span {
		n = int(span)
	}

	width := span / int64(n)
	extra := span % int64(n)

	out := make([]pkgsync.IDRange, 0, n)
	hi := r.Max
	for i := range n {
		w := width
		if int64(i) < extra {
			w++
		}
		lo := hi - record.ID(w) + 1
		out = append(out, pkgsync.IDRange{Min: lo, Max: hi})
		hi = lo - 1
	}
	return out
}
