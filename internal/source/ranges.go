package source

import (
	"sort"
	"strings"

	"github.com/roach88/rowroute/internal/model"
)

// DefaultMaxRangesInQuery bounds how many id ranges are pushed into SQL
// before falling back to a scan with client-side filtering.
const DefaultMaxRangesInQuery = 100

// RangePredicate is a WHERE fragment selecting ids within a set of ranges.
type RangePredicate struct {
	Clause string
	Args   []any

	// FilterClientSide is set when the clause only bounds the scan from
	// below and rows must be checked against the ranges after fetching.
	FilterClientSide bool
}

// BuildRangePredicate renders ranges as SQL over column col. placeholder
// returns the bind marker for the n-th argument (1-based) so each dialect
// can supply ?, $n or @pn. Open-ended ranges are rendered without an upper
// bound. ranges must be sorted by start and non-overlapping.
func BuildRangePredicate(col string, ranges []model.IDRange, maxRanges, argOffset int, placeholder func(n int) string) RangePredicate {
	if len(ranges) == 0 {
		return RangePredicate{Clause: "1 = 0"}
	}
	if maxRanges <= 0 {
		maxRanges = DefaultMaxRangesInQuery
	}

	n := argOffset
	next := func() string {
		n++
		return placeholder(n)
	}

	if len(ranges) > maxRanges {
		return RangePredicate{
			Clause:           col + " >= " + next(),
			Args:             []any{ranges[0].Start},
			FilterClientSide: true,
		}
	}

	parts := make([]string, 0, len(ranges))
	args := make([]any, 0, len(ranges)*2)
	for _, r := range ranges {
		if r.End == model.OpenEnd {
			parts = append(parts, col+" >= "+next())
			args = append(args, r.Start)
			continue
		}
		lo := next()
		hi := next()
		parts = append(parts, col+" BETWEEN "+lo+" AND "+hi)
		args = append(args, r.Start, r.End)
	}
	return RangePredicate{Clause: "(" + strings.Join(parts, " OR ") + ")", Args: args}
}

// InRanges reports whether id falls within any of the sorted ranges.
func InRanges(ranges []model.IDRange, id int64) bool {
	i := sort.Search(len(ranges), func(i int) bool { return ranges[i].End >= id })
	return i < len(ranges) && ranges[i].Start <= id
}

// FilterCursor wraps a cursor and drops records outside ranges.
func FilterCursor(c Cursor, ranges []model.IDRange) Cursor {
	return &filterCursor{Cursor: c, ranges: ranges}
}

type filterCursor struct {
	Cursor
	ranges []model.IDRange
}

func (f *filterCursor) Next() bool {
	for f.Cursor.Next() {
		if InRanges(f.ranges, f.Cursor.Record().ID) {
			return true
		}
	}
	return false
}
