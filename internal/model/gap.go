package model

import (
	"fmt"
	"math"
	"time"
)

// OpenEnd is the end id of the trailing, unbounded gap.
const OpenEnd int64 = math.MaxInt64

// GapStatus is the lifecycle state of a gap ledger entry.
type GapStatus string

const (
	GapOpen             GapStatus = "OPEN"
	GapResolved         GapStatus = "RESOLVED"
	GapSkippedNoPending GapStatus = "SKIPPED_NO_PENDING_TX"
	GapSkippedExpired   GapStatus = "SKIPPED_EXPIRED"
)

// Skipped reports whether the status is one of the terminal skip states.
func (s GapStatus) Skipped() bool {
	return s == GapSkippedNoPending || s == GapSkippedExpired
}

// Gap is a claimed hole in the change id sequence.
// Entries are never deleted; resolved and skipped gaps remain as an audit trail.
type Gap struct {
	StartID        int64     `json:"start_id"`
	EndID          int64     `json:"end_id"`
	Status         GapStatus `json:"status"`
	CreateTime     time.Time `json:"create_time"`
	LastUpdateTime time.Time `json:"last_update_time"`
}

// OpenEnded reports whether this is the trailing gap.
func (g Gap) OpenEnded() bool {
	return g.EndID == OpenEnd
}

// Contains reports whether id falls within the gap.
func (g Gap) Contains(id int64) bool {
	return id >= g.StartID && id <= g.EndID
}

func (g Gap) String() string {
	if g.OpenEnded() {
		return fmt.Sprintf("[%d,∞) %s", g.StartID, g.Status)
	}
	return fmt.Sprintf("[%d,%d] %s", g.StartID, g.EndID, g.Status)
}

// IDRange is an inclusive id interval.
type IDRange struct {
	Start int64
	End   int64
}

// Contains reports whether id falls within the range.
func (r IDRange) Contains(id int64) bool {
	return id >= r.Start && id <= r.End
}

// Ranges converts gaps to id ranges, preserving order.
func Ranges(gaps []Gap) []IDRange {
	out := make([]IDRange, len(gaps))
	for i, g := range gaps {
		out[i] = IDRange{Start: g.StartID, End: g.EndID}
	}
	return out
}
