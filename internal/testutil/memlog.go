package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/roach88/rowroute/internal/model"
	"github.com/roach88/rowroute/internal/source"
)

// MemoryLog is an in-memory source.ChangeLog.
//
// Records may be added in any id order to simulate out-of-order commits.
// QueryErr, when set, is returned by every query.
type MemoryLog struct {
	mu       sync.Mutex
	records  map[int64]model.ChangeRecord
	QueryErr error
}

var _ source.ChangeLog = (*MemoryLog)(nil)

// NewMemoryLog creates a log holding recs.
func NewMemoryLog(recs ...model.ChangeRecord) *MemoryLog {
	l := &MemoryLog{records: make(map[int64]model.ChangeRecord)}
	l.Add(recs...)
	return l
}

// Add commits recs to the log.
func (l *MemoryLog) Add(recs ...model.ChangeRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range recs {
		l.records[r.ID] = r
	}
}

func (l *MemoryLog) sorted() []model.ChangeRecord {
	out := make([]model.ChangeRecord, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *MemoryLog) QueryChangeIDs(_ context.Context, channelID string, start, end int64) ([]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.QueryErr != nil {
		return nil, l.QueryErr
	}

	ids := []int64{}
	for _, r := range l.sorted() {
		if r.ID < start || r.ID > end {
			continue
		}
		if channelID != "" && r.ChannelID != channelID {
			continue
		}
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (l *MemoryLog) QueryChangeRecords(_ context.Context, channelID string, ranges []model.IDRange, limit int) (source.Cursor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.QueryErr != nil {
		return nil, l.QueryErr
	}

	var out []model.ChangeRecord
	for _, r := range l.sorted() {
		if r.ChannelID != channelID || !source.InRanges(ranges, r.ID) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return source.NewSliceCursor(out), nil
}

// ProbingLog is a MemoryLog that also answers pending-transaction probes.
type ProbingLog struct {
	*MemoryLog

	mu      sync.Mutex
	pending bool
	probes  []time.Time
}

// NewProbingLog wraps log with a probe reporting pending.
func NewProbingLog(log *MemoryLog, pending bool) *ProbingLog {
	return &ProbingLog{MemoryLog: log, pending: pending}
}

// SetPending changes the probe answer.
func (p *ProbingLog) SetPending(pending bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = pending
}

// Probes returns the since times the probe was asked about.
func (p *ProbingLog) Probes() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.probes...)
}

func (p *ProbingLog) HasPendingTransactionsSince(_ context.Context, since time.Time) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes = append(p.probes, since)
	return p.pending, nil
}
