// Package source defines the change-log capabilities the routing core
// consumes, plus helpers shared by the SQL-backed implementations.
//
// The core never writes to a change log. Implementations live in
// internal/store (SQLite), internal/source/postgres and internal/source/mssql.
package source

import (
	"context"
	"time"

	"github.com/roach88/rowroute/internal/model"
)

// ChangeLog is the read side of a trigger-populated change table.
type ChangeLog interface {
	// QueryChangeIDs returns the ids present in [start, end], ascending.
	// An empty channelID matches every channel. end may be model.OpenEnd.
	QueryChangeIDs(ctx context.Context, channelID string, start, end int64) ([]int64, error)

	// QueryChangeRecords opens an ascending-id cursor over the channel's
	// records whose ids fall within ranges. limit <= 0 means unbounded.
	// The cursor is finite and belongs to a single caller.
	QueryChangeRecords(ctx context.Context, channelID string, ranges []model.IDRange, limit int) (Cursor, error)
}

// Cursor is a lazy, finite sequence of change records.
type Cursor interface {
	Next() bool
	Record() model.ChangeRecord
	Err() error
	Close() error
}

// PendingTransactionProbe is implemented by sources that can see in-flight
// transactions. It is optional: sources without transaction visibility do
// not implement it, and only the gap staleness timeout applies to them.
type PendingTransactionProbe interface {
	// HasPendingTransactionsSince reports whether any transaction that
	// started at or before since is still open.
	HasPendingTransactionsSince(ctx context.Context, since time.Time) (bool, error)
}

// Probe returns log's PendingTransactionProbe, or nil if it has none.
func Probe(log ChangeLog) PendingTransactionProbe {
	if p, ok := log.(PendingTransactionProbe); ok {
		return p
	}
	return nil
}
