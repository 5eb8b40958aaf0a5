package source

import (
	"database/sql"

	"github.com/roach88/rowroute/internal/model"
)

// ScanFunc decodes the current row of rows into a change record.
type ScanFunc func(rows *sql.Rows) (model.ChangeRecord, error)

// SQLCursor adapts *sql.Rows to Cursor.
type SQLCursor struct {
	rows *sql.Rows
	scan ScanFunc
	cur  model.ChangeRecord
	err  error
}

// NewSQLCursor wraps rows. The cursor owns rows and closes them.
func NewSQLCursor(rows *sql.Rows, scan ScanFunc) *SQLCursor {
	return &SQLCursor{rows: rows, scan: scan}
}

func (c *SQLCursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	c.cur, c.err = c.scan(c.rows)
	return c.err == nil
}

func (c *SQLCursor) Record() model.ChangeRecord { return c.cur }

func (c *SQLCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *SQLCursor) Close() error { return c.rows.Close() }

// SliceCursor iterates an in-memory slice. Used by tests and by callers that
// already hold the records.
type SliceCursor struct {
	records []model.ChangeRecord
	idx     int
}

// NewSliceCursor returns a cursor over records in the given order.
func NewSliceCursor(records []model.ChangeRecord) *SliceCursor {
	return &SliceCursor{records: records, idx: -1}
}

func (c *SliceCursor) Next() bool {
	if c.idx+1 >= len(c.records) {
		return false
	}
	c.idx++
	return true
}

func (c *SliceCursor) Record() model.ChangeRecord { return c.records[c.idx] }
func (c *SliceCursor) Err() error                 { return nil }
func (c *SliceCursor) Close() error               { return nil }
