package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/rowroute/internal/model"
	"github.com/roach88/rowroute/internal/source"
)

var _ source.ChangeLog = (*Store)(nil)

const changeColumns = `id, table_name, event_type, channel_id, transaction_id, source_node_id,
	create_time, pk_data, row_data, old_data`

// AppendChange inserts a change record and returns its assigned id.
// rec.ID is ignored unless non-zero, in which case it is used verbatim;
// explicit ids let tests and the capture command reproduce out-of-order
// commits.
func (s *Store) AppendChange(ctx context.Context, rec model.ChangeRecord) (int64, error) {
	if !rec.EventType.Valid() {
		return 0, fmt.Errorf("append change: invalid event type %q", rec.EventType)
	}

	var id any
	if rec.ID != 0 {
		id = rec.ID
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO change_log
		(id, table_name, event_type, channel_id, transaction_id, source_node_id,
		 create_time, pk_data, row_data, old_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		rec.TableName,
		string(rec.EventType),
		rec.ChannelID,
		rec.TransactionID,
		rec.SourceNodeID,
		toNanos(rec.CreateTime),
		rec.PKData,
		rec.RowData,
		rec.OldData,
	)
	if err != nil {
		return 0, fmt.Errorf("append change: %w", err)
	}

	newID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append change: last insert id: %w", err)
	}
	return newID, nil
}

// QueryChangeIDs returns the change ids in [start, end], ascending. An empty
// channelID matches all channels.
func (s *Store) QueryChangeIDs(ctx context.Context, channelID string, start, end int64) ([]int64, error) {
	query := `SELECT id FROM change_log WHERE id BETWEEN ? AND ?`
	args := []any{start, end}
	if channelID != "" {
		query += ` AND channel_id = ?`
		args = append(args, channelID)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query change ids: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan change id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change ids: %w", err)
	}
	return ids, nil
}

// QueryChangeRecords opens a cursor over the channel's change records whose
// ids fall in ranges, ascending by id.
func (s *Store) QueryChangeRecords(ctx context.Context, channelID string, ranges []model.IDRange, limit int) (source.Cursor, error) {
	pred := source.BuildRangePredicate("id", ranges, s.maxRanges, 1, func(int) string { return "?" })

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(changeColumns)
	b.WriteString(" FROM change_log WHERE channel_id = ? AND ")
	b.WriteString(pred.Clause)
	b.WriteString(" ORDER BY id ASC")

	args := append([]any{channelID}, pred.Args...)
	if limit > 0 && !pred.FilterClientSide {
		b.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query change records: %w", err)
	}

	var c source.Cursor = source.NewSQLCursor(rows, scanChange)
	if pred.FilterClientSide {
		c = source.FilterCursor(c, ranges)
	}
	return c, nil
}

// ChangeRecord returns a single change record by id.
func (s *Store) ChangeRecord(ctx context.Context, id int64) (model.ChangeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+changeColumns+` FROM change_log WHERE id = ?`, id)
	if err != nil {
		return model.ChangeRecord{}, fmt.Errorf("query change %d: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return model.ChangeRecord{}, fmt.Errorf("query change %d: %w", id, err)
		}
		return model.ChangeRecord{}, fmt.Errorf("change %d: %w", id, sql.ErrNoRows)
	}
	return scanChange(rows)
}

func scanChange(rows *sql.Rows) (model.ChangeRecord, error) {
	var (
		rec       model.ChangeRecord
		eventType string
		created   int64
	)
	err := rows.Scan(
		&rec.ID,
		&rec.TableName,
		&eventType,
		&rec.ChannelID,
		&rec.TransactionID,
		&rec.SourceNodeID,
		&created,
		&rec.PKData,
		&rec.RowData,
		&rec.OldData,
	)
	if err != nil {
		return model.ChangeRecord{}, fmt.Errorf("scan change record: %w", err)
	}
	rec.EventType = model.EventType(eventType)
	rec.CreateTime = fromNanos(created)
	return rec, nil
}
