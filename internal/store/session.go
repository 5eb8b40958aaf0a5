package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/rowroute/internal/model"
)

// Session is one write transaction against the ledger and batch tables.
// It is not safe for concurrent use.
type Session struct {
	tx *sql.Tx
}

// Commit commits the session.
func (s *Session) Commit() error {
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

// Rollback aborts the session. Safe to call after Commit.
func (s *Session) Rollback() error {
	err := s.tx.Rollback()
	if err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("rollback session: %w", err)
	}
	return nil
}

// OpenGaps returns the OPEN gaps ordered by start id.
func (s *Session) OpenGaps(ctx context.Context) ([]model.Gap, error) {
	rows, err := s.tx.QueryContext(ctx, `
		SELECT start_id, end_id, status, create_time, last_update_time
		FROM data_gap
		WHERE status = ?
		ORDER BY start_id ASC, end_id ASC
	`, string(model.GapOpen))
	if err != nil {
		return nil, fmt.Errorf("query open gaps: %w", err)
	}
	defer rows.Close()
	return scanGaps(rows)
}

// InsertGap adds a gap to the ledger. Returns false if a gap with the same
// bounds already exists.
func (s *Session) InsertGap(ctx context.Context, g model.Gap) (bool, error) {
	res, err := s.tx.ExecContext(ctx, `
		INSERT INTO data_gap (start_id, end_id, status, create_time, last_update_time)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(start_id, end_id) DO NOTHING
	`, g.StartID, g.EndID, string(g.Status), toNanos(g.CreateTime), toNanos(g.LastUpdateTime))
	if err != nil {
		return false, fmt.Errorf("insert gap %d-%d: %w", g.StartID, g.EndID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert gap %d-%d: rows affected: %w", g.StartID, g.EndID, err)
	}
	return n == 1, nil
}

// SetGapStatus moves a gap to status.
func (s *Session) SetGapStatus(ctx context.Context, start, end int64, status model.GapStatus, at time.Time) error {
	res, err := s.tx.ExecContext(ctx, `
		UPDATE data_gap SET status = ?, last_update_time = ?
		WHERE start_id = ? AND end_id = ?
	`, string(status), toNanos(at), start, end)
	if err != nil {
		return fmt.Errorf("update gap %d-%d: %w", start, end, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update gap %d-%d: %w", start, end, sql.ErrNoRows)
	}
	return nil
}

// AccountedIDs returns the distinct change ids in [start, end] that have at
// least one data event, ascending.
func (s *Session) AccountedIDs(ctx context.Context, start, end int64) ([]int64, error) {
	rows, err := s.tx.QueryContext(ctx, `
		SELECT DISTINCT data_id FROM data_event
		WHERE data_id BETWEEN ? AND ?
		ORDER BY data_id ASC
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("query accounted ids: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan accounted id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounted ids: %w", err)
	}
	return ids, nil
}

// InsertBatch persists b in the routing state and assigns b.ID.
func (s *Session) InsertBatch(ctx context.Context, b *model.OutgoingBatch) error {
	res, err := s.tx.ExecContext(ctx, `
		INSERT INTO outgoing_batch (node_id, channel_id, status, create_time, last_update_time)
		VALUES (?, ?, ?, ?, ?)
	`, b.NodeID, b.ChannelID, string(model.BatchOpen), toNanos(b.CreateTime), toNanos(b.CreateTime))
	if err != nil {
		return fmt.Errorf("insert batch for node %s: %w", b.NodeID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert batch for node %s: last insert id: %w", b.NodeID, err)
	}
	b.ID = id
	b.Status = model.BatchOpen
	return nil
}

// InsertDataEvents assigns ids to the batch for nodeID. Ids already routed
// to nodeID are left alone. Returns the number of rows written.
func (s *Session) InsertDataEvents(ctx context.Context, batchID int64, nodeID string, ids []int64, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	stmt, err := s.tx.PrepareContext(ctx, `
		INSERT INTO data_event (data_id, node_id, batch_id, create_time)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(data_id, node_id) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare data events: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, id := range ids {
		res, err := stmt.ExecContext(ctx, id, nodeID, batchID, toNanos(at))
		if err != nil {
			return inserted, fmt.Errorf("insert data event %d for node %s: %w", id, nodeID, err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	return inserted, nil
}

// SealBatch writes b's counters and moves it to status.
func (s *Session) SealBatch(ctx context.Context, b *model.OutgoingBatch, status model.BatchStatus, at time.Time) error {
	_, err := s.tx.ExecContext(ctx, `
		UPDATE outgoing_batch SET
			status = ?, event_count = ?, byte_count = ?,
			insert_count = ?, update_count = ?, delete_count = ?, other_count = ?,
			router_ms = ?, last_update_time = ?
		WHERE batch_id = ?
	`,
		string(status), b.EventCount, b.ByteCount,
		b.InsertCount, b.UpdateCount, b.DeleteCount, b.OtherCount,
		b.RouterMs, toNanos(at),
		b.ID,
	)
	if err != nil {
		return fmt.Errorf("seal batch %d: %w", b.ID, err)
	}
	b.Status = status
	return nil
}

func scanGaps(rows *sql.Rows) ([]model.Gap, error) {
	gaps := []model.Gap{}
	for rows.Next() {
		var (
			g                model.Gap
			status           string
			created, updated int64
		)
		if err := rows.Scan(&g.StartID, &g.EndID, &status, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan gap: %w", err)
		}
		g.Status = model.GapStatus(status)
		g.CreateTime = fromNanos(created)
		g.LastUpdateTime = fromNanos(updated)
		gaps = append(gaps, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gaps: %w", err)
	}
	return gaps, nil
}

// placeholders returns "?, ?, ..." for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
