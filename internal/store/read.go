package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/rowroute/internal/model"
)

// ListGaps returns ledger entries ordered by start id. With no statuses,
// every entry is returned.
func (s *Store) ListGaps(ctx context.Context, statuses ...model.GapStatus) ([]model.Gap, error) {
	query := `SELECT start_id, end_id, status, create_time, last_update_time FROM data_gap`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + placeholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY start_id ASC, end_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query gaps: %w", err)
	}
	defer rows.Close()
	return scanGaps(rows)
}

// BatchFilter narrows ListBatches. Zero fields match everything.
type BatchFilter struct {
	NodeID    string
	ChannelID string
	Status    model.BatchStatus
	Limit     int
}

// ListBatches returns outgoing batches ordered by batch id.
func (s *Store) ListBatches(ctx context.Context, f BatchFilter) ([]model.OutgoingBatch, error) {
	var (
		where []string
		args  []any
	)
	if f.NodeID != "" {
		where = append(where, "node_id = ?")
		args = append(args, f.NodeID)
	}
	if f.ChannelID != "" {
		where = append(where, "channel_id = ?")
		args = append(args, f.ChannelID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	query := `
		SELECT batch_id, node_id, channel_id, status, event_count, byte_count,
			insert_count, update_count, delete_count, other_count, router_ms, create_time
		FROM outgoing_batch`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY batch_id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	batches := []model.OutgoingBatch{}
	for rows.Next() {
		var (
			b       model.OutgoingBatch
			status  string
			created int64
		)
		err := rows.Scan(&b.ID, &b.NodeID, &b.ChannelID, &status, &b.EventCount, &b.ByteCount,
			&b.InsertCount, &b.UpdateCount, &b.DeleteCount, &b.OtherCount, &b.RouterMs, &created)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		b.Status = model.BatchStatus(status)
		b.CreateTime = fromNanos(created)
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return batches, nil
}

// ReadyBatches returns the sealed batches waiting to be sent to nodeID.
func (s *Store) ReadyBatches(ctx context.Context, nodeID string) ([]model.OutgoingBatch, error) {
	return s.ListBatches(ctx, BatchFilter{NodeID: nodeID, Status: model.BatchReady})
}

// BatchDataIDs returns the change ids assigned to a batch, ascending.
func (s *Store) BatchDataIDs(ctx context.Context, batchID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data_id FROM data_event WHERE batch_id = ? ORDER BY data_id ASC
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query batch %d events: %w", batchID, err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan batch %d event: %w", batchID, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch %d events: %w", batchID, err)
	}
	return ids, nil
}

// MarkBatchStatus moves a batch along the delivery states. It is the hook a
// sender uses after the routing engine has sealed the batch.
func (s *Store) MarkBatchStatus(ctx context.Context, batchID int64, status model.BatchStatus, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE outgoing_batch SET status = ?, last_update_time = ? WHERE batch_id = ?
	`, string(status), toNanos(at), batchID)
	if err != nil {
		return fmt.Errorf("mark batch %d %s: %w", batchID, status, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark batch %d %s: batch not found", batchID, status)
	}
	return nil
}
