// Package postgres reads a trigger-populated change table in PostgreSQL.
//
// The table is expected to have the columns of rowroute's own change_log:
// id (bigint, assigned from a sequence), table_name, event_type,
// channel_id, transaction_id, source_node_id, create_time (timestamptz),
// pk_data, row_data and old_data.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/rowroute/internal/model"
	"github.com/roach88/rowroute/internal/source"
)

var (
	_ source.ChangeLog               = (*Source)(nil)
	_ source.PendingTransactionProbe = (*Source)(nil)
)

const selectColumns = `id, table_name, event_type, channel_id,
	COALESCE(transaction_id, ''), COALESCE(source_node_id, ''), create_time,
	COALESCE(pk_data, ''), COALESCE(row_data, ''), COALESCE(old_data, '')`

// Source is a PostgreSQL change log with pending-transaction visibility
// through pg_stat_activity.
type Source struct {
	pool      *pgxpool.Pool
	table     string // sanitized identifier
	maxRanges int
}

// Option configures a Source.
type Option func(*Source)

// WithTable sets the change table, optionally schema-qualified
// ("audit.change_log"). Default: change_log.
func WithTable(name string) Option {
	return func(s *Source) {
		s.table = pgx.Identifier(strings.Split(name, ".")).Sanitize()
	}
}

// WithMaxRangesInQuery sets how many gap ranges are pushed into SQL before
// falling back to client-side filtering.
func WithMaxRangesInQuery(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.maxRanges = n
		}
	}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, opts ...Option) (*Source, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return newSource(pool, opts...), nil
}

func newSource(pool *pgxpool.Pool, opts ...Option) *Source {
	s := &Source{
		pool:      pool,
		table:     pgx.Identifier{"change_log"}.Sanitize(),
		maxRanges: source.DefaultMaxRangesInQuery,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the connection pool.
func (s *Source) Close() {
	s.pool.Close()
}

func (s *Source) QueryChangeIDs(ctx context.Context, channelID string, start, end int64) ([]int64, error) {
	query, args := idsQuery(s.table, channelID, start, end)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query change ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("query change ids: %w", err)
	}
	return ids, nil
}

func (s *Source) QueryChangeRecords(ctx context.Context, channelID string, ranges []model.IDRange, limit int) (source.Cursor, error) {
	query, args, filter := recordsQuery(s.table, channelID, ranges, s.maxRanges, limit)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query change records: %w", err)
	}

	var c source.Cursor = &cursor{rows: rows}
	if filter {
		c = source.FilterCursor(c, ranges)
	}
	return c, nil
}

// HasPendingTransactionsSince reports whether another backend in this
// database has had a transaction open since at or before since.
func (s *Source) HasPendingTransactionsSince(ctx context.Context, since time.Time) (bool, error) {
	var pending bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_stat_activity
			WHERE datname = current_database()
			  AND pid <> pg_backend_pid()
			  AND xact_start IS NOT NULL
			  AND xact_start <= $1
		)`, since).Scan(&pending)
	if err != nil {
		return false, fmt.Errorf("probe pending transactions: %w", err)
	}
	return pending, nil
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func idsQuery(table, channelID string, start, end int64) (string, []any) {
	query := `SELECT id FROM ` + table + ` WHERE id >= $1`
	args := []any{start}
	if end != model.OpenEnd {
		args = append(args, end)
		query += ` AND id <= ` + placeholder(len(args))
	}
	if channelID != "" {
		args = append(args, channelID)
		query += ` AND channel_id = ` + placeholder(len(args))
	}
	return query + ` ORDER BY id`, args
}

func recordsQuery(table, channelID string, ranges []model.IDRange, maxRanges, limit int) (string, []any, bool) {
	pred := source.BuildRangePredicate("id", ranges, maxRanges, 1, placeholder)

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(selectColumns)
	b.WriteString(" FROM ")
	b.WriteString(table)
	b.WriteString(" WHERE channel_id = $1 AND ")
	b.WriteString(pred.Clause)
	b.WriteString(" ORDER BY id")

	args := append([]any{channelID}, pred.Args...)
	if limit > 0 && !pred.FilterClientSide {
		args = append(args, limit)
		b.WriteString(" LIMIT " + placeholder(len(args)))
	}
	return b.String(), args, pred.FilterClientSide
}

// cursor adapts pgx.Rows to source.Cursor.
type cursor struct {
	rows pgx.Rows
	cur  model.ChangeRecord
	err  error
}

func (c *cursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	var (
		rec       model.ChangeRecord
		eventType string
	)
	c.err = c.rows.Scan(&rec.ID, &rec.TableName, &eventType, &rec.ChannelID,
		&rec.TransactionID, &rec.SourceNodeID, &rec.CreateTime,
		&rec.PKData, &rec.RowData, &rec.OldData)
	if c.err != nil {
		c.err = fmt.Errorf("scan change record: %w", c.err)
		return false
	}
	rec.EventType = model.EventType(eventType)
	rec.CreateTime = rec.CreateTime.UTC()
	c.cur = rec
	return true
}

func (c *cursor) Record() model.ChangeRecord { return c.cur }

func (c *cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *cursor) Close() error {
	c.rows.Close()
	return nil
}
