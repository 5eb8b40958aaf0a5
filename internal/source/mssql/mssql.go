// Package mssql reads a trigger-populated change table in SQL Server.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/denisenkom/go-mssqldb"

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

// Source is a SQL Server change log. In-flight transactions are visible
// through sys.dm_tran_active_transactions, which needs VIEW SERVER STATE.
type Source struct {
	db        *sql.DB
	table     string
	maxRanges int
	now       func() time.Time
}

// Option configures a Source.
type Option func(*Source)

// WithTable sets the change table, optionally schema-qualified
// ("dbo.change_log"). Default: change_log.
func WithTable(name string) Option {
	return func(s *Source) { s.table = quoteIdent(name) }
}

// WithMaxRangesInQuery sets how many gap ranges are pushed into SQL.
func WithMaxRangesInQuery(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.maxRanges = n
		}
	}
}

// WithNow overrides the clock used to age transactions for the probe.
func WithNow(now func() time.Time) Option {
	return func(s *Source) { s.now = now }
}

// Open connects to the SQL Server at dsn and pings it.
func Open(ctx context.Context, dsn string, opts ...Option) (*Source, error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlserver connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlserver: %w", err)
	}

	s := &Source{
		db:        db,
		table:     quoteIdent("change_log"),
		maxRanges: source.DefaultMaxRangesInQuery,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the connection pool.
func (s *Source) Close() error {
	return s.db.Close()
}

func (s *Source) QueryChangeIDs(ctx context.Context, channelID string, start, end int64) ([]int64, error) {
	query, args := idsQuery(s.table, channelID, start, end)
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

func (s *Source) QueryChangeRecords(ctx context.Context, channelID string, ranges []model.IDRange, limit int) (source.Cursor, error) {
	query, args, filter := recordsQuery(s.table, channelID, ranges, s.maxRanges, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query change records: %w", err)
	}

	var c source.Cursor = source.NewSQLCursor(rows, scanChange)
	if filter {
		c = source.FilterCursor(c, ranges)
	}
	return c, nil
}

// HasPendingTransactionsSince compares transaction age on the server's own
// clock, so the check does not depend on the server's time zone.
func (s *Source) HasPendingTransactionsSince(ctx context.Context, since time.Time) (bool, error) {
	age := s.now().Sub(since).Milliseconds()
	if age < 0 {
		age = 0
	}

	var pending int
	err := s.db.QueryRowContext(ctx, `
		SELECT CASE WHEN EXISTS (
			SELECT 1
			FROM sys.dm_tran_active_transactions t
			JOIN sys.dm_tran_session_transactions st ON st.transaction_id = t.transaction_id
			WHERE st.session_id <> @@SPID
			  AND DATEDIFF_BIG(millisecond, t.transaction_begin_time, GETDATE()) >= @p1
		) THEN 1 ELSE 0 END`, age).Scan(&pending)
	if err != nil {
		return false, fmt.Errorf("probe pending transactions: %w", err)
	}
	return pending == 1, nil
}

func placeholder(n int) string {
	return "@p" + strconv.Itoa(n)
}

// quoteIdent brackets each dot-separated part of name.
func quoteIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = "[" + strings.ReplaceAll(p, "]", "]]") + "]"
	}
	return strings.Join(parts, ".")
}

func idsQuery(table, channelID string, start, end int64) (string, []any) {
	query := `SELECT id FROM ` + table + ` WHERE id >= @p1`
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

// recordsQuery limits with TOP, whose argument must come first, so the
// limit is bound as @p1 and the channel as @p2 when present.
func recordsQuery(table, channelID string, ranges []model.IDRange, maxRanges, limit int) (string, []any, bool) {
	var args []any
	top := ""
	if limit > 0 && len(ranges) <= maxRanges {
		args = append(args, limit)
		top = "TOP (@p1) "
	}
	args = append(args, channelID)
	offset := len(args)
	pred := source.BuildRangePredicate("id", ranges, maxRanges, offset, placeholder)
	args = append(args, pred.Args...)

	query := "SELECT " + top + selectColumns +
		" FROM " + table +
		" WHERE channel_id = " + placeholder(offset) + " AND " + pred.Clause +
		" ORDER BY id"
	return query, args, pred.FilterClientSide
}

func scanChange(rows *sql.Rows) (model.ChangeRecord, error) {
	var (
		rec       model.ChangeRecord
		eventType string
	)
	err := rows.Scan(&rec.ID, &rec.TableName, &eventType, &rec.ChannelID,
		&rec.TransactionID, &rec.SourceNodeID, &rec.CreateTime,
		&rec.PKData, &rec.RowData, &rec.OldData)
	if err != nil {
		return model.ChangeRecord{}, err
	}
	rec.EventType = model.EventType(eventType)
	rec.CreateTime = rec.CreateTime.UTC()
	return rec, nil
}
