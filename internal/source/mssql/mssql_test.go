package mssql

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/rowroute/internal/model"
)

func TestRecordsQuery_TopBindsFirst(t *testing.T) {
	ranges := []model.IDRange{{Start: 3, End: 5}, {Start: 9, End: model.OpenEnd}}

	query, args, filter := recordsQuery("[change_log]", "main", ranges, 10, 50)

	assert.False(t, filter)
	assert.Contains(t, query, "SELECT TOP (@p1) id,")
	assert.Contains(t, query, "FROM [change_log] WHERE channel_id = @p2 AND (id BETWEEN @p3 AND @p4 OR id >= @p5) ORDER BY id")
	assert.Equal(t, []any{50, "main", int64(3), int64(5), int64(9)}, args)
}

func TestRecordsQuery_Unbounded(t *testing.T) {
	ranges := []model.IDRange{{Start: 1, End: model.OpenEnd}}

	query, args, filter := recordsQuery("[change_log]", "main", ranges, 10, 0)

	assert.False(t, filter)
	assert.NotContains(t, query, "TOP")
	assert.Contains(t, query, "WHERE channel_id = @p1 AND (id >= @p2)")
	assert.Equal(t, []any{"main", int64(1)}, args)
}

func TestRecordsQuery_TooManyRangesFiltersClientSide(t *testing.T) {
	ranges := []model.IDRange{{Start: 2, End: 2}, {Start: 4, End: 4}, {Start: 6, End: model.OpenEnd}}

	query, args, filter := recordsQuery("[change_log]", "main", ranges, 2, 50)

	assert.True(t, filter)
	assert.NotContains(t, query, "TOP")
	assert.Contains(t, query, "WHERE channel_id = @p1 AND id >= @p2 ORDER BY id")
	assert.Equal(t, []any{"main", int64(2)}, args)
}

func TestIDsQuery(t *testing.T) {
	query, args := idsQuery("[change_log]", "main", 4, 8)
	assert.Equal(t, "SELECT id FROM [change_log] WHERE id >= @p1 AND id <= @p2 AND channel_id = @p3 ORDER BY id", query)
	assert.Equal(t, []any{int64(4), int64(8), "main"}, args)
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, "[dbo].[change_log]", quoteIdent("dbo.change_log"))
	assert.Equal(t, "[odd]]name]", quoteIdent("odd]name"))
}
