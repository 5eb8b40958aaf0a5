package store

import (
	"context"
	"testing"
	"time"

	"github.com/roach88/rowroute/internal/model"
)

func TestAppendChange_AssignsIDs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := model.ChangeRecord{
		TableName:  "item",
		EventType:  model.EventUpdate,
		ChannelID:  "default",
		CreateTime: testEpoch,
		RowData:    `{"id":7}`,
		OldData:    `{"id":6}`,
	}
	id1, err := s.AppendChange(ctx, rec)
	if err != nil {
		t.Fatalf("AppendChange() failed: %v", err)
	}
	id2, err := s.AppendChange(ctx, rec)
	if err != nil {
		t.Fatalf("AppendChange() failed: %v", err)
	}
	if id2 <= id1 {
		t.Errorf("ids not increasing: %d then %d", id1, id2)
	}

	got, err := s.ChangeRecord(ctx, id1)
	if err != nil {
		t.Fatalf("ChangeRecord() failed: %v", err)
	}
	if got.EventType != model.EventUpdate || got.OldData != `{"id":6}` {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if !got.CreateTime.Equal(testEpoch) {
		t.Errorf("CreateTime = %v, want %v", got.CreateTime, testEpoch)
	}
}

func TestAppendChange_RejectsInvalidEventType(t *testing.T) {
	s := createTestStore(t)

	_, err := s.AppendChange(context.Background(), model.ChangeRecord{
		TableName: "item", EventType: "X", ChannelID: "default",
	})
	if err == nil {
		t.Fatal("expected error for invalid event type")
	}
}

func TestQueryChangeIDs(t *testing.T) {
	s := createTestStore(t)
	for _, id := range []int64{100, 101, 103, 104} {
		appendTestChange(t, s, id, "default", "tx1")
	}
	appendTestChange(t, s, 102, "other", "tx2")

	tests := []struct {
		name       string
		channel    string
		start, end int64
		want       []int64
	}{
		{"all channels", "", 100, 104, []int64{100, 101, 102, 103, 104}},
		{"one channel", "default", 100, 104, []int64{100, 101, 103, 104}},
		{"open end", "", 103, model.OpenEnd, []int64{103, 104}},
		{"empty range", "", 105, 200, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.QueryChangeIDs(context.Background(), tt.channel, tt.start, tt.end)
			if err != nil {
				t.Fatalf("QueryChangeIDs() failed: %v", err)
			}
			if !equalIDs(got, tt.want) {
				t.Errorf("QueryChangeIDs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQueryChangeRecords_RangesInSQL(t *testing.T) {
	s := createTestStore(t)
	for id := int64(1); id <= 10; id++ {
		appendTestChange(t, s, id, "default", "tx")
	}
	appendTestChange(t, s, 11, "other", "tx")

	ranges := []model.IDRange{{Start: 2, End: 3}, {Start: 6, End: 6}, {Start: 9, End: model.OpenEnd}}
	got := collectIDs(t, s, "default", ranges, 0)
	want := []int64{2, 3, 6, 9, 10}
	if !equalIDs(got, want) {
		t.Errorf("ids = %v, want %v", got, want)
	}
}

func TestQueryChangeRecords_ClientSideFilter(t *testing.T) {
	s := createTestStore(t)
	s.SetMaxRangesInQuery(2)
	for id := int64(1); id <= 10; id++ {
		appendTestChange(t, s, id, "default", "tx")
	}

	ranges := []model.IDRange{{Start: 2, End: 3}, {Start: 6, End: 6}, {Start: 9, End: model.OpenEnd}}
	got := collectIDs(t, s, "default", ranges, 0)
	want := []int64{2, 3, 6, 9, 10}
	if !equalIDs(got, want) {
		t.Errorf("ids = %v, want %v", got, want)
	}
}

func TestQueryChangeRecords_Limit(t *testing.T) {
	s := createTestStore(t)
	for id := int64(1); id <= 5; id++ {
		appendTestChange(t, s, id, "default", "tx")
	}

	got := collectIDs(t, s, "default", []model.IDRange{{Start: 1, End: model.OpenEnd}}, 3)
	if !equalIDs(got, []int64{1, 2, 3}) {
		t.Errorf("ids = %v, want [1 2 3]", got)
	}
}

func TestQueryChangeRecords_NoRanges(t *testing.T) {
	s := createTestStore(t)
	appendTestChange(t, s, 1, "default", "tx")

	got := collectIDs(t, s, "default", nil, 0)
	if len(got) != 0 {
		t.Errorf("ids = %v, want none", got)
	}
}

// A writer must be able to commit while a change-log cursor is open.
func TestQueryChangeRecords_CursorDoesNotBlockWriter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	for id := int64(1); id <= 3; id++ {
		appendTestChange(t, s, id, "default", "tx")
	}

	c, err := s.QueryChangeRecords(ctx, "default", []model.IDRange{{Start: 1, End: model.OpenEnd}}, 0)
	if err != nil {
		t.Fatalf("QueryChangeRecords() failed: %v", err)
	}
	defer c.Close()
	if !c.Next() {
		t.Fatalf("expected a record: %v", c.Err())
	}

	sess, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	defer sess.Rollback()
	if _, err := sess.InsertGap(ctx, model.Gap{StartID: 1, EndID: model.OpenEnd, Status: model.GapOpen, CreateTime: time.Now()}); err != nil {
		t.Fatalf("InsertGap() failed: %v", err)
	}
	if err := sess.Commit(); err != nil {
		t.Fatalf("Commit() with open cursor failed: %v", err)
	}
}
