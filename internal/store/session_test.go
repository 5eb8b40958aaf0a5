package store

import (
	"context"
	"testing"

	"github.com/roach88/rowroute/internal/model"
)

func TestSession_GapLifecycle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	sess := beginTestSession(t, s)

	g := model.Gap{StartID: 1, EndID: model.OpenEnd, Status: model.GapOpen, CreateTime: testEpoch, LastUpdateTime: testEpoch}
	inserted, err := sess.InsertGap(ctx, g)
	if err != nil || !inserted {
		t.Fatalf("InsertGap() = %v, %v; want true, nil", inserted, err)
	}

	inserted, err = sess.InsertGap(ctx, g)
	if err != nil {
		t.Fatalf("duplicate InsertGap() failed: %v", err)
	}
	if inserted {
		t.Error("duplicate InsertGap() reported inserted")
	}

	if _, err := sess.InsertGap(ctx, model.Gap{StartID: 5, EndID: 7, Status: model.GapOpen, CreateTime: testEpoch, LastUpdateTime: testEpoch}); err != nil {
		t.Fatalf("InsertGap() failed: %v", err)
	}
	if err := sess.SetGapStatus(ctx, 1, model.OpenEnd, model.GapResolved, testEpoch); err != nil {
		t.Fatalf("SetGapStatus() failed: %v", err)
	}

	open, err := sess.OpenGaps(ctx)
	if err != nil {
		t.Fatalf("OpenGaps() failed: %v", err)
	}
	if len(open) != 1 || open[0].StartID != 5 || open[0].EndID != 7 {
		t.Errorf("OpenGaps() = %v, want [5,7]", open)
	}

	if err := sess.SetGapStatus(ctx, 40, 41, model.GapResolved, testEpoch); err == nil {
		t.Error("SetGapStatus() on missing gap should fail")
	}
}

func TestSession_RollbackDiscardsWrites(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	sess, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	if _, err := sess.InsertGap(ctx, model.Gap{StartID: 1, EndID: 2, Status: model.GapOpen, CreateTime: testEpoch}); err != nil {
		t.Fatalf("InsertGap() failed: %v", err)
	}
	if err := sess.Rollback(); err != nil {
		t.Fatalf("Rollback() failed: %v", err)
	}
	if err := sess.Rollback(); err != nil {
		t.Errorf("second Rollback() should be a no-op: %v", err)
	}

	gaps, err := s.ListGaps(ctx)
	if err != nil {
		t.Fatalf("ListGaps() failed: %v", err)
	}
	if len(gaps) != 0 {
		t.Errorf("ListGaps() = %v, want none after rollback", gaps)
	}
}

func TestSession_BatchAndDataEvents(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	for id := int64(1); id <= 3; id++ {
		appendTestChange(t, s, id, "default", "tx")
	}

	sess, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	defer sess.Rollback()

	b := &model.OutgoingBatch{NodeID: "n1", ChannelID: "default", CreateTime: testEpoch}
	if err := sess.InsertBatch(ctx, b); err != nil {
		t.Fatalf("InsertBatch() failed: %v", err)
	}
	if b.ID == 0 || b.Status != model.BatchOpen {
		t.Fatalf("InsertBatch() left batch %+v", b)
	}

	n, err := sess.InsertDataEvents(ctx, b.ID, "n1", []int64{1, 2, 3}, testEpoch)
	if err != nil || n != 3 {
		t.Fatalf("InsertDataEvents() = %d, %v; want 3, nil", n, err)
	}
	n, err = sess.InsertDataEvents(ctx, b.ID, "n1", []int64{2, 3}, testEpoch)
	if err != nil || n != 0 {
		t.Errorf("duplicate InsertDataEvents() = %d, %v; want 0, nil", n, err)
	}

	accounted, err := sess.AccountedIDs(ctx, 2, model.OpenEnd)
	if err != nil {
		t.Fatalf("AccountedIDs() failed: %v", err)
	}
	if !equalIDs(accounted, []int64{2, 3}) {
		t.Errorf("AccountedIDs() = %v, want [2 3]", accounted)
	}

	b.EventCount, b.InsertCount, b.ByteCount = 3, 3, 42
	if err := sess.SealBatch(ctx, b, model.BatchReady, testEpoch); err != nil {
		t.Fatalf("SealBatch() failed: %v", err)
	}
	if err := sess.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	ready, err := s.ReadyBatches(ctx, "n1")
	if err != nil {
		t.Fatalf("ReadyBatches() failed: %v", err)
	}
	if len(ready) != 1 || ready[0].EventCount != 3 || ready[0].ByteCount != 42 {
		t.Fatalf("ReadyBatches() = %+v", ready)
	}

	ids, err := s.BatchDataIDs(ctx, b.ID)
	if err != nil {
		t.Fatalf("BatchDataIDs() failed: %v", err)
	}
	if !equalIDs(ids, []int64{1, 2, 3}) {
		t.Errorf("BatchDataIDs() = %v", ids)
	}

	if err := s.MarkBatchStatus(ctx, b.ID, model.BatchSent, testEpoch); err != nil {
		t.Fatalf("MarkBatchStatus() failed: %v", err)
	}
	ready, _ = s.ReadyBatches(ctx, "n1")
	if len(ready) != 0 {
		t.Errorf("batch still ready after MarkBatchStatus: %+v", ready)
	}
	if err := s.MarkBatchStatus(ctx, 999, model.BatchOK, testEpoch); err == nil {
		t.Error("MarkBatchStatus() on missing batch should fail")
	}
}

func TestListBatches_Filter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	sess := beginTestSession(t, s)

	for _, node := range []string{"n1", "n2", "n1"} {
		b := &model.OutgoingBatch{NodeID: node, ChannelID: "default", CreateTime: testEpoch}
		if err := sess.InsertBatch(ctx, b); err != nil {
			t.Fatalf("InsertBatch() failed: %v", err)
		}
	}
	if err := sess.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	got, err := s.ListBatches(ctx, BatchFilter{NodeID: "n1"})
	if err != nil {
		t.Fatalf("ListBatches() failed: %v", err)
	}
	if len(got) != 2 || got[0].ID >= got[1].ID {
		t.Errorf("ListBatches(n1) = %+v", got)
	}

	got, _ = s.ListBatches(ctx, BatchFilter{Limit: 1})
	if len(got) != 1 {
		t.Errorf("ListBatches(limit 1) returned %d", len(got))
	}
}
