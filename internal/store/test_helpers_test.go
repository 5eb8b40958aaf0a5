package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/rowroute/internal/model"
)

var testEpoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// appendTestChange inserts an insert event on channel with an explicit id.
func appendTestChange(t *testing.T, s *Store, id int64, channel, txID string) {
	t.Helper()
	_, err := s.AppendChange(context.Background(), model.ChangeRecord{
		ID:            id,
		TableName:     "item",
		EventType:     model.EventInsert,
		ChannelID:     channel,
		TransactionID: txID,
		CreateTime:    testEpoch,
		PKData:        `{"id":1}`,
		RowData:       `{"id":1,"name":"widget"}`,
	})
	if err != nil {
		t.Fatalf("AppendChange(%d) failed: %v", id, err)
	}
}

// beginTestSession opens a session that is rolled back at cleanup unless
// the test commits it.
func beginTestSession(t *testing.T, s *Store) *Session {
	t.Helper()
	sess, err := s.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	t.Cleanup(func() { sess.Rollback() })
	return sess
}

func collectIDs(t *testing.T, s *Store, channel string, ranges []model.IDRange, limit int) []int64 {
	t.Helper()
	c, err := s.QueryChangeRecords(context.Background(), channel, ranges, limit)
	if err != nil {
		t.Fatalf("QueryChangeRecords() failed: %v", err)
	}
	defer c.Close()

	ids := []int64{}
	for c.Next() {
		ids = append(ids, c.Record().ID)
	}
	if err := c.Err(); err != nil {
		t.Fatalf("cursor error: %v", err)
	}
	return ids
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
