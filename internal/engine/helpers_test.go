package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/rowroute/internal/lock"
	"github.com/roach88/rowroute/internal/model"
	"github.com/roach88/rowroute/internal/store"
	"github.com/roach88/rowroute/internal/testutil"
)

// staticCatalog is a fixed routing configuration.
type staticCatalog struct {
	channels []model.Channel
	bindings map[string][]model.Binding
	nodes    map[string][]model.Node
}

func (c *staticCatalog) Channels() []model.Channel { return c.channels }

func (c *staticCatalog) Bindings(table string) []model.Binding { return c.bindings[table] }

func (c *staticCatalog) CandidateNodes(group string) []model.Node { return c.nodes[group] }

// newCatalog returns a catalog with one channel "main" whose "item" table
// routes to every node of group "store" (n1, n2).
func newCatalog(ch model.Channel) *staticCatalog {
	return &staticCatalog{
		channels: []model.Channel{ch},
		bindings: map[string][]model.Binding{
			"item": {{TriggerID: "item", RouterID: "to_store", TableName: "item", ChannelID: ch.ID, TargetGroupID: "store"}},
		},
		nodes: map[string][]model.Node{
			"store": {
				{ID: "n1", GroupID: "store", ExternalID: "east", Enabled: true},
				{ID: "n2", GroupID: "store", ExternalID: "west", Enabled: true},
			},
		},
	}
}

func mainChannel(alg string, maxBatch int) model.Channel {
	return model.Channel{ID: "main", ProcessingOrder: 1, MaxBatchSize: maxBatch, BatchAlgorithm: alg}
}

type fixture struct {
	store  *store.Store
	clock  *testutil.FakeClock
	lock   *lock.LocalLock
	engine *Engine
}

func setupEngine(t *testing.T, cat Catalog, opts ...Option) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "route.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clk := testutil.NewFakeClock(time.Time{})
	lk := lock.NewLocalLock(clk)
	all := append([]Option{
		WithClock(clk),
		WithPassIDs(&testutil.SequentialPassIDs{}),
	}, opts...)

	return &fixture{
		store:  s,
		clock:  clk,
		lock:   lk,
		engine: New(s, s, cat, lk, all...),
	}
}

// capture appends a change with an explicit id.
func (f *fixture) capture(t *testing.T, id int64, table, channel, tx, row string) {
	t.Helper()
	_, err := f.store.AppendChange(context.Background(), model.ChangeRecord{
		ID:            id,
		TableName:     table,
		EventType:     model.EventInsert,
		ChannelID:     channel,
		TransactionID: tx,
		CreateTime:    f.clock.Now(),
		PKData:        row,
		RowData:       row,
	})
	require.NoError(t, err)
}

// batchIDs returns the data ids of each batch for nodeID, in batch order.
func (f *fixture) batchIDs(t *testing.T, nodeID string) [][]int64 {
	t.Helper()
	ctx := context.Background()
	batches, err := f.store.ListBatches(ctx, store.BatchFilter{NodeID: nodeID})
	require.NoError(t, err)

	out := [][]int64{}
	for _, b := range batches {
		ids, err := f.store.BatchDataIDs(ctx, b.ID)
		require.NoError(t, err)
		out = append(out, ids)
	}
	return out
}

func (f *fixture) pass(t *testing.T) PassResult {
	t.Helper()
	res, err := f.engine.RoutePass(context.Background())
	require.NoError(t, err)
	return res
}
