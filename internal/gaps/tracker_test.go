package gaps

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rowroute/internal/model"
	"github.com/roach88/rowroute/internal/source"
	"github.com/roach88/rowroute/internal/store"
	"github.com/roach88/rowroute/internal/testutil"
)

type fakeProbe struct {
	pending bool
	err     error
	calls   int
}

func (p *fakeProbe) HasPendingTransactionsSince(context.Context, time.Time) (bool, error) {
	p.calls++
	return p.pending, p.err
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "gaps.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// route simulates a flush: data events for ids on node n1, then reconcile,
// all in one session.
func route(t *testing.T, s *store.Store, tr *Tracker, ids ...int64) Result {
	t.Helper()
	ctx := context.Background()

	sess, err := s.Begin(ctx)
	require.NoError(t, err)
	defer sess.Rollback()

	if len(ids) > 0 {
		b := &model.OutgoingBatch{NodeID: "n1", ChannelID: "default", CreateTime: testutil.DefaultEpoch}
		require.NoError(t, sess.InsertBatch(ctx, b))
		_, err = sess.InsertDataEvents(ctx, b.ID, "n1", ids, testutil.DefaultEpoch)
		require.NoError(t, err)
	}

	res, err := tr.Reconcile(ctx, sess)
	require.NoError(t, err)
	require.NoError(t, sess.Commit())
	return res
}

func appendIDs(t *testing.T, s *store.Store, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		_, err := s.AppendChange(context.Background(), testutil.Change(id, "default", "tx"))
		require.NoError(t, err)
	}
}

func bounds(gaps []model.Gap) [][2]int64 {
	out := make([][2]int64, len(gaps))
	for i, g := range gaps {
		out[i] = [2]int64{g.StartID, g.EndID}
	}
	return out
}

func TestReconcile_BootstrapsTrailingGap(t *testing.T) {
	s := openStore(t)
	tr := NewTracker(s, WithClock(testutil.NewFakeClock(time.Time{})))

	res := route(t, s, tr)

	assert.Equal(t, [][2]int64{{1, model.OpenEnd}}, bounds(res.Open))
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, int64(0), res.HighWaterMark)

	// Idempotent: a second reconcile changes nothing.
	res = route(t, s, tr)
	assert.Equal(t, [][2]int64{{1, model.OpenEnd}}, bounds(res.Open))
	assert.Zero(t, res.Created)
}

func TestReconcile_LateCommitGapSkippedWhenNothingPending(t *testing.T) {
	s := openStore(t)
	probe := &fakeProbe{pending: false}
	tr := NewTracker(s, WithClock(testutil.NewFakeClock(time.Time{})), WithProbe(probe))

	// Ids 100..104 allocated; 102 not committed.
	route(t, s, tr)
	appendIDs(t, s, 1, 100, 101, 103, 104)
	res := route(t, s, tr, 1, 100, 101, 103, 104)

	assert.Equal(t, [][2]int64{{105, model.OpenEnd}}, bounds(res.Open))
	assert.Equal(t, int64(104), res.HighWaterMark)

	all, err := s.ListGaps(context.Background())
	require.NoError(t, err)
	statuses := map[[2]int64]model.GapStatus{}
	for _, g := range all {
		statuses[[2]int64{g.StartID, g.EndID}] = g.Status
	}
	assert.Equal(t, model.GapResolved, statuses[[2]int64{1, model.OpenEnd}])
	assert.Equal(t, model.GapSkippedNoPending, statuses[[2]int64{2, 99}])
	assert.Equal(t, model.GapSkippedNoPending, statuses[[2]int64{102, 102}])
	assert.Equal(t, model.GapOpen, statuses[[2]int64{105, model.OpenEnd}])
}

func TestReconcile_GapKeptWhilePending(t *testing.T) {
	s := openStore(t)
	probe := &fakeProbe{pending: true}
	clk := testutil.NewFakeClock(time.Time{})
	tr := NewTracker(s, WithClock(clk), WithProbe(probe), WithGapTimeout(time.Hour))

	route(t, s, tr)
	appendIDs(t, s, 1, 2, 4)
	res := route(t, s, tr, 1, 2, 4)

	assert.Equal(t, [][2]int64{{3, 3}, {5, model.OpenEnd}}, bounds(res.Open))

	// The late commit lands and gets routed on the next flush.
	appendIDs(t, s, 3)
	res = route(t, s, tr, 3)
	assert.Equal(t, [][2]int64{{5, model.OpenEnd}}, bounds(res.Open))
	assert.Equal(t, 1, res.Resolved)
}

func TestReconcile_ExpiredGapSkipped(t *testing.T) {
	s := openStore(t)
	clk := testutil.NewFakeClock(time.Time{})
	probe := &fakeProbe{pending: true}
	tr := NewTracker(s, WithClock(clk), WithProbe(probe), WithGapTimeout(10*time.Minute))

	route(t, s, tr)
	appendIDs(t, s, 1, 3)
	res := route(t, s, tr, 1, 3)
	require.Equal(t, [][2]int64{{2, 2}, {4, model.OpenEnd}}, bounds(res.Open))

	clk.Advance(9 * time.Minute)
	res = route(t, s, tr)
	assert.Equal(t, [][2]int64{{2, 2}, {4, model.OpenEnd}}, bounds(res.Open))

	clk.Advance(time.Minute)
	res = route(t, s, tr)
	assert.Equal(t, [][2]int64{{4, model.OpenEnd}}, bounds(res.Open))
	assert.Equal(t, 1, res.Skipped)

	skipped, err := s.ListGaps(context.Background(), model.GapSkippedExpired)
	require.NoError(t, err)
	assert.Equal(t, [][2]int64{{2, 2}}, bounds(skipped))
}

func TestReconcile_NoProbeWaitsForTimeout(t *testing.T) {
	s := openStore(t)
	clk := testutil.NewFakeClock(time.Time{})
	tr := NewTracker(s, WithClock(clk), WithGapTimeout(time.Minute))
	require.Nil(t, tr.probe, "sqlite store must not advertise a probe")

	route(t, s, tr)
	appendIDs(t, s, 1, 3)
	res := route(t, s, tr, 1, 3)
	assert.Equal(t, [][2]int64{{2, 2}, {4, model.OpenEnd}}, bounds(res.Open))

	clk.Advance(time.Minute)
	res = route(t, s, tr)
	assert.Equal(t, [][2]int64{{4, model.OpenEnd}}, bounds(res.Open))
}

// A gap whose ids exist in the change log but are not yet routed (another
// channel, or a capped pass) is never skipped.
func TestReconcile_NeverSkipsGapWithRows(t *testing.T) {
	s := openStore(t)
	clk := testutil.NewFakeClock(time.Time{})
	probe := &fakeProbe{pending: false}
	tr := NewTracker(s, WithClock(clk), WithProbe(probe), WithGapTimeout(time.Minute))

	route(t, s, tr)
	appendIDs(t, s, 1, 2, 3)
	res := route(t, s, tr, 1, 3)
	assert.Equal(t, [][2]int64{{2, 2}, {4, model.OpenEnd}}, bounds(res.Open))

	clk.Advance(time.Hour)
	res = route(t, s, tr)
	assert.Equal(t, [][2]int64{{2, 2}, {4, model.OpenEnd}}, bounds(res.Open))
	assert.Zero(t, res.Skipped)
}

func TestReconcile_IDStep(t *testing.T) {
	s := openStore(t)
	probe := &fakeProbe{pending: true}
	tr := NewTracker(s, WithClock(testutil.NewFakeClock(time.Time{})), WithProbe(probe), WithIDStep(2))

	route(t, s, tr)
	appendIDs(t, s, 1, 3, 5, 9)
	res := route(t, s, tr, 1, 3, 5, 9)

	// 5 -> 9 skips more than one stride: 6..8 is a gap. 1,3,5 are contiguous.
	assert.Equal(t, [][2]int64{{6, 8}, {10, model.OpenEnd}}, bounds(res.Open))
}

func TestReconcile_SplitsFiniteGap(t *testing.T) {
	s := openStore(t)
	probe := &fakeProbe{pending: true}
	tr := NewTracker(s, WithClock(testutil.NewFakeClock(time.Time{})), WithProbe(probe))

	route(t, s, tr)
	appendIDs(t, s, 1, 10)
	res := route(t, s, tr, 1, 10)
	require.Equal(t, [][2]int64{{2, 9}, {11, model.OpenEnd}}, bounds(res.Open))

	appendIDs(t, s, 4, 9)
	res = route(t, s, tr, 4, 9)
	assert.Equal(t, [][2]int64{{2, 3}, {5, 8}, {11, model.OpenEnd}}, bounds(res.Open))
}

func TestReconcile_ProbeError(t *testing.T) {
	s := openStore(t)
	probe := &fakeProbe{err: errors.New("probe down")}
	tr := NewTracker(s, WithClock(testutil.NewFakeClock(time.Time{})), WithProbe(probe))
	ctx := context.Background()

	route(t, s, tr)
	appendIDs(t, s, 1, 3)

	sess, err := s.Begin(ctx)
	require.NoError(t, err)
	defer sess.Rollback()
	b := &model.OutgoingBatch{NodeID: "n1", ChannelID: "default", CreateTime: testutil.DefaultEpoch}
	require.NoError(t, sess.InsertBatch(ctx, b))
	_, err = sess.InsertDataEvents(ctx, b.ID, "n1", []int64{1, 3}, testutil.DefaultEpoch)
	require.NoError(t, err)

	_, err = tr.Reconcile(ctx, sess)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "probe down")
}

func TestReconcile_UsesChangeLogProbe(t *testing.T) {
	log := testutil.NewProbingLog(testutil.NewMemoryLog(), false)
	tr := NewTracker(log)
	assert.NotNil(t, tr.probe)
}

func TestResult_Ranges(t *testing.T) {
	res := Result{Open: []model.Gap{{StartID: 2, EndID: 2}, {StartID: 5, EndID: model.OpenEnd}}}
	assert.Equal(t, []model.IDRange{{Start: 2, End: 2}, {Start: 5, End: model.OpenEnd}}, res.Ranges())
}

func TestReconcile_ZeroTimeoutExpiresImmediately(t *testing.T) {
	s := openStore(t)
	probe := &fakeProbe{pending: true}
	tr := NewTracker(s, WithClock(testutil.NewFakeClock(time.Time{})), WithProbe(probe), WithGapTimeout(0))

	route(t, s, tr)
	appendIDs(t, s, 100, 101, 103, 104)
	res := route(t, s, tr, 100, 101, 103, 104)

	assert.Equal(t, [][2]int64{{105, model.OpenEnd}}, bounds(res.Open))
	expired, err := s.ListGaps(context.Background(), model.GapSkippedExpired)
	require.NoError(t, err)
	assert.Equal(t, [][2]int64{{1, 99}, {102, 102}}, bounds(expired))
}

type countingLog struct {
	source.ChangeLog
	queries int
}

func (l *countingLog) QueryChangeIDs(ctx context.Context, channelID string, start, end int64) ([]int64, error) {
	l.queries++
	return l.ChangeLog.QueryChangeIDs(ctx, channelID, start, end)
}

func TestResolveRouted_LeavesEvaluationToReconcile(t *testing.T) {
	s := openStore(t)
	log := &countingLog{ChangeLog: s}
	probe := &fakeProbe{pending: false}
	tr := NewTracker(log, WithClock(testutil.NewFakeClock(time.Time{})), WithProbe(probe), WithGapTimeout(0))
	ctx := context.Background()

	route(t, s, tr)
	appendIDs(t, s, 1, 5, 9)
	route(t, s, tr, 1, 9)
	require.Equal(t, 1, log.queries, "reconcile evaluated [2,8]")
	log.queries, probe.calls = 0, 0

	sess, err := s.Begin(ctx)
	require.NoError(t, err)
	defer sess.Rollback()
	b := &model.OutgoingBatch{NodeID: "n1", ChannelID: "default", CreateTime: testutil.DefaultEpoch}
	require.NoError(t, sess.InsertBatch(ctx, b))
	_, err = sess.InsertDataEvents(ctx, b.ID, "n1", []int64{5}, testutil.DefaultEpoch)
	require.NoError(t, err)

	res, err := tr.ResolveRouted(ctx, sess)
	require.NoError(t, err)
	require.NoError(t, sess.Commit())

	assert.Equal(t, [][2]int64{{2, 4}, {6, 8}, {10, model.OpenEnd}}, bounds(res.Open))
	assert.Equal(t, 1, res.Resolved)
	assert.Zero(t, res.Skipped)
	assert.Zero(t, log.queries, "no change-log queries inside a flush")
	assert.Zero(t, probe.calls)

	res = route(t, s, tr)
	assert.Equal(t, [][2]int64{{10, model.OpenEnd}}, bounds(res.Open))
	assert.Equal(t, 2, res.Skipped)
}
