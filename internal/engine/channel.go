package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/rowroute/internal/model"
	"github.com/roach88/rowroute/internal/reader"
)

// routeChannel runs GAP_RECONCILE, STREAMING and FLUSHING for one channel.
// Errors are returned inside the result so the pass can continue.
func (e *Engine) routeChannel(ctx context.Context, passID string, ch model.Channel) ChannelResult {
	pc := model.NewPassContext(ch)
	cr := ChannelResult{ChannelID: ch.ID}

	fail := func(phase Phase, err error) ChannelResult {
		cr.Stats = pc.Stats
		cr.Err = &ChannelError{PassID: passID, ChannelID: ch.ID, Phase: phase, Err: err}
		cr.Error = cr.Err.Error()
		return cr
	}

	e.setState(StateGapReconcile)
	ranges, err := e.reconcile(ctx)
	if err != nil {
		return fail(PhaseReconcile, err)
	}

	e.setState(StateStreaming)
	rd := reader.New(e.log, ch.ID, ranges, reader.WithPeekAhead(e.peekAhead))
	rd.Start(ctx)
	defer rd.Close()

	quota := newChannelQuota(ch)
	for {
		entry, err := rd.Take(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(PhaseStreaming, err)
		}
		rec := entry.Record
		pc.Stats.DataRead++

		if entry.Boundary && len(pc.BatchOrder) > 0 {
			if _, err := e.assembler.AtBoundary(pc, rec); err != nil {
				return fail(PhaseStreaming, err)
			}
			if pc.NeedsFlush {
				if err := e.flush(ctx, passID, pc); err != nil {
					return fail(PhaseFlushing, err)
				}
			}
		}

		dec, err := e.dispatcher.Dispatch(ctx, pc, rec)
		if err != nil {
			return fail(PhaseStreaming, err)
		}
		for _, nodeID := range dec.NodeIDs {
			if _, err := e.assembler.Add(pc, rec, nodeID); err != nil {
				return fail(PhaseStreaming, err)
			}
		}
		if pc.NeedsFlush {
			if err := e.flush(ctx, passID, pc); err != nil {
				return fail(PhaseFlushing, err)
			}
		}

		if cr.Cap == CapNone {
			if reason := quota.Check(pc.Stats); reason != CapNone {
				cr.Cap = reason
				pc.Stats.CapHit = true
				rd.StopReading()
				slog.Info("channel cap reached; remaining changes wait for the next pass",
					"pass_id", passID,
					"channel", ch.ID,
					"cap", string(reason),
					"data_read", pc.Stats.DataRead,
					"batches_sealed", pc.Stats.BatchesSealed,
					"buffered", rd.Buffered(),
				)
			}
		}
	}

	if len(pc.BatchOrder) > 0 {
		if err := e.flush(ctx, passID, pc); err != nil {
			return fail(PhaseFlushing, err)
		}
	}

	cr.Stats = pc.Stats
	slog.Info("channel routed",
		"pass_id", passID,
		"channel", ch.ID,
		"data_read", pc.Stats.DataRead,
		"data_routed", pc.Stats.DataRouted,
		"data_unrouted", pc.Stats.DataUnrouted,
		"batches_sealed", pc.Stats.BatchesSealed,
		"flushes", pc.Stats.Flushes,
		"router_ms", pc.Stats.RouterTime.Milliseconds(),
	)
	return cr
}

// reconcile brings the gap ledger up to date in its own session and returns
// the open ranges to read.
func (e *Engine) reconcile(ctx context.Context) ([]model.IDRange, error) {
	sess, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Rollback() // No-op if committed

	res, err := e.tracker.Reconcile(ctx, sess)
	if err != nil {
		return nil, err
	}
	if err := sess.Commit(); err != nil {
		return nil, err
	}
	return res.Ranges(), nil
}

// flush seals every open batch and resolves the gaps it filled in one
// session. On success the open batch set is cleared and the cluster lock
// lease is extended; on failure nothing from this flush is persisted.
func (e *Engine) flush(ctx context.Context, passID string, pc *model.PassContext) error {
	e.setState(StateFlushing)
	defer e.setState(StateStreaming)

	sess, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer sess.Rollback() // No-op if committed

	sealed, err := e.assembler.Seal(ctx, sess, pc)
	if err != nil {
		return fmt.Errorf("seal batches: %w", err)
	}
	gr, err := e.tracker.ResolveRouted(ctx, sess)
	if err != nil {
		return err
	}
	if err := sess.Commit(); err != nil {
		return err
	}

	pc.Stats.Flushes++
	pc.Stats.BatchesSealed += sealed.Sealed
	pc.Stats.EventsInserted += sealed.EventsInserted
	pc.ResetBatches()

	for _, b := range sealed.Batches {
		slog.Debug("batch sealed",
			"pass_id", passID,
			"batch_id", b.ID,
			"node", b.NodeID,
			"channel", b.ChannelID,
			"events", b.EventCount,
			"status", string(b.Status),
		)
	}
	slog.Debug("flush committed",
		"pass_id", passID,
		"channel", pc.Channel.ID,
		"batches", len(sealed.Batches),
		"high_water_mark", gr.HighWaterMark,
		"open_gaps", len(gr.Open),
	)
	return e.renewLock(ctx)
}
