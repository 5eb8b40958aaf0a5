// Package batch groups routed changes into outgoing batches.
//
// The Assembler keeps one open batch per node for the channel being routed
// and asks the channel's Algorithm whether any batch is complete. When one
// is, every open batch of the channel is sealed together so no node's
// delivery runs ahead of another's for the same stretch of ids.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/rowroute/internal/clock"
	"github.com/roach88/rowroute/internal/model"
)

// ErrDuplicateRoute is returned when a change is already assigned to a node
// it is being routed to again.
var ErrDuplicateRoute = errors.New("change already routed to node")

// Writer persists batches. store.Session implements it.
type Writer interface {
	InsertBatch(ctx context.Context, b *model.OutgoingBatch) error
	InsertDataEvents(ctx context.Context, batchID int64, nodeID string, ids []int64, at time.Time) (int, error)
	SealBatch(ctx context.Context, b *model.OutgoingBatch, status model.BatchStatus, at time.Time) error
}

// Assembler accumulates routed changes into per-node batches.
type Assembler struct {
	algorithms *Registry
	clock      clock.Clock
}

// NewAssembler creates an assembler. A nil registry uses NewRegistry and a
// nil clock uses the system clock.
func NewAssembler(algorithms *Registry, clk clock.Clock) *Assembler {
	if algorithms == nil {
		algorithms = NewRegistry()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Assembler{algorithms: algorithms, clock: clk}
}

// Add appends rec to nodeID's open batch, creating it if needed, and
// consults the channel's algorithm. It sets pc.NeedsFlush and returns true
// when the batch is complete.
func (a *Assembler) Add(pc *model.PassContext, rec model.ChangeRecord, nodeID string) (bool, error) {
	alg, err := a.algorithm(pc)
	if err != nil {
		return false, err
	}

	b, ok := pc.OpenBatches[nodeID]
	if !ok {
		b = &model.OutgoingBatch{
			NodeID:     nodeID,
			ChannelID:  pc.Channel.ID,
			Status:     model.BatchOpen,
			CreateTime: a.clock.Now(),
		}
		pc.OpenBatches[nodeID] = b
		pc.BatchOrder = append(pc.BatchOrder, nodeID)
	}
	b.Add(rec)

	pc.TransactionBoundary = false
	if alg.IsComplete(b, rec, pc) {
		pc.NeedsFlush = true
	}
	return pc.NeedsFlush, nil
}

// AtBoundary is called when the reader crosses a transaction boundary.
// rec is the first record of the next transaction. Every open batch is
// complete at a boundary, so pc.NeedsFlush is set whenever batches are
// open. The algorithm is still shown the boundary and its verdict is
// returned; algorithms only decide completion inside a transaction.
func (a *Assembler) AtBoundary(pc *model.PassContext, rec model.ChangeRecord) (bool, error) {
	alg, err := a.algorithm(pc)
	if err != nil {
		return false, err
	}

	pc.TransactionBoundary = true
	defer func() { pc.TransactionBoundary = false }()

	complete := false
	for _, b := range pc.Batches() {
		if alg.IsComplete(b, rec, pc) {
			complete = true
		}
	}
	if len(pc.BatchOrder) > 0 {
		pc.NeedsFlush = true
	}
	return complete, nil
}

func (a *Assembler) algorithm(pc *model.PassContext) (Algorithm, error) {
	alg, ok := a.algorithms.Lookup(pc.Channel.BatchAlgorithm)
	if !ok {
		return nil, fmt.Errorf("channel %s: unknown batch algorithm %q", pc.Channel.ID, pc.Channel.BatchAlgorithm)
	}
	return alg, nil
}

// SealResult counts what Seal wrote.
type SealResult struct {
	Batches        []model.OutgoingBatch
	Sealed         int // transport-visible batches
	EventsInserted int
}

// Seal persists every open batch through w and seals it: unrouted batches
// go straight to BatchOK, the rest to BatchReady. It does not commit or
// clear pc; the caller does both once the surrounding session commits.
func (a *Assembler) Seal(ctx context.Context, w Writer, pc *model.PassContext) (SealResult, error) {
	now := a.clock.Now()
	var res SealResult

	for _, b := range pc.Batches() {
		if b.EventCount == 0 {
			continue
		}
		b.RouterMs = pc.Stats.RouterTime.Milliseconds()

		if err := w.InsertBatch(ctx, b); err != nil {
			return SealResult{}, err
		}

		n, err := w.InsertDataEvents(ctx, b.ID, b.NodeID, b.DataIDs, now)
		if err != nil {
			return SealResult{}, err
		}
		if n != len(b.DataIDs) {
			return SealResult{}, fmt.Errorf("batch %d for node %s: %d of %d events: %w",
				b.ID, b.NodeID, len(b.DataIDs)-n, len(b.DataIDs), ErrDuplicateRoute)
		}
		res.EventsInserted += n

		status := model.BatchReady
		if b.Unrouted() {
			status = model.BatchOK
		} else {
			res.Sealed++
		}
		if err := w.SealBatch(ctx, b, status, now); err != nil {
			return SealResult{}, err
		}

		sealed := *b
		sealed.DataIDs = nil
		res.Batches = append(res.Batches, sealed)
	}
	return res, nil
}
