package model

import "time"

// PassStats are the running counters for one channel in one pass.
type PassStats struct {
	DataRead       int           `json:"data_read"`
	DataRouted     int           `json:"data_routed"`
	DataUnrouted   int           `json:"data_unrouted"`
	EventsInserted int           `json:"events_inserted"`
	BatchesSealed  int           `json:"batches_sealed"`
	Flushes        int           `json:"flushes"`
	Anomalies      int           `json:"anomalies"`
	RouterTime     time.Duration `json:"router_time"`
	CapHit         bool          `json:"cap_hit"`
}

// PassContext is the scratch state of one channel iteration of a pass.
// It is owned by the consuming goroutine and never shared with the reader's
// producer.
type PassContext struct {
	Channel Channel

	// OpenBatches holds the current open batch per node id. BatchOrder keeps
	// creation order so flushes are deterministic.
	OpenBatches map[string]*OutgoingBatch
	BatchOrder  []string

	// Candidates memoizes eligible nodes per binding key for the pass.
	Candidates map[string][]Node

	// TransactionBoundary is set while batch algorithms are consulted at a
	// transaction edge.
	TransactionBoundary bool
	NeedsFlush          bool

	Stats PassStats
}

// NewPassContext creates an empty context for ch.
func NewPassContext(ch Channel) *PassContext {
	return &PassContext{
		Channel:     ch,
		OpenBatches: make(map[string]*OutgoingBatch),
		Candidates:  make(map[string][]Node),
	}
}

// ResetBatches clears the open batch set after a flush.
func (c *PassContext) ResetBatches() {
	c.OpenBatches = make(map[string]*OutgoingBatch)
	c.BatchOrder = nil
	c.NeedsFlush = false
}

// Batches returns the open batches in creation order.
func (c *PassContext) Batches() []*OutgoingBatch {
	out := make([]*OutgoingBatch, 0, len(c.BatchOrder))
	for _, id := range c.BatchOrder {
		out = append(out, c.OpenBatches[id])
	}
	return out
}
