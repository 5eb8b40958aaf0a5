package engine

import "github.com/roach88/rowroute/internal/model"

// CapReason names the per-channel limit that stopped streaming.
type CapReason string

const (
	CapNone       CapReason = ""
	CapDataRouted CapReason = "max_data_to_route"
	CapBatches    CapReason = "max_batches_per_pass"
)

// channelQuota enforces a channel's per-pass limits. A limit <= 0 is
// unlimited.
//
// Hitting a limit stops the reader but is not an error: ids that were never
// read stay inside open gaps and are picked up by the next pass.
type channelQuota struct {
	maxData    int
	maxBatches int
}

func newChannelQuota(ch model.Channel) channelQuota {
	return channelQuota{maxData: ch.MaxDataToRoute, maxBatches: ch.MaxBatchesPerPass}
}

// Check reports which limit, if any, stats have reached.
func (q channelQuota) Check(stats model.PassStats) CapReason {
	if q.maxData > 0 && stats.DataRead >= q.maxData {
		return CapDataRouted
	}
	if q.maxBatches > 0 && stats.BatchesSealed >= q.maxBatches {
		return CapBatches
	}
	return CapNone
}
