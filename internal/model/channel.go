package model

// Channel is a named lane of changes with its own batching policy.
type Channel struct {
	ID                string `json:"id"`
	ProcessingOrder   int    `json:"processing_order"`
	MaxBatchSize      int    `json:"max_batch_size"`
	MaxBatchesPerPass int    `json:"max_batches_per_pass"`
	MaxDataToRoute    int    `json:"max_data_to_route"`
	BatchAlgorithm    string `json:"batch_algorithm"`
	Suspended         bool   `json:"suspended"`
	Ignored           bool   `json:"ignored"`
}

// Routable reports whether a routing pass should stream this channel.
// Ignored channels are still streamed; their changes are accounted for but
// never delivered.
func (c Channel) Routable() bool {
	return !c.Suspended
}
