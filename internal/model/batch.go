package model

import "time"

// UnroutedNodeID is the reserved node that receives changes no router
// selected. Its batches are sealed straight to BatchOK and never sent.
const UnroutedNodeID = "-1"

// BatchStatus is the delivery state of an outgoing batch.
type BatchStatus string

const (
	BatchOpen  BatchStatus = "RT" // being routed
	BatchReady BatchStatus = "NE" // sealed, ready for the sender
	BatchSent  BatchStatus = "SE"
	BatchOK    BatchStatus = "OK"
	BatchError BatchStatus = "ER"
)

// OutgoingBatch is the unit of delivery to one node on one channel.
type OutgoingBatch struct {
	ID          int64       `json:"batch_id"`
	NodeID      string      `json:"node_id"`
	ChannelID   string      `json:"channel_id"`
	Status      BatchStatus `json:"status"`
	EventCount  int         `json:"event_count"`
	ByteCount   int64       `json:"byte_count"`
	InsertCount int         `json:"insert_count"`
	UpdateCount int         `json:"update_count"`
	DeleteCount int         `json:"delete_count"`
	OtherCount  int         `json:"other_count"`
	RouterMs    int64       `json:"router_ms"`
	CreateTime  time.Time   `json:"create_time"`

	// DataIDs are the change ids added during the current pass that have not
	// yet been persisted as data events.
	DataIDs []int64 `json:"-"`
}

// Unrouted reports whether this batch belongs to the reserved unrouted node.
func (b *OutgoingBatch) Unrouted() bool {
	return b.NodeID == UnroutedNodeID
}

// Add records one change in the batch counters.
func (b *OutgoingBatch) Add(rec ChangeRecord) {
	b.EventCount++
	b.ByteCount += rec.Size()
	switch rec.EventType {
	case EventInsert:
		b.InsertCount++
	case EventUpdate:
		b.UpdateCount++
	case EventDelete:
		b.DeleteCount++
	default:
		b.OtherCount++
	}
	b.DataIDs = append(b.DataIDs, rec.ID)
}
