package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the kind of row mutation captured in the change log.
type EventType string

const (
	EventInsert EventType = "I"
	EventUpdate EventType = "U"
	EventDelete EventType = "D"
	EventSQL    EventType = "S"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventInsert, EventUpdate, EventDelete, EventSQL:
		return true
	}
	return false
}

// String returns the long name of the event type.
func (t EventType) String() string {
	switch t {
	case EventInsert:
		return "INSERT"
	case EventUpdate:
		return "UPDATE"
	case EventDelete:
		return "DELETE"
	case EventSQL:
		return "RAW_SQL"
	default:
		return string(t)
	}
}

// ChangeRecord is one captured row mutation read from the change log.
// Records are immutable once persisted by the capture layer.
type ChangeRecord struct {
	ID            int64     `json:"id"`
	TableName     string    `json:"table_name"`
	EventType     EventType `json:"event_type"`
	ChannelID     string    `json:"channel_id"`
	TransactionID string    `json:"transaction_id,omitempty"`
	SourceNodeID  string    `json:"source_node_id,omitempty"`
	CreateTime    time.Time `json:"create_time"`

	// Opaque payloads. The capture layer writes JSON objects keyed by
	// column name; routers decode them on demand via Columns/OldColumns.
	PKData  string `json:"pk_data,omitempty"`
	RowData string `json:"row_data,omitempty"`
	OldData string `json:"old_data,omitempty"`
}

// Size is the payload size in bytes, used for batch statistics.
func (r ChangeRecord) Size() int64 {
	return int64(len(r.PKData) + len(r.RowData) + len(r.OldData))
}

// Columns decodes the new-row payload. Deletes carry no new row, so the old
// row is returned for them.
func (r ChangeRecord) Columns() (map[string]any, error) {
	if r.EventType == EventDelete && r.RowData == "" {
		return r.OldColumns()
	}
	return decodeColumns(r.RowData)
}

// OldColumns decodes the before-image payload.
func (r ChangeRecord) OldColumns() (map[string]any, error) {
	return decodeColumns(r.OldData)
}

func decodeColumns(payload string) (map[string]any, error) {
	cols := map[string]any{}
	if payload == "" {
		return cols, nil
	}
	if err := json.Unmarshal([]byte(payload), &cols); err != nil {
		return nil, fmt.Errorf("decode row payload: %w", err)
	}
	return cols, nil
}
