package model

// Node is a replica that may receive delivered changes.
type Node struct {
	ID         string `json:"id"`
	GroupID    string `json:"group_id"`
	ExternalID string `json:"external_id"`
	Enabled    bool   `json:"enabled"`
}

// Binding joins a capture trigger on a table with a router.
// It is the unit the dispatcher evaluates for every change on that table.
type Binding struct {
	TriggerID     string `json:"trigger_id"`
	RouterID      string `json:"router_id"`
	TableName     string `json:"table_name"`
	ChannelID     string `json:"channel_id"`
	RouterType    string `json:"router_type"`
	SourceGroupID string `json:"source_group_id"`
	TargetGroupID string `json:"target_group_id"`
	Expression    string `json:"expression,omitempty"`
}

// Key identifies the binding for per-pass memoization.
func (b Binding) Key() string {
	return b.TriggerID + "/" + b.RouterID
}
