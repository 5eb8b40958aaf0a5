package testutil

import "github.com/roach88/rowroute/internal/model"

// Change builds an insert record for tests. Fields not given take fixed
// defaults so records compare equal across runs.
func Change(id int64, channel, txID string) model.ChangeRecord {
	return model.ChangeRecord{
		ID:            id,
		TableName:     "item",
		EventType:     model.EventInsert,
		ChannelID:     channel,
		TransactionID: txID,
		CreateTime:    DefaultEpoch,
		PKData:        `{"id":1}`,
		RowData:       `{"id":1}`,
	}
}
