package models

import (
	"encoding/json"
	"time"
)

// BadgeEvent is one chaincode event persisted by the indexer.
type BadgeEvent struct {
	ID          int64           `json:"id"`
	EventName   string          `json:"event_name"`
	TxID        string          `json:"tx_id"`
	BlockNumber uint64          `json:"block_number"`
	Payload     json.RawMessage `json:"payload"`
	ReceivedAt  time.Time       `json:"received_at"`
}
