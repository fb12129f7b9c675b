package models

import (
	"encoding/json"
	"time"
)

// Event is a shaped, immutable domain event produced by EventShaper.
type Event struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Source     string          `json:"source"`
	Type       string          `json:"type"`
	RecordID   string          `json:"record_id"`
	Payload    json.RawMessage `json:"payload"`
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
	DedupKey   string          `json:"dedup_key"`
	ReceivedAt time.Time       `json:"received_at"`
}
