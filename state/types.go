package state

import (
	"encoding/json"
	"time"
)

// Delivery is one accepted webhook delivery, kept for idempotency.
type Delivery struct {
	DeliveryID string    `json:"delivery_id"`
	EventKey   string    `json:"event_key"`
	EventType  string    `json:"event_type"`
	Repository string    `json:"repository"`
	PRNumber   int       `json:"pr_number"`
	Action     string    `json:"action"`
	ReceivedAt time.Time `json:"received_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Run is the persisted lifecycle of one pipeline run.
type Run struct {
	ID         string    `json:"id"`
	DeliveryID string    `json:"delivery_id"`
	Repository string    `json:"repository"`
	PRNumber   int       `json:"pr_number"`
	HeadSHA    string    `json:"head_sha"`
	State      RunState  `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// QueueItem is a claimed analysis job.
type QueueItem struct {
	ID         int64           `json:"id"`
	DeliveryID string          `json:"delivery_id"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
}
