// Package archive keeps copies of webhook deliveries and analysis reports
// outside the primary store.
package archive

import (
	"encoding/json"
	"time"
)

// WebhookRecord describes one inbound delivery.
type WebhookRecord struct {
	Timestamp      time.Time       `json:"timestamp"`
	DeliveryID     string          `json:"delivery_id"`
	EventType      string          `json:"event_type"`
	Action         string          `json:"action,omitempty"`
	Repository     string          `json:"repository,omitempty"`
	PRNumber       int             `json:"pr_number,omitempty"`
	SignatureValid bool            `json:"signature_valid"`
	Status         string          `json:"status"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}
