package models

import "time"

// WebhookEvent is one provider event in the append-only ingestion log, keyed by
// (provider, event_id) so duplicate deliveries are no-ops.
type WebhookEvent struct {
	ID             int64     `json:"id"`
	Provider       string    `json:"provider"`
	EventID        string    `json:"eventId"`
	ResourceType   string    `json:"resourceType"`
	ResourceID     string    `json:"resourceId"`
	Action         string    `json:"action"`
	Payload        []byte    `json:"payload,omitempty"`
	SignatureValid bool      `json:"signatureValid"`
	Processed      bool      `json:"processed"`
	ReceivedAt     time.Time `json:"receivedAt"`
}
