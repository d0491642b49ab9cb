package models

import "time"

// Subscription event types written to the append-only audit trail.
const (
	EventPaymentSucceeded  = "payment_succeeded"
	EventPaymentFailed     = "payment_failed"
	EventPaymentRetried    = "payment_retried"
	EventSyncedToProvider  = "synced_to_provider"
	EventMandateLinked     = "mandate_linked"
	EventStatusChanged     = "status_changed"
	EventNotificationSent  = "notification_sent"
	EventSuspended         = "suspended"
)

// Actor types for audit attribution.
const (
	ActorSystem   = "system"
	ActorOperator = "operator"
	ActorParent   = "parent"
)

// SubscriptionEvent records a state transition, notification or administrative
// action. Rows are never mutated or deleted.
type SubscriptionEvent struct {
	ID             int64                  `json:"id"`
	SubscriptionID int64                  `json:"subscriptionId"`
	EventType      string                 `json:"eventType"`
	ActorType      string                 `json:"actorType"`
	ActorID        *int64                 `json:"actorId,omitempty"`
	Reason         string                 `json:"reason,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
}
