package entities

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WebhookEventType represents a lifecycle event emitted to the notifier boundary
type WebhookEventType string

const (
	WebhookEventTxSent      WebhookEventType = "transaction.sent"
	WebhookEventTxMined     WebhookEventType = "transaction.mined"
	WebhookEventTxErrored   WebhookEventType = "transaction.errored"
	WebhookEventTxCancelled WebhookEventType = "transaction.cancelled"
	WebhookEventTxRetried   WebhookEventType = "transaction.retried"
	WebhookEventLogIndexed  WebhookEventType = "event-log.indexed"
)

// WebhookEvent is one outbox row. It is written in the same database
// transaction as the state change it describes, so delivery failures can never
// roll back a lifecycle transition.
type WebhookEvent struct {
	ID          uuid.UUID        `json:"id"`
	EventType   WebhookEventType `json:"eventType"`
	QueueID     *uuid.UUID       `json:"queueId,omitempty"`
	Payload     json.RawMessage  `json:"payload"`
	Attempts    int              `json:"attempts"`
	DeliveredAt *time.Time       `json:"deliveredAt,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}
