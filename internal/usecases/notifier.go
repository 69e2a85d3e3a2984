package usecases

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chain-relay.backend/internal/domain/entities"
	"chain-relay.backend/internal/domain/repositories"
	"chain-relay.backend/pkg/logger"
)

// OutboxNotifier implements the Notifier boundary against the webhook outbox.
// Events enqueued inside a unit of work commit atomically with the state
// transition; actual delivery is the dispatcher job's problem.
type OutboxNotifier struct {
	outbox repositories.WebhookEventRepository
}

// NewOutboxNotifier creates a new outbox notifier
func NewOutboxNotifier(outbox repositories.WebhookEventRepository) *OutboxNotifier {
	return &OutboxNotifier{outbox: outbox}
}

// Notify persists a lifecycle event. Failures are logged and swallowed:
// notification is fire-and-forget and never rolls back the transition that
// produced it.
func (n *OutboxNotifier) Notify(ctx context.Context, event *entities.WebhookEvent) error {
	if err := n.outbox.Create(ctx, event); err != nil {
		logger.Warn(ctx, "failed to enqueue webhook event",
			zap.String("event_type", string(event.EventType)),
			zap.Error(err))
		return err
	}
	return nil
}

// IndexedEvent builds the announcement for one ingested block range
func IndexedEvent(chainID uint64, fromBlock, toBlock uint64, logCount int) *entities.WebhookEvent {
	payload, _ := json.Marshal(map[string]interface{}{
		"chainId":   chainID,
		"fromBlock": fromBlock,
		"toBlock":   toBlock,
		"logCount":  logCount,
	})
	return &entities.WebhookEvent{
		EventType: entities.WebhookEventLogIndexed,
		Payload:   payload,
	}
}

// TxEvent builds a lifecycle event for a transaction
func TxEvent(eventType entities.WebhookEventType, queueID uuid.UUID, body interface{}) *entities.WebhookEvent {
	payload, err := json.Marshal(body)
	if err != nil {
		payload = []byte("{}")
	}
	id := queueID
	return &entities.WebhookEvent{
		EventType: eventType,
		QueueID:   &id,
		Payload:   payload,
	}
}
