package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"chain-relay.backend/internal/domain/entities"
	"chain-relay.backend/internal/infrastructure/models"
)

// WebhookEventRepository is the notifier outbox store
type WebhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a new webhook event repository
func NewWebhookEventRepository(db *gorm.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Create inserts an outbox row. Callers run it inside the same unit of work
// as the state transition it describes.
func (r *WebhookEventRepository) Create(ctx context.Context, e *entities.WebhookEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	payload := "{}"
	if len(e.Payload) > 0 {
		payload = string(e.Payload)
	}
	m := &models.WebhookEvent{
		ID:        e.ID,
		EventType: string(e.EventType),
		QueueID:   e.QueueID,
		Payload:   payload,
	}
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).Create(m).Error
}

// ListUndelivered returns pending outbox rows oldest first
func (r *WebhookEventRepository) ListUndelivered(ctx context.Context, limit int) ([]*entities.WebhookEvent, error) {
	var ms []models.WebhookEvent
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).
		Where("delivered_at IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&ms).Error; err != nil {
		return nil, err
	}

	out := make([]*entities.WebhookEvent, 0, len(ms))
	for i := range ms {
		m := ms[i]
		out = append(out, &entities.WebhookEvent{
			ID:          m.ID,
			EventType:   entities.WebhookEventType(m.EventType),
			QueueID:     m.QueueID,
			Payload:     json.RawMessage(m.Payload),
			Attempts:    m.Attempts,
			DeliveredAt: m.DeliveredAt,
			CreatedAt:   m.CreatedAt,
		})
	}
	return out, nil
}

// MarkDelivered finalizes a delivered event
func (r *WebhookEventRepository) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Update("delivered_at", now).Error
}

// RecordAttempt bumps the delivery attempt counter
func (r *WebhookEventRepository) RecordAttempt(ctx context.Context, id uuid.UUID) error {
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Update("attempts", gorm.Expr("attempts + 1")).Error
}
