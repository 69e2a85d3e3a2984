package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"chain-relay.backend/internal/domain/entities"
	"chain-relay.backend/internal/infrastructure/models"
)

const backfillStatusRunning = "RUNNING"

// BackfillRangeRepository persists bounded manual index ranges
type BackfillRangeRepository struct {
	db *gorm.DB
}

// NewBackfillRangeRepository creates a new backfill repository
func NewBackfillRangeRepository(db *gorm.DB) *BackfillRangeRepository {
	return &BackfillRangeRepository{db: db}
}

// Create inserts a pending backfill range
func (r *BackfillRangeRepository) Create(ctx context.Context, b *entities.BackfillRange) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.Status == "" {
		b.Status = entities.BackfillStatusPending
	}
	m := &models.BackfillRange{
		ID:             b.ID,
		SubscriptionID: b.SubscriptionID,
		ChainID:        b.ChainID,
		FromBlock:      b.FromBlock,
		ToBlock:        b.ToBlock,
		Status:         string(b.Status),
	}
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).Create(m).Error
}

// ClaimPending atomically takes one pending backfill for this run. The
// status CAS means two indexer instances never process the same range.
func (r *BackfillRangeRepository) ClaimPending(ctx context.Context, chainID uint64) (*entities.BackfillRange, error) {
	db := GetDB(ctx, r.db)

	var m models.BackfillRange
	err := db.WithContext(ctx).
		Where("chain_id = ? AND status = ?", chainID, string(entities.BackfillStatusPending)).
		Order("created_at ASC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	res := db.WithContext(ctx).Model(&models.BackfillRange{}).
		Where("id = ? AND status = ?", m.ID, string(entities.BackfillStatusPending)).
		Updates(map[string]interface{}{
			"status":     backfillStatusRunning,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil // another instance claimed it
	}

	return &entities.BackfillRange{
		ID:             m.ID,
		SubscriptionID: m.SubscriptionID,
		ChainID:        m.ChainID,
		FromBlock:      m.FromBlock,
		ToBlock:        m.ToBlock,
		Status:         entities.BackfillStatus(backfillStatusRunning),
		CreatedAt:      m.CreatedAt,
	}, nil
}

// MarkDone finalizes a completed backfill
func (r *BackfillRangeRepository) MarkDone(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, string(entities.BackfillStatusDone))
}

// MarkFailed records a failed backfill so it is not silently retried forever
func (r *BackfillRangeRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, string(entities.BackfillStatusFailed))
}

func (r *BackfillRangeRepository) setStatus(ctx context.Context, id uuid.UUID, status string) error {
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).Model(&models.BackfillRange{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}).Error
}
