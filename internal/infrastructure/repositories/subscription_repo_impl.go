package repositories

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"chain-relay.backend/internal/domain/entities"
	domainerrors "chain-relay.backend/internal/domain/errors"
	"chain-relay.backend/internal/infrastructure/models"
)

// ContractSubscriptionRepository implements subscription persistence
type ContractSubscriptionRepository struct {
	db *gorm.DB
}

// NewContractSubscriptionRepository creates a new subscription repository
func NewContractSubscriptionRepository(db *gorm.DB) *ContractSubscriptionRepository {
	return &ContractSubscriptionRepository{db: db}
}

// Create inserts a subscription
func (r *ContractSubscriptionRepository) Create(ctx context.Context, sub *entities.ContractSubscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	m := &models.ContractSubscription{
		ID:              sub.ID,
		ChainID:         sub.ChainID,
		ContractAddress: normalizeAddress(sub.ContractAddress),
		FilterEvents:    strings.Join(sub.FilterEvents, ","),
	}
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	sub.CreatedAt = m.CreatedAt
	return nil
}

// GetByID gets a live subscription by id
func (r *ContractSubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.ContractSubscription, error) {
	var m models.ContractSubscription
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return subToEntity(&m), nil
}

// SoftDelete marks the subscription removed. The row stays so in-flight
// indexer runs and historical read paths keep working.
func (r *ContractSubscriptionRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	db := GetDB(ctx, r.db)
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&models.ContractSubscription{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	return nil
}

// ListByChain returns live subscriptions for a chain
func (r *ContractSubscriptionRepository) ListByChain(ctx context.Context, chainID uint64) ([]*entities.ContractSubscription, error) {
	var ms []models.ContractSubscription
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Where("chain_id = ?", chainID).Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]*entities.ContractSubscription, 0, len(ms))
	for i := range ms {
		out = append(out, subToEntity(&ms[i]))
	}
	return out, nil
}

// ActiveChains returns distinct chain ids with at least one live subscription
func (r *ContractSubscriptionRepository) ActiveChains(ctx context.Context) ([]uint64, error) {
	var ids []uint64
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Model(&models.ContractSubscription{}).
		Distinct("chain_id").
		Pluck("chain_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// WasEverSubscribed matches live and soft-deleted subscriptions
func (r *ContractSubscriptionRepository) WasEverSubscribed(ctx context.Context, chainID uint64, contractAddress string) (bool, error) {
	var count int64
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Unscoped().Model(&models.ContractSubscription{}).
		Where("chain_id = ? AND contract_address = ?", chainID, normalizeAddress(contractAddress)).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func subToEntity(m *models.ContractSubscription) *entities.ContractSubscription {
	var events []string
	if m.FilterEvents != "" {
		events = strings.Split(m.FilterEvents, ",")
	}
	return &entities.ContractSubscription{
		ID:              m.ID,
		ChainID:         m.ChainID,
		ContractAddress: m.ContractAddress,
		FilterEvents:    events,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
