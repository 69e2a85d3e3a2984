package repositories

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"chain-relay.backend/internal/domain/entities"
	domainerrors "chain-relay.backend/internal/domain/errors"
	"chain-relay.backend/internal/infrastructure/models"
)

// WalletNonceCounterRepository persists the durable per-wallet nonce floor
type WalletNonceCounterRepository struct {
	db *gorm.DB
}

// NewWalletNonceCounterRepository creates a new nonce counter repository
func NewWalletNonceCounterRepository(db *gorm.DB) *WalletNonceCounterRepository {
	return &WalletNonceCounterRepository{db: db}
}

// Get returns the stored counter for (chain, wallet)
func (r *WalletNonceCounterRepository) Get(ctx context.Context, chainID uint64, wallet string) (*entities.WalletNonceCounter, error) {
	var m models.WalletNonceCounter
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).
		Where("chain_id = ? AND wallet_address = ?", chainID, normalizeAddress(wallet)).
		First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return &entities.WalletNonceCounter{
		ChainID:       m.ChainID,
		WalletAddress: m.WalletAddress,
		Nonce:         m.Nonce,
		UpdatedAt:     m.UpdatedAt,
	}, nil
}

// Raise lifts the stored counter to at least next. The status-guarded update
// keeps the counter monotonic under concurrent allocators; lower values are a
// no-op, never a decrement.
func (r *WalletNonceCounterRepository) Raise(ctx context.Context, chainID uint64, wallet string, next uint64) error {
	addr := normalizeAddress(wallet)
	db := GetDB(ctx, r.db)

	res := db.WithContext(ctx).Model(&models.WalletNonceCounter{}).
		Where("chain_id = ? AND wallet_address = ? AND nonce < ?", chainID, addr, next).
		Updates(map[string]interface{}{
			"nonce":      next,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// Either the row does not exist yet or it is already at or above next.
	err := db.WithContext(ctx).Create(&models.WalletNonceCounter{
		ChainID:       chainID,
		WalletAddress: addr,
		Nonce:         next,
		UpdatedAt:     time.Now().UTC(),
	}).Error
	if err != nil && isUniqueViolation(err) {
		return nil
	}
	return err
}

func normalizeAddress(addr string) string {
	return strings.ToLower(addr)
}
