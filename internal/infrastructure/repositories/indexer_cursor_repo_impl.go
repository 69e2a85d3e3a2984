package repositories

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"chain-relay.backend/internal/domain/entities"
	"chain-relay.backend/internal/infrastructure/models"
)

// ChainIndexerCursorRepository owns the per-chain forward watermark
type ChainIndexerCursorRepository struct {
	db *gorm.DB
}

// NewChainIndexerCursorRepository creates a new cursor repository
func NewChainIndexerCursorRepository(db *gorm.DB) *ChainIndexerCursorRepository {
	return &ChainIndexerCursorRepository{db: db}
}

// GetOrCreate returns the cursor for a chain, creating it at startBlock on
// first use. Concurrent creators race on the primary key; the loser re-reads.
func (r *ChainIndexerCursorRepository) GetOrCreate(ctx context.Context, chainID uint64, startBlock uint64) (*entities.ChainIndexerCursor, error) {
	db := GetDB(ctx, r.db)

	var m models.ChainIndexerCursor
	err := db.WithContext(ctx).Where("chain_id = ?", chainID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		m = models.ChainIndexerCursor{
			ChainID:          chainID,
			LastIndexedBlock: startBlock,
			UpdatedAt:        time.Now().UTC(),
		}
		if cerr := db.WithContext(ctx).Create(&m).Error; cerr != nil {
			if !isUniqueViolation(cerr) {
				return nil, cerr
			}
			if rerr := db.WithContext(ctx).Where("chain_id = ?", chainID).First(&m).Error; rerr != nil {
				return nil, rerr
			}
		}
		err = nil
	}
	if err != nil {
		return nil, err
	}

	return &entities.ChainIndexerCursor{
		ChainID:          m.ChainID,
		LastIndexedBlock: m.LastIndexedBlock,
		UpdatedAt:        m.UpdatedAt,
	}, nil
}

// Advance moves the cursor forward to toBlock. The guard keeps it monotonic:
// a stale or concurrent advance below the stored watermark is a no-op.
func (r *ChainIndexerCursorRepository) Advance(ctx context.Context, chainID uint64, toBlock uint64) error {
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).Model(&models.ChainIndexerCursor{}).
		Where("chain_id = ? AND last_indexed_block < ?", chainID, toBlock).
		Updates(map[string]interface{}{
			"last_indexed_block": toBlock,
			"updated_at":         time.Now().UTC(),
		}).Error
}
