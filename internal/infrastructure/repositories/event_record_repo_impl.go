package repositories

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"chain-relay.backend/internal/domain/entities"
	"chain-relay.backend/internal/infrastructure/models"
)

// EventRecordRepository stores indexed logs and receipts append-only
type EventRecordRepository struct {
	db *gorm.DB
}

// NewEventRecordRepository creates a new event record repository
func NewEventRecordRepository(db *gorm.DB) *EventRecordRepository {
	return &EventRecordRepository{db: db}
}

// BulkInsertLogs inserts logs with duplicate-skip semantics on
// (chain_id, transaction_hash, log_index). Re-ingesting a range is idempotent.
func (r *EventRecordRepository) BulkInsertLogs(ctx context.Context, logs []*entities.EventLogRecord) error {
	if len(logs) == 0 {
		return nil
	}
	ms := make([]models.EventLogRecord, 0, len(logs))
	for _, l := range logs {
		ms = append(ms, models.EventLogRecord{
			ChainID:         l.ChainID,
			TransactionHash: l.TransactionHash,
			LogIndex:        l.LogIndex,
			ContractAddress: normalizeAddress(l.ContractAddress),
			BlockNumber:     l.BlockNumber,
			BlockHash:       l.BlockHash,
			Topics:          strings.Join(l.Topics, ","),
			Data:            l.Data,
			BlockTime:       l.BlockTime,
			CreatedAt:       time.Now().UTC(),
		})
	}
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ms).Error
}

// BulkInsertReceipts inserts receipts with duplicate-skip semantics on
// (chain_id, transaction_hash).
func (r *EventRecordRepository) BulkInsertReceipts(ctx context.Context, receipts []*entities.TransactionReceiptRecord) error {
	if len(receipts) == 0 {
		return nil
	}
	ms := make([]models.TransactionReceiptRecord, 0, len(receipts))
	for _, rec := range receipts {
		ms = append(ms, models.TransactionReceiptRecord{
			ChainID:           rec.ChainID,
			TransactionHash:   rec.TransactionHash,
			ContractAddress:   normalizeAddress(rec.ContractAddress),
			BlockNumber:       rec.BlockNumber,
			BlockHash:         rec.BlockHash,
			Status:            rec.Status,
			GasUsed:           rec.GasUsed,
			EffectiveGasPrice: rec.EffectiveGasPrice,
			CreatedAt:         time.Now().UTC(),
		})
	}
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ms).Error
}

// ListLogs reads stored logs for a contract in a block range
func (r *EventRecordRepository) ListLogs(ctx context.Context, chainID uint64, contractAddress string, fromBlock uint64, toBlock *uint64, topic string, limit, offset int) ([]*entities.EventLogRecord, error) {
	db := GetDB(ctx, r.db)
	q := db.WithContext(ctx).Model(&models.EventLogRecord{}).
		Where("chain_id = ? AND contract_address = ? AND block_number >= ?", chainID, normalizeAddress(contractAddress), fromBlock)
	if toBlock != nil {
		q = q.Where("block_number <= ?", *toBlock)
	}
	if topic != "" {
		q = q.Where("topics LIKE ?", "%"+topic+"%")
	}

	var ms []models.EventLogRecord
	if err := q.Order("block_number ASC, log_index ASC").Limit(limit).Offset(offset).Find(&ms).Error; err != nil {
		return nil, err
	}

	out := make([]*entities.EventLogRecord, 0, len(ms))
	for i := range ms {
		out = append(out, logToEntity(&ms[i]))
	}
	return out, nil
}

// ListReceipts reads stored receipts for a contract in a block range
func (r *EventRecordRepository) ListReceipts(ctx context.Context, chainID uint64, contractAddress string, fromBlock uint64, toBlock *uint64, limit, offset int) ([]*entities.TransactionReceiptRecord, error) {
	db := GetDB(ctx, r.db)
	q := db.WithContext(ctx).Model(&models.TransactionReceiptRecord{}).
		Where("chain_id = ? AND contract_address = ? AND block_number >= ?", chainID, normalizeAddress(contractAddress), fromBlock)
	if toBlock != nil {
		q = q.Where("block_number <= ?", *toBlock)
	}

	var ms []models.TransactionReceiptRecord
	if err := q.Order("block_number ASC").Limit(limit).Offset(offset).Find(&ms).Error; err != nil {
		return nil, err
	}

	out := make([]*entities.TransactionReceiptRecord, 0, len(ms))
	for i := range ms {
		m := ms[i]
		out = append(out, &entities.TransactionReceiptRecord{
			ChainID:           m.ChainID,
			TransactionHash:   m.TransactionHash,
			ContractAddress:   m.ContractAddress,
			BlockNumber:       m.BlockNumber,
			BlockHash:         m.BlockHash,
			Status:            m.Status,
			GasUsed:           m.GasUsed,
			EffectiveGasPrice: m.EffectiveGasPrice,
			CreatedAt:         m.CreatedAt,
		})
	}
	return out, nil
}

func logToEntity(m *models.EventLogRecord) *entities.EventLogRecord {
	var topics []string
	if m.Topics != "" {
		topics = strings.Split(m.Topics, ",")
	}
	return &entities.EventLogRecord{
		ChainID:         m.ChainID,
		TransactionHash: m.TransactionHash,
		LogIndex:        m.LogIndex,
		ContractAddress: m.ContractAddress,
		BlockNumber:     m.BlockNumber,
		BlockHash:       m.BlockHash,
		Topics:          topics,
		Data:            m.Data,
		BlockTime:       m.BlockTime,
		CreatedAt:       m.CreatedAt,
	}
}
