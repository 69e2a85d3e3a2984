package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"chain-relay.backend/internal/domain/entities"
	domainerrors "chain-relay.backend/internal/domain/errors"
	"chain-relay.backend/internal/infrastructure/models"
	"chain-relay.backend/pkg/utils"
)

// TransactionRepository implements transaction lifecycle persistence
type TransactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create inserts a Queued transaction. A duplicate idempotency key surfaces
// ErrAlreadyExists so the caller can return the original record.
func (r *TransactionRepository) Create(ctx context.Context, tx *entities.Transaction) error {
	if tx.ID == uuid.Nil {
		tx.ID = utils.GenerateUUIDv7()
	}
	m := toModel(tx)

	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrAlreadyExists
		}
		return err
	}
	tx.ID = m.ID
	tx.CreatedAt = m.CreatedAt
	return nil
}

// GetByID gets a transaction by queue id
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Transaction, error) {
	var m models.Transaction
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return toEntity(&m), nil
}

// GetByIdempotencyKey gets a transaction by its caller-supplied key
func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*entities.Transaction, error) {
	var m models.Transaction
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Where("idempotency_key = ?", key).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return toEntity(&m), nil
}

// ClaimQueued flips up to limit Queued transactions to Processed and returns
// them. The per-row status guard makes competing claimants skip rows another
// instance already took; on Postgres the locking read additionally skips rows
// locked by a concurrent claim in flight.
func (r *TransactionRepository) ClaimQueued(ctx context.Context, limit int) ([]*entities.Transaction, error) {
	var claimed []*entities.Transaction

	err := GetDB(ctx, r.db).WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&models.Transaction{}).
			Where("status = ?", string(entities.TxStatusQueued)).
			Order("queued_at ASC").
			Limit(limit)
		if isPostgres(tx) {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var ms []models.Transaction
		if err := q.Find(&ms).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		for i := range ms {
			res := tx.Model(&models.Transaction{}).
				Where("id = ? AND status = ?", ms[i].ID, string(entities.TxStatusQueued)).
				Updates(map[string]interface{}{
					"status":       string(entities.TxStatusProcessed),
					"processed_at": now,
					"updated_at":   now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue // lost the race for this row
			}
			ms[i].Status = string(entities.TxStatusProcessed)
			ms[i].ProcessedAt = &now
			claimed = append(claimed, toEntity(&ms[i]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ListSent returns Sent transactions oldest first
func (r *TransactionRepository) ListSent(ctx context.Context, limit int) ([]*entities.Transaction, error) {
	var ms []models.Transaction
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).
		Where("status = ?", string(entities.TxStatusSent)).
		Order("sent_at ASC").
		Limit(limit).
		Find(&ms).Error; err != nil {
		return nil, err
	}
	return toEntities(ms), nil
}

// ListStalledProcessed returns transactions stuck in Processed since before
// the given instant.
func (r *TransactionRepository) ListStalledProcessed(ctx context.Context, before time.Time, limit int) ([]*entities.Transaction, error) {
	var ms []models.Transaction
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).
		Where("status = ? AND processed_at < ?", string(entities.TxStatusProcessed), before).
		Order("processed_at ASC").
		Limit(limit).
		Find(&ms).Error; err != nil {
		return nil, err
	}
	return toEntities(ms), nil
}

// MarkSent transitions Processed -> Sent with the broadcast correlates
func (r *TransactionRepository) MarkSent(ctx context.Context, id uuid.UUID, u entities.SentUpdate) error {
	updates := map[string]interface{}{
		"status":               string(entities.TxStatusSent),
		"nonce":                u.Nonce,
		"sent_at":              u.SentAt,
		"sent_at_block_number": u.SentAtBlockNumber,
		"gas_limit":            u.GasLimit,
		"updated_at":           time.Now().UTC(),
	}
	addGasFields(updates, u)
	return r.guardedUpdate(ctx, id, updates, entities.TxStatusProcessed)
}

// MarkRetried rewrites the sent fields for a same-nonce resubmission
func (r *TransactionRepository) MarkRetried(ctx context.Context, id uuid.UUID, u entities.SentUpdate) error {
	updates := map[string]interface{}{
		"sent_at":              u.SentAt,
		"sent_at_block_number": u.SentAtBlockNumber,
		"retry_count":          gorm.Expr("retry_count + 1"),
		"updated_at":           time.Now().UTC(),
	}
	addGasFields(updates, u)
	return r.guardedUpdate(ctx, id, updates, entities.TxStatusSent)
}

// MarkMined transitions Sent -> Mined with the receipt fields
func (r *TransactionRepository) MarkMined(ctx context.Context, id uuid.UUID, u entities.MinedUpdate) error {
	return r.guardedUpdate(ctx, id, map[string]interface{}{
		"status":              string(entities.TxStatusMined),
		"block_number":        u.BlockNumber,
		"on_chain_status":     string(u.OnChainStatus),
		"gas_used":            u.GasUsed,
		"effective_gas_price": u.EffectiveGasPrice,
		"mined_at":            u.MinedAt,
		"updated_at":          time.Now().UTC(),
	}, entities.TxStatusSent)
}

// MarkErrored records a terminal error from any non-terminal state
func (r *TransactionRepository) MarkErrored(ctx context.Context, id uuid.UUID, u entities.ErroredUpdate) error {
	return r.guardedUpdate(ctx, id, map[string]interface{}{
		"status":        string(entities.TxStatusErrored),
		"error_message": u.ErrorMessage,
		"updated_at":    time.Now().UTC(),
	}, entities.TxStatusQueued, entities.TxStatusProcessed, entities.TxStatusSent)
}

// MarkCancelled finalizes a cancellation
func (r *TransactionRepository) MarkCancelled(ctx context.Context, id uuid.UUID, u entities.CancelledUpdate) error {
	updates := map[string]interface{}{
		"status":       string(entities.TxStatusCancelled),
		"cancelled_at": u.CancelledAt,
		"updated_at":   time.Now().UTC(),
	}
	if u.CancelTxHash.Valid {
		updates["cancel_tx_hash"] = u.CancelTxHash.String
	}
	return r.guardedUpdate(ctx, id, updates, entities.TxStatusQueued, entities.TxStatusSent, entities.TxStatusErrored)
}

// RecordCancelAttempt stores the null-transaction hash while the cancellation
// still races the original.
func (r *TransactionRepository) RecordCancelAttempt(ctx context.Context, id uuid.UUID, cancelTxHash string) error {
	return r.guardedUpdate(ctx, id, map[string]interface{}{
		"cancel_tx_hash": cancelTxHash,
		"updated_at":     time.Now().UTC(),
	}, entities.TxStatusSent)
}

// Requeue flips a Processed transaction back to Queued (gas-ceiling deferral)
func (r *TransactionRepository) Requeue(ctx context.Context, id uuid.UUID) error {
	return r.guardedUpdate(ctx, id, map[string]interface{}{
		"status":       string(entities.TxStatusQueued),
		"processed_at": nil,
		"updated_at":   time.Now().UTC(),
	}, entities.TxStatusProcessed)
}

func (r *TransactionRepository) guardedUpdate(ctx context.Context, id uuid.UUID, updates map[string]interface{}, from ...entities.TxStatus) error {
	states := make([]string, 0, len(from))
	for _, s := range from {
		states = append(states, string(s))
	}

	db := GetDB(ctx, r.db)
	res := db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status IN ?", id, states).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Distinguish a missing row from an illegal transition.
		var count int64
		if err := db.WithContext(ctx).Model(&models.Transaction{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domainerrors.ErrNotFound
		}
		return domainerrors.ErrInvalidTransition
	}
	return nil
}

func addGasFields(updates map[string]interface{}, u entities.SentUpdate) {
	if u.TransactionHash.Valid {
		updates["transaction_hash"] = u.TransactionHash.String
	}
	if u.UserOpHash.Valid {
		updates["user_op_hash"] = u.UserOpHash.String
	}
	if u.GasPrice.Valid {
		updates["gas_price"] = u.GasPrice.String
	}
	if u.MaxFeePerGas.Valid {
		updates["max_fee_per_gas"] = u.MaxFeePerGas.String
	}
	if u.MaxPriorityFeePerGas.Valid {
		updates["max_priority_fee_per_gas"] = u.MaxPriorityFeePerGas.String
	}
}

func toModel(t *entities.Transaction) *models.Transaction {
	return &models.Transaction{
		ID:             t.ID,
		IdempotencyKey: t.IdempotencyKey.Ptr(),
		ChainID:        t.ChainID,
		FromAddress:    t.FromAddress,
		ToAddress:      t.ToAddress,
		Data:           t.Data,
		Value:          t.Value,
		SignerAddress:  t.SignerAddress.Ptr(),
		AccountAddress: t.AccountAddress.Ptr(),
		Target:         t.Target.Ptr(),
		Status:         string(t.Status),
		QueuedAt:       t.QueuedAt,
		ProcessedAt:    t.ProcessedAt,
		SentAt:         t.SentAt,
		MinedAt:        t.MinedAt,
		CancelledAt:    t.CancelledAt,
		ErrorMessage:   t.ErrorMessage.Ptr(),
		Nonce:          t.Nonce,
		TransactionHash:      t.TransactionHash.Ptr(),
		UserOpHash:           t.UserOpHash.Ptr(),
		CancelTxHash:         t.CancelTxHash.Ptr(),
		SentAtBlockNumber:    t.SentAtBlockNumber,
		GasLimit:             t.GasLimit,
		GasPrice:             t.GasPrice.Ptr(),
		MaxFeePerGas:         t.MaxFeePerGas.Ptr(),
		MaxPriorityFeePerGas: t.MaxPriorityFeePerGas.Ptr(),
		RetryCount:           t.RetryCount,
		RetryGasValues:       t.RetryGasValues,
		BlockNumber:          t.BlockNumber,
		OnChainStatus:        t.OnChainStatus.Ptr(),
		GasUsed:              t.GasUsed,
		EffectiveGasPrice:    t.EffectiveGasPrice.Ptr(),
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
	}
}

func toEntity(m *models.Transaction) *entities.Transaction {
	return &entities.Transaction{
		ID:             m.ID,
		IdempotencyKey: null.StringFromPtr(m.IdempotencyKey),
		ChainID:        m.ChainID,
		FromAddress:    m.FromAddress,
		ToAddress:      m.ToAddress,
		Data:           m.Data,
		Value:          m.Value,
		SignerAddress:  null.StringFromPtr(m.SignerAddress),
		AccountAddress: null.StringFromPtr(m.AccountAddress),
		Target:         null.StringFromPtr(m.Target),
		Status:         entities.TxStatus(m.Status),
		QueuedAt:       m.QueuedAt,
		ProcessedAt:    m.ProcessedAt,
		SentAt:         m.SentAt,
		MinedAt:        m.MinedAt,
		CancelledAt:    m.CancelledAt,
		ErrorMessage:   null.StringFromPtr(m.ErrorMessage),
		Nonce:          m.Nonce,
		TransactionHash:      null.StringFromPtr(m.TransactionHash),
		UserOpHash:           null.StringFromPtr(m.UserOpHash),
		CancelTxHash:         null.StringFromPtr(m.CancelTxHash),
		SentAtBlockNumber:    m.SentAtBlockNumber,
		GasLimit:             m.GasLimit,
		GasPrice:             null.StringFromPtr(m.GasPrice),
		MaxFeePerGas:         null.StringFromPtr(m.MaxFeePerGas),
		MaxPriorityFeePerGas: null.StringFromPtr(m.MaxPriorityFeePerGas),
		RetryCount:           m.RetryCount,
		RetryGasValues:       m.RetryGasValues,
		BlockNumber:          m.BlockNumber,
		OnChainStatus:        null.StringFromPtr(m.OnChainStatus),
		GasUsed:              m.GasUsed,
		EffectiveGasPrice:    null.StringFromPtr(m.EffectiveGasPrice),
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

func toEntities(ms []models.Transaction) []*entities.Transaction {
	out := make([]*entities.Transaction, 0, len(ms))
	for i := range ms {
		out = append(out, toEntity(&ms[i]))
	}
	return out
}
