package usecases

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
	"go.uber.org/zap"

	"chain-relay.backend/internal/config"
	"chain-relay.backend/internal/domain/entities"
	domainerrors "chain-relay.backend/internal/domain/errors"
	"chain-relay.backend/internal/domain/repositories"
	"chain-relay.backend/internal/domain/services"
	"chain-relay.backend/pkg/logger"
	"chain-relay.backend/pkg/utils"
)

// TransactionIntent is what a producer hands to Enqueue
type TransactionIntent struct {
	ChainID        uint64 `json:"chainId"`
	FromAddress    string `json:"fromAddress"`
	ToAddress      string `json:"toAddress"`
	Data           string `json:"data"`
	Value          string `json:"value"`
	SignerAddress  string `json:"signerAddress,omitempty"`
	AccountAddress string `json:"accountAddress,omitempty"`
	Target         string `json:"target,omitempty"`
	// Manual gas override, used verbatim instead of the gas policy.
	GasPrice             string `json:"gasPrice,omitempty"`
	MaxFeePerGas         string `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas,omitempty"`
}

// TransactionStatus is the read model returned by GetStatus
type TransactionStatus struct {
	QueueID           uuid.UUID         `json:"queueId"`
	Status            entities.TxStatus `json:"status"`
	TransactionHash   null.String       `json:"transactionHash,omitempty"`
	UserOpHash        null.String       `json:"userOpHash,omitempty"`
	Nonce             *uint64           `json:"nonce,omitempty"`
	BlockNumber       *uint64           `json:"blockNumber,omitempty"`
	OnChainStatus     null.String       `json:"onChainTxStatus,omitempty"`
	GasUsed           *uint64           `json:"gasUsed,omitempty"`
	EffectiveGasPrice null.String       `json:"effectiveGasPrice,omitempty"`
	RetryCount        int               `json:"retryCount"`
	ErrorMessage      null.String       `json:"errorMessage,omitempty"`
	QueuedAt          time.Time         `json:"queuedAt"`
	SentAt            *time.Time        `json:"sentAt,omitempty"`
	MinedAt           *time.Time        `json:"minedAt,omitempty"`
	CancelledAt       *time.Time  `json:"cancelledAt,omitempty"`
}

// RelayUsecase is the produced interface of the relay core
type RelayUsecase struct {
	txRepo    repositories.TransactionRepository
	canceller *Canceller
	notifier  services.Notifier
	provider  *config.Provider
}

// NewRelayUsecase creates a new relay usecase
func NewRelayUsecase(
	txRepo repositories.TransactionRepository,
	canceller *Canceller,
	notifier services.Notifier,
	provider *config.Provider,
) *RelayUsecase {
	return &RelayUsecase{
		txRepo:    txRepo,
		canceller: canceller,
		notifier:  notifier,
		provider:  provider,
	}
}

// Enqueue inserts a Queued transaction and returns its queue id. A repeated
// idempotency key returns the original queue id unchanged, regardless of the
// payload, and creates no second record.
func (u *RelayUsecase) Enqueue(ctx context.Context, intent TransactionIntent, idempotencyKey string) (uuid.UUID, error) {
	if err := validateIntent(u.provider.Current(), intent); err != nil {
		return uuid.Nil, err
	}

	if idempotencyKey != "" {
		existing, err := u.txRepo.GetByIdempotencyKey(ctx, idempotencyKey)
		if err == nil {
			return existing.ID, nil
		}
		if !errors.Is(err, domainerrors.ErrNotFound) {
			return uuid.Nil, err
		}
	}

	now := time.Now().UTC()
	tx := &entities.Transaction{
		ID:          utils.GenerateUUIDv7(),
		ChainID:     intent.ChainID,
		FromAddress: intent.FromAddress,
		ToAddress:   intent.ToAddress,
		Data:        intent.Data,
		Value:       defaultValue(intent.Value),
		Status:      entities.TxStatusQueued,
		QueuedAt:    now,
	}
	if idempotencyKey != "" {
		tx.IdempotencyKey = null.StringFrom(idempotencyKey)
	}
	if intent.SignerAddress != "" {
		tx.SignerAddress = null.StringFrom(intent.SignerAddress)
	}
	if intent.AccountAddress != "" {
		tx.AccountAddress = null.StringFrom(intent.AccountAddress)
		tx.FromAddress = intent.SignerAddress
	}
	if intent.Target != "" {
		tx.Target = null.StringFrom(intent.Target)
	}
	if intent.GasPrice != "" || intent.MaxFeePerGas != "" {
		tx.RetryGasValues = true
		if intent.GasPrice != "" {
			tx.GasPrice = null.StringFrom(intent.GasPrice)
		}
		if intent.MaxFeePerGas != "" {
			tx.MaxFeePerGas = null.StringFrom(intent.MaxFeePerGas)
		}
		if intent.MaxPriorityFeePerGas != "" {
			tx.MaxPriorityFeePerGas = null.StringFrom(intent.MaxPriorityFeePerGas)
		}
	}

	err := u.txRepo.Create(ctx, tx)
	if errors.Is(err, domainerrors.ErrAlreadyExists) && idempotencyKey != "" {
		// Lost the insert race with a concurrent identical request.
		existing, gerr := u.txRepo.GetByIdempotencyKey(ctx, idempotencyKey)
		if gerr != nil {
			return uuid.Nil, gerr
		}
		return existing.ID, nil
	}
	if err != nil {
		return uuid.Nil, err
	}

	logger.Info(ctx, "transaction queued",
		zap.String("queue_id", tx.ID.String()),
		zap.Uint64("chain_id", tx.ChainID))
	return tx.ID, nil
}

// GetStatus returns the read model for a queue id
func (u *RelayUsecase) GetStatus(ctx context.Context, queueID uuid.UUID) (*TransactionStatus, error) {
	tx, err := u.txRepo.GetByID(ctx, queueID)
	if err != nil {
		return nil, err
	}
	return &TransactionStatus{
		QueueID:           tx.ID,
		Status:            tx.Status,
		TransactionHash:   tx.TransactionHash,
		UserOpHash:        tx.UserOpHash,
		Nonce:             tx.Nonce,
		BlockNumber:       tx.BlockNumber,
		OnChainStatus:     tx.OnChainStatus,
		GasUsed:           tx.GasUsed,
		EffectiveGasPrice: tx.EffectiveGasPrice,
		RetryCount:        tx.RetryCount,
		ErrorMessage:      tx.ErrorMessage,
		QueuedAt:          tx.QueuedAt,
		SentAt:            tx.SentAt,
		MinedAt:           tx.MinedAt,
		CancelledAt:       tx.CancelledAt,
	}, nil
}

// Cancel applies the cancellation matrix to a queue id. Terminal states
// surface ErrCancelConflict without mutating anything.
func (u *RelayUsecase) Cancel(ctx context.Context, queueID uuid.UUID) (CancelOutcome, error) {
	tx, err := u.txRepo.GetByID(ctx, queueID)
	if err != nil {
		return "", err
	}

	outcome, err := u.canceller.Cancel(ctx, tx)
	if err != nil {
		return "", err
	}

	if outcome == CancelOutcomeCancelled {
		u.notifier.Notify(ctx, TxEvent(entities.WebhookEventTxCancelled, tx.ID, map[string]interface{}{
			"queueId": tx.ID,
			"status":  entities.TxStatusCancelled,
		}))
	}
	return outcome, nil
}

func validateIntent(snap *config.Snapshot, intent TransactionIntent) error {
	if _, ok := snap.Chain(intent.ChainID); !ok {
		return domainerrors.ErrUnsupportedChain
	}
	if intent.ToAddress == "" {
		return domainerrors.ErrInvalidInput
	}
	if intent.AccountAddress == "" && intent.FromAddress == "" {
		return domainerrors.ErrInvalidInput
	}
	if intent.AccountAddress != "" && intent.SignerAddress == "" {
		return domainerrors.ErrInvalidInput
	}
	// A manual override must commit to exactly one gas regime.
	if intent.GasPrice != "" && intent.MaxFeePerGas != "" {
		return domainerrors.ErrInvalidInput
	}
	// Bundlers price user operations in the dynamic fee fields only.
	if intent.AccountAddress != "" && intent.GasPrice != "" {
		return domainerrors.ErrInvalidInput
	}
	return nil
}

func defaultValue(v string) string {
	if v == "" {
		return "0"
	}
	return v
}
