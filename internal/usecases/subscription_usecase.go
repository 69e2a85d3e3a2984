package usecases

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chain-relay.backend/internal/config"
	"chain-relay.backend/internal/domain/entities"
	domainerrors "chain-relay.backend/internal/domain/errors"
	"chain-relay.backend/internal/domain/repositories"
	"chain-relay.backend/pkg/logger"
	"chain-relay.backend/pkg/utils"
)

// SubscribeRequest registers a contract address for log indexing
type SubscribeRequest struct {
	ChainID         uint64   `json:"chainId"`
	ContractAddress string   `json:"contractAddress"`
	FilterEvents    []string `json:"filterEvents,omitempty"`
	// StartBlock seeds the chain cursor when this is the first subscription
	// on the chain. Ignored otherwise.
	StartBlock uint64 `json:"startBlock,omitempty"`
}

// EventQuery selects stored logs or receipts for a subscribed contract
type EventQuery struct {
	ChainID         uint64
	ContractAddress string
	FromBlock       uint64
	ToBlock         *uint64
	Topic           string
	Page            int
	Limit           int
}

// SubscriptionUsecase manages indexer subscriptions and the stored-record
// read paths.
type SubscriptionUsecase struct {
	subRepo      repositories.ContractSubscriptionRepository
	cursorRepo   repositories.ChainIndexerCursorRepository
	backfillRepo repositories.BackfillRangeRepository
	eventRepo    repositories.EventRecordRepository
	provider     *config.Provider
}

// NewSubscriptionUsecase creates a new subscription usecase
func NewSubscriptionUsecase(
	subRepo repositories.ContractSubscriptionRepository,
	cursorRepo repositories.ChainIndexerCursorRepository,
	backfillRepo repositories.BackfillRangeRepository,
	eventRepo repositories.EventRecordRepository,
	provider *config.Provider,
) *SubscriptionUsecase {
	return &SubscriptionUsecase{
		subRepo:      subRepo,
		cursorRepo:   cursorRepo,
		backfillRepo: backfillRepo,
		eventRepo:    eventRepo,
		provider:     provider,
	}
}

// Subscribe registers a contract for indexing and seeds the chain cursor
func (u *SubscriptionUsecase) Subscribe(ctx context.Context, req SubscribeRequest) (*entities.ContractSubscription, error) {
	snap := u.provider.Current()
	if _, ok := snap.Chain(req.ChainID); !ok {
		return nil, domainerrors.ErrUnsupportedChain
	}
	if req.ContractAddress == "" {
		return nil, domainerrors.ErrInvalidInput
	}

	sub := &entities.ContractSubscription{
		ID:              utils.GenerateUUIDv7(),
		ChainID:         req.ChainID,
		ContractAddress: strings.ToLower(req.ContractAddress),
		FilterEvents:    req.FilterEvents,
	}
	if err := u.subRepo.Create(ctx, sub); err != nil {
		return nil, err
	}

	// First subscription on the chain anchors the forward cursor.
	if _, err := u.cursorRepo.GetOrCreate(ctx, req.ChainID, req.StartBlock); err != nil {
		return nil, err
	}

	logger.Info(ctx, "contract subscribed",
		zap.String("subscription_id", sub.ID.String()),
		zap.Uint64("chain_id", sub.ChainID),
		zap.String("contract_address", sub.ContractAddress))
	return sub, nil
}

// Unsubscribe soft-deletes a subscription. Already indexed records stay
// readable.
func (u *SubscriptionUsecase) Unsubscribe(ctx context.Context, id uuid.UUID) error {
	if _, err := u.subRepo.GetByID(ctx, id); err != nil {
		return err
	}
	return u.subRepo.SoftDelete(ctx, id)
}

// GetSubscription returns a live subscription by id
func (u *SubscriptionUsecase) GetSubscription(ctx context.Context, id uuid.UUID) (*entities.ContractSubscription, error) {
	return u.subRepo.GetByID(ctx, id)
}

// Backfill enqueues a bounded historical range for a subscription. The range
// is inclusive and capped so a single request cannot monopolize the indexer.
func (u *SubscriptionUsecase) Backfill(ctx context.Context, subscriptionID uuid.UUID, fromBlock, toBlock uint64) (*entities.BackfillRange, error) {
	if toBlock < fromBlock {
		return nil, domainerrors.ErrInvalidInput
	}
	snap := u.provider.Current()
	if toBlock-fromBlock+1 > snap.MaxBackfillRange {
		return nil, domainerrors.ErrBackfillRangeTooBig
	}

	sub, err := u.subRepo.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	b := &entities.BackfillRange{
		ID:             utils.GenerateUUIDv7(),
		SubscriptionID: sub.ID,
		ChainID:        sub.ChainID,
		FromBlock:      fromBlock,
		ToBlock:        toBlock,
		Status:         entities.BackfillStatusPending,
	}
	if err := u.backfillRepo.Create(ctx, b); err != nil {
		return nil, err
	}

	logger.Info(ctx, "backfill queued",
		zap.String("backfill_id", b.ID.String()),
		zap.Uint64("chain_id", b.ChainID),
		zap.Uint64("from_block", fromBlock),
		zap.Uint64("to_block", toBlock))
	return b, nil
}

// GetEventLogs returns stored logs for a currently or formerly subscribed
// contract. Never touches the chain.
func (u *SubscriptionUsecase) GetEventLogs(ctx context.Context, q EventQuery) ([]*entities.EventLogRecord, error) {
	if err := u.checkReadable(ctx, q.ChainID, q.ContractAddress); err != nil {
		return nil, err
	}
	p := utils.GetPaginationParams(q.Page, normalizeLimit(q.Limit))
	return u.eventRepo.ListLogs(ctx, q.ChainID, strings.ToLower(q.ContractAddress), q.FromBlock, q.ToBlock, q.Topic, p.Limit, p.CalculateOffset())
}

// GetTransactionReceipts returns stored receipts for a currently or formerly
// subscribed contract.
func (u *SubscriptionUsecase) GetTransactionReceipts(ctx context.Context, q EventQuery) ([]*entities.TransactionReceiptRecord, error) {
	if err := u.checkReadable(ctx, q.ChainID, q.ContractAddress); err != nil {
		return nil, err
	}
	p := utils.GetPaginationParams(q.Page, normalizeLimit(q.Limit))
	return u.eventRepo.ListReceipts(ctx, q.ChainID, strings.ToLower(q.ContractAddress), q.FromBlock, q.ToBlock, p.Limit, p.CalculateOffset())
}

func (u *SubscriptionUsecase) checkReadable(ctx context.Context, chainID uint64, contractAddress string) error {
	if contractAddress == "" {
		return domainerrors.ErrInvalidInput
	}
	ok, err := u.subRepo.WasEverSubscribed(ctx, chainID, strings.ToLower(contractAddress))
	if err != nil {
		return err
	}
	if !ok {
		return domainerrors.ErrNotFound
	}
	return nil
}

func normalizeLimit(limit int) int {
	const maxLimit = 1000
	if limit <= 0 || limit > maxLimit {
		return maxLimit
	}
	return limit
}
