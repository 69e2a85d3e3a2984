package jobs

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/volatiletech/null/v8"
	"go.uber.org/zap"

	"chain-relay.backend/internal/config"
	"chain-relay.backend/internal/domain/entities"
	"chain-relay.backend/internal/domain/repositories"
	"chain-relay.backend/internal/domain/services"
	"chain-relay.backend/internal/usecases"
	"chain-relay.backend/pkg/logger"
	"chain-relay.backend/pkg/metrics"
)

const trackerBatchSize = 100

// ConfirmationTracker watches Sent transactions until they resolve. Per
// transaction and cycle it does exactly one thing: confirm a receipt, time
// out, hand off to the canceller, escalate gas, or nothing.
type ConfirmationTracker struct {
	txRepo    repositories.TransactionRepository
	uow       repositories.UnitOfWork
	clients   usecases.ExecutionClientResolver
	bundlers  BundlerResolver
	signer    services.Signer
	policy    *usecases.GasPolicy
	canceller *usecases.Canceller
	notifier  services.Notifier
	provider  *config.Provider
}

// NewConfirmationTracker creates a new confirmation tracker worker
func NewConfirmationTracker(
	txRepo repositories.TransactionRepository,
	uow repositories.UnitOfWork,
	clients usecases.ExecutionClientResolver,
	bundlers BundlerResolver,
	signer services.Signer,
	policy *usecases.GasPolicy,
	canceller *usecases.Canceller,
	notifier services.Notifier,
	provider *config.Provider,
) *ConfirmationTracker {
	return &ConfirmationTracker{
		txRepo:    txRepo,
		uow:       uow,
		clients:   clients,
		bundlers:  bundlers,
		signer:    signer,
		policy:    policy,
		canceller: canceller,
		notifier:  notifier,
		provider:  provider,
	}
}

func (t *ConfirmationTracker) Name() string { return "confirmation-tracker" }

// RunOnce checks one batch of Sent transactions, oldest first
func (t *ConfirmationTracker) RunOnce(ctx context.Context) {
	snap := t.provider.Current()

	txs, err := t.txRepo.ListSent(ctx, trackerBatchSize)
	if err != nil {
		logger.Error(ctx, "failed to list sent transactions", zap.Error(err))
		return
	}

	for _, tx := range txs {
		if err := t.checkOne(ctx, snap, tx); err != nil {
			logger.Error(ctx, "confirmation check failed",
				zap.String("queue_id", tx.ID.String()), zap.Error(err))
		}
	}
}

func (t *ConfirmationTracker) checkOne(ctx context.Context, snap *config.Snapshot, tx *entities.Transaction) error {
	if tx.IsUserOperation() {
		return t.checkUserOp(ctx, snap, tx)
	}

	client, err := t.clients.ForChain(tx.ChainID)
	if err != nil {
		return err
	}

	// The original's receipt always wins first: a concurrent cancellation
	// that lost the race must not override a mined transaction.
	if tx.TransactionHash.Valid {
		receipt, err := client.GetReceipt(ctx, common.HexToHash(tx.TransactionHash.String))
		if err != nil {
			return err
		}
		if receipt != nil {
			return t.confirm(ctx, client, tx, receipt)
		}
	}

	// A pending cancellation resolves the other way once its null
	// transaction lands.
	if tx.CancelTxHash.Valid {
		receipt, err := client.GetReceipt(ctx, common.HexToHash(tx.CancelTxHash.String))
		if err != nil {
			return err
		}
		if receipt != nil {
			return t.finishCancellation(ctx, client, tx, receipt)
		}
	}

	head, err := client.HeadBlockNumber(ctx)
	if err != nil {
		return err
	}
	if tx.SentAtBlockNumber != nil && head >= *tx.SentAtBlockNumber &&
		head-*tx.SentAtBlockNumber < snap.MinBlocksBeforeRetry {
		// Too soon to tell a slow inclusion from a stuck nonce.
		return nil
	}

	age := time.Since(sentTime(tx))
	switch {
	case age > snap.DroppedTimeout:
		return t.dropped(ctx, tx)
	case age > snap.CancelTimeout:
		if tx.CancelTxHash.Valid {
			// A null transaction is already racing the original.
			return nil
		}
		_, err := t.canceller.Cancel(ctx, tx)
		return err
	default:
		return t.escalate(ctx, snap, client, tx, head)
	}
}

// checkUserOp polls the bundler for inclusion. The bundler owns fee bidding
// for user operations, so there is no escalation path; only confirmation and
// the dropped timeout apply.
func (t *ConfirmationTracker) checkUserOp(ctx context.Context, snap *config.Snapshot, tx *entities.Transaction) error {
	bundler, err := t.bundlers.BundlerForChain(tx.ChainID)
	if err != nil {
		return err
	}
	receipt, err := bundler.GetUserOperationReceipt(ctx, tx.ChainID, tx.UserOpHash.String)
	if err != nil {
		return err
	}
	if receipt != nil {
		onChain := entities.OnChainStatusSuccess
		if !receipt.Success {
			onChain = entities.OnChainStatusReverted
		}
		minedAt := time.Now().UTC()
		if client, cerr := t.clients.ForChain(tx.ChainID); cerr == nil {
			if bt, berr := client.GetBlockTime(ctx, receipt.BlockNumber); berr == nil {
				minedAt = bt
			}
		}
		return t.recordMined(ctx, tx, entities.MinedUpdate{
			BlockNumber:   receipt.BlockNumber,
			OnChainStatus: onChain,
			GasUsed:       receipt.ActualGasUsed,
			MinedAt:       minedAt,
		})
	}

	if time.Since(sentTime(tx)) > snap.DroppedTimeout {
		return t.dropped(ctx, tx)
	}
	return nil
}

func (t *ConfirmationTracker) confirm(ctx context.Context, client services.ExecutionClient, tx *entities.Transaction, receipt *types.Receipt) error {
	onChain := entities.OnChainStatusSuccess
	if receipt.Status != types.ReceiptStatusSuccessful {
		onChain = entities.OnChainStatusReverted
	}

	minedAt := time.Now().UTC()
	if bt, err := client.GetBlockTime(ctx, receipt.BlockNumber.Uint64()); err == nil {
		minedAt = bt
	}

	update := entities.MinedUpdate{
		BlockNumber:   receipt.BlockNumber.Uint64(),
		OnChainStatus: onChain,
		GasUsed:       receipt.GasUsed,
		MinedAt:       minedAt,
	}
	if receipt.EffectiveGasPrice != nil {
		update.EffectiveGasPrice = receipt.EffectiveGasPrice.String()
	}
	return t.recordMined(ctx, tx, update)
}

func (t *ConfirmationTracker) recordMined(ctx context.Context, tx *entities.Transaction, update entities.MinedUpdate) error {
	err := t.uow.Do(ctx, func(ctx context.Context) error {
		if err := t.txRepo.MarkMined(ctx, tx.ID, update); err != nil {
			return err
		}
		return t.notifier.Notify(ctx, usecases.TxEvent(entities.WebhookEventTxMined, tx.ID, map[string]interface{}{
			"queueId":         tx.ID,
			"status":          entities.TxStatusMined,
			"blockNumber":     update.BlockNumber,
			"onChainTxStatus": update.OnChainStatus,
		}))
	})
	if err != nil {
		return err
	}

	metrics.TransactionsMined.WithLabelValues(metrics.ChainLabel(tx.ChainID), string(update.OnChainStatus)).Inc()
	logger.Info(ctx, "transaction mined",
		zap.String("queue_id", tx.ID.String()),
		zap.Uint64("block_number", update.BlockNumber),
		zap.String("on_chain_status", string(update.OnChainStatus)))
	return nil
}

// finishCancellation marks the transaction Cancelled now that its null
// transaction mined and permanently invalidated the original's nonce.
func (t *ConfirmationTracker) finishCancellation(ctx context.Context, client services.ExecutionClient, tx *entities.Transaction, receipt *types.Receipt) error {
	cancelledAt := time.Now().UTC()
	if bt, err := client.GetBlockTime(ctx, receipt.BlockNumber.Uint64()); err == nil {
		cancelledAt = bt
	}

	err := t.uow.Do(ctx, func(ctx context.Context) error {
		update := entities.CancelledUpdate{CancelledAt: cancelledAt, CancelTxHash: tx.CancelTxHash}
		if err := t.txRepo.MarkCancelled(ctx, tx.ID, update); err != nil {
			return err
		}
		return t.notifier.Notify(ctx, usecases.TxEvent(entities.WebhookEventTxCancelled, tx.ID, map[string]interface{}{
			"queueId":      tx.ID,
			"status":       entities.TxStatusCancelled,
			"cancelTxHash": tx.CancelTxHash.String,
		}))
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "cancellation confirmed",
		zap.String("queue_id", tx.ID.String()),
		zap.String("cancel_tx_hash", tx.CancelTxHash.String))
	return nil
}

func (t *ConfirmationTracker) dropped(ctx context.Context, tx *entities.Transaction) error {
	const msg = "Transaction timed out"
	err := t.uow.Do(ctx, func(ctx context.Context) error {
		if err := t.txRepo.MarkErrored(ctx, tx.ID, entities.ErroredUpdate{ErrorMessage: msg}); err != nil {
			return err
		}
		return t.notifier.Notify(ctx, usecases.TxEvent(entities.WebhookEventTxErrored, tx.ID, map[string]interface{}{
			"queueId":      tx.ID,
			"status":       entities.TxStatusErrored,
			"errorMessage": msg,
		}))
	})
	if err != nil {
		return err
	}

	metrics.TransactionsErrored.WithLabelValues(metrics.ChainLabel(tx.ChainID), "dropped").Inc()
	logger.Warn(ctx, "transaction presumed dropped",
		zap.String("queue_id", tx.ID.String()))
	return nil
}

// escalate resubmits the same payload at the same nonce with bumped fees
func (t *ConfirmationTracker) escalate(ctx context.Context, snap *config.Snapshot, client services.ExecutionClient, tx *entities.Transaction, head uint64) error {
	if tx.Nonce == nil || tx.GasLimit == nil {
		return nil
	}

	prev, err := usecases.StoredFees(tx)
	if err != nil {
		return err
	}
	next := t.policy.Escalate(prev)
	if !t.policy.WithinCeiling(next, snap) {
		// Leave the pending transaction exactly as it is; the ceiling may
		// rise or the original may still mine.
		metrics.GasDeferrals.WithLabelValues(metrics.ChainLabel(tx.ChainID)).Inc()
		logger.Warn(ctx, "retry deferred by gas ceiling",
			zap.String("queue_id", tx.ID.String()),
			zap.Int("retry_count", tx.RetryCount))
		return nil
	}

	unsigned, err := usecases.BuildUnsigned(tx, *tx.Nonce, *tx.GasLimit, next)
	if err != nil {
		return err
	}
	signed, err := t.signer.Sign(ctx, tx.ChainID, tx.FromAddress, unsigned)
	if err != nil {
		return err
	}

	if err := client.Broadcast(ctx, signed); err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "nonce too low") || strings.Contains(msg, "already known") {
			// The original likely mined between our receipt check and the
			// rebroadcast; the next cycle sees the receipt.
			return nil
		}
		return err
	}

	gasPrice, maxFee, maxPriority := usecases.FeeStrings(next)
	update := entities.SentUpdate{
		Nonce:                *tx.Nonce,
		TransactionHash:      null.StringFrom(signed.Hash().Hex()),
		SentAt:               time.Now().UTC(),
		SentAtBlockNumber:    head,
		GasLimit:             *tx.GasLimit,
		GasPrice:             gasPrice,
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: maxPriority,
	}
	err = t.uow.Do(ctx, func(ctx context.Context) error {
		if err := t.txRepo.MarkRetried(ctx, tx.ID, update); err != nil {
			return err
		}
		return t.notifier.Notify(ctx, usecases.TxEvent(entities.WebhookEventTxRetried, tx.ID, map[string]interface{}{
			"queueId":         tx.ID,
			"status":          entities.TxStatusSent,
			"transactionHash": signed.Hash().Hex(),
			"retryCount":      tx.RetryCount + 1,
		}))
	})
	if err != nil {
		return err
	}

	metrics.TransactionRetries.WithLabelValues(metrics.ChainLabel(tx.ChainID)).Inc()
	logger.Info(ctx, "transaction resubmitted with escalated gas",
		zap.String("queue_id", tx.ID.String()),
		zap.Uint64("nonce", *tx.Nonce),
		zap.String("transaction_hash", signed.Hash().Hex()),
		zap.Int("retry_count", tx.RetryCount+1))
	return nil
}

func sentTime(tx *entities.Transaction) time.Time {
	if tx.SentAt != nil {
		return *tx.SentAt
	}
	return tx.QueuedAt
}
