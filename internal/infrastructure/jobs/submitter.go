package jobs

import (
	"context"
	"strings"
	"time"

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

// BundlerResolver hands out the bundler client for a chain
type BundlerResolver interface {
	BundlerForChain(chainID uint64) (services.BundlerClient, error)
}

// Submitter claims Queued transactions and broadcasts them. Each transaction
// is processed in isolation: one bad intent never blocks the rest of the
// batch, and a failure before broadcast skips the allocated nonce rather
// than reusing it.
type Submitter struct {
	txRepo   repositories.TransactionRepository
	uow      repositories.UnitOfWork
	clients  usecases.ExecutionClientResolver
	bundlers BundlerResolver
	signer   services.Signer
	nonces   *usecases.NonceAllocator
	policy   *usecases.GasPolicy
	notifier services.Notifier
	provider *config.Provider
}

// NewSubmitter creates a new submitter worker
func NewSubmitter(
	txRepo repositories.TransactionRepository,
	uow repositories.UnitOfWork,
	clients usecases.ExecutionClientResolver,
	bundlers BundlerResolver,
	signer services.Signer,
	nonces *usecases.NonceAllocator,
	policy *usecases.GasPolicy,
	notifier services.Notifier,
	provider *config.Provider,
) *Submitter {
	return &Submitter{
		txRepo:   txRepo,
		uow:      uow,
		clients:  clients,
		bundlers: bundlers,
		signer:   signer,
		nonces:   nonces,
		policy:   policy,
		notifier: notifier,
		provider: provider,
	}
}

func (s *Submitter) Name() string { return "submitter" }

// RunOnce claims one batch and submits it
func (s *Submitter) RunOnce(ctx context.Context) {
	snap := s.provider.Current()

	txs, err := s.txRepo.ClaimQueued(ctx, snap.SubmitBatchSize)
	if err != nil {
		logger.Error(ctx, "failed to claim queued transactions", zap.Error(err))
		return
	}

	for _, tx := range txs {
		s.submitOne(ctx, snap, tx)
	}
}

func (s *Submitter) submitOne(ctx context.Context, snap *config.Snapshot, tx *entities.Transaction) {
	if tx.IsUserOperation() {
		s.submitUserOp(ctx, snap, tx)
		return
	}

	client, err := s.clients.ForChain(tx.ChainID)
	if err != nil {
		s.errored(ctx, tx, "unsupported chain: "+err.Error(), "config")
		return
	}
	chainCfg, _ := snap.Chain(tx.ChainID)

	fees, err := s.resolveFees(ctx, client, tx, chainCfg.LegacyGas)
	if err != nil {
		s.errored(ctx, tx, "invalid gas parameters: "+err.Error(), "build")
		return
	}
	if !s.policy.WithinCeiling(fees, snap) {
		// Too expensive right now. Put it back; a later cycle retries under
		// a calmer fee market or a raised ceiling.
		metrics.GasDeferrals.WithLabelValues(metrics.ChainLabel(tx.ChainID)).Inc()
		logger.Warn(ctx, "initial submission deferred by gas ceiling",
			zap.String("queue_id", tx.ID.String()))
		if err := s.txRepo.Requeue(ctx, tx.ID); err != nil {
			logger.Error(ctx, "failed to requeue deferred transaction",
				zap.String("queue_id", tx.ID.String()), zap.Error(err))
		}
		return
	}

	// Estimation doubles as the static simulation. Failing here means the
	// transaction would revert, so it never reaches the network and no
	// nonce is consumed.
	gasLimit, err := client.EstimateGas(ctx, usecases.CallMsg(tx))
	if err != nil {
		s.errored(ctx, tx, "simulation failed: "+err.Error(), "build")
		return
	}

	nonce, err := s.nonces.Allocate(ctx, tx.ChainID, tx.SenderWallet())
	if err != nil {
		// Transient (node or redis unavailable). Put the work back instead
		// of burning the intent.
		logger.Error(ctx, "nonce allocation failed",
			zap.String("queue_id", tx.ID.String()), zap.Error(err))
		if rqErr := s.txRepo.Requeue(ctx, tx.ID); rqErr != nil {
			logger.Error(ctx, "failed to requeue after nonce failure",
				zap.String("queue_id", tx.ID.String()), zap.Error(rqErr))
		}
		return
	}

	unsigned, err := usecases.BuildUnsigned(tx, nonce, gasLimit, fees)
	if err != nil {
		// Nonce already allocated; it stays skipped and a later allocation
		// fills the gap on chain via cancellation or manual intervention.
		s.errored(ctx, tx, "build failed: "+err.Error(), "build")
		return
	}
	signed, err := s.signer.Sign(ctx, tx.ChainID, tx.FromAddress, unsigned)
	if err != nil {
		s.errored(ctx, tx, "signing failed: "+err.Error(), "signer")
		return
	}

	if err := client.Broadcast(ctx, signed); err != nil {
		reason := "broadcast"
		msg := err.Error()
		if strings.Contains(strings.ToLower(msg), "insufficient funds") {
			reason = "insufficient_funds"
			msg = "insufficient funds for gas * price + value"
		}
		s.errored(ctx, tx, msg, reason)
		return
	}

	head, err := client.HeadBlockNumber(ctx)
	if err != nil {
		head = 0
	}

	gasPrice, maxFee, maxPriority := usecases.FeeStrings(fees)
	update := entities.SentUpdate{
		Nonce:                nonce,
		TransactionHash:      null.StringFrom(signed.Hash().Hex()),
		SentAt:               time.Now().UTC(),
		SentAtBlockNumber:    head,
		GasLimit:             gasLimit,
		GasPrice:             gasPrice,
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: maxPriority,
	}

	err = s.uow.Do(ctx, func(ctx context.Context) error {
		if err := s.txRepo.MarkSent(ctx, tx.ID, update); err != nil {
			return err
		}
		return s.notifier.Notify(ctx, usecases.TxEvent(entities.WebhookEventTxSent, tx.ID, map[string]interface{}{
			"queueId":         tx.ID,
			"status":          entities.TxStatusSent,
			"transactionHash": signed.Hash().Hex(),
			"nonce":           nonce,
		}))
	})
	if err != nil {
		// Already on the wire; the reconciliation sweep picks the row up if
		// the status write was lost.
		logger.Error(ctx, "failed to record sent transaction",
			zap.String("queue_id", tx.ID.String()), zap.Error(err))
		return
	}

	metrics.TransactionsSubmitted.WithLabelValues(metrics.ChainLabel(tx.ChainID)).Inc()
	logger.Info(ctx, "transaction broadcast",
		zap.String("queue_id", tx.ID.String()),
		zap.Uint64("nonce", nonce),
		zap.String("transaction_hash", signed.Hash().Hex()))
}

// submitUserOp hands a delegated intent to the bundler relay
func (s *Submitter) submitUserOp(ctx context.Context, snap *config.Snapshot, tx *entities.Transaction) {
	bundler, err := s.bundlers.BundlerForChain(tx.ChainID)
	if err != nil {
		s.errored(ctx, tx, "no bundler for chain: "+err.Error(), "config")
		return
	}
	client, err := s.clients.ForChain(tx.ChainID)
	if err != nil {
		s.errored(ctx, tx, "unsupported chain: "+err.Error(), "config")
		return
	}

	fees, err := s.resolveFees(ctx, client, tx, false)
	if err != nil {
		s.errored(ctx, tx, "invalid gas parameters: "+err.Error(), "build")
		return
	}
	if fees.MaxFeePerGas == nil || fees.MaxPriorityFeePerGas == nil {
		s.errored(ctx, tx, "user operation requires dynamic fee values", "build")
		return
	}
	if !s.policy.WithinCeiling(fees, snap) {
		metrics.GasDeferrals.WithLabelValues(metrics.ChainLabel(tx.ChainID)).Inc()
		if err := s.txRepo.Requeue(ctx, tx.ID); err != nil {
			logger.Error(ctx, "failed to requeue deferred user operation",
				zap.String("queue_id", tx.ID.String()), zap.Error(err))
		}
		return
	}

	// Delegated sends order by the account's own nonce sequence, not the
	// signer wallet's.
	nonce, err := s.nonces.Allocate(ctx, tx.ChainID, tx.AccountAddress.String)
	if err != nil {
		logger.Error(ctx, "nonce allocation failed",
			zap.String("queue_id", tx.ID.String()), zap.Error(err))
		if rqErr := s.txRepo.Requeue(ctx, tx.ID); rqErr != nil {
			logger.Error(ctx, "failed to requeue after nonce failure",
				zap.String("queue_id", tx.ID.String()), zap.Error(rqErr))
		}
		return
	}

	op := &services.UserOperation{
		Sender:               tx.AccountAddress.String,
		Target:               tx.Target.String,
		Nonce:                nonce,
		CallData:             tx.Data,
		Value:                tx.Value,
		MaxFeePerGas:         fees.MaxFeePerGas.String(),
		MaxPriorityFeePerGas: fees.MaxPriorityFeePerGas.String(),
	}
	userOpHash, err := bundler.SendUserOperation(ctx, tx.ChainID, op)
	if err != nil {
		s.errored(ctx, tx, "bundler rejected user operation: "+err.Error(), "broadcast")
		return
	}

	head, err := client.HeadBlockNumber(ctx)
	if err != nil {
		head = 0
	}
	_, maxFee, maxPriority := usecases.FeeStrings(fees)
	update := entities.SentUpdate{
		Nonce:                nonce,
		UserOpHash:           null.StringFrom(userOpHash),
		SentAt:               time.Now().UTC(),
		SentAtBlockNumber:    head,
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: maxPriority,
	}

	err = s.uow.Do(ctx, func(ctx context.Context) error {
		if err := s.txRepo.MarkSent(ctx, tx.ID, update); err != nil {
			return err
		}
		return s.notifier.Notify(ctx, usecases.TxEvent(entities.WebhookEventTxSent, tx.ID, map[string]interface{}{
			"queueId":    tx.ID,
			"status":     entities.TxStatusSent,
			"userOpHash": userOpHash,
			"nonce":      nonce,
		}))
	})
	if err != nil {
		logger.Error(ctx, "failed to record sent user operation",
			zap.String("queue_id", tx.ID.String()), zap.Error(err))
		return
	}

	metrics.TransactionsSubmitted.WithLabelValues(metrics.ChainLabel(tx.ChainID)).Inc()
	logger.Info(ctx, "user operation submitted",
		zap.String("queue_id", tx.ID.String()),
		zap.String("user_op_hash", userOpHash))
}

// resolveFees honors a manual gas override verbatim and otherwise asks the
// policy for fresh suggestions.
func (s *Submitter) resolveFees(ctx context.Context, client services.ExecutionClient, tx *entities.Transaction, legacy bool) (usecases.GasFees, error) {
	if tx.RetryGasValues {
		return usecases.StoredFees(tx)
	}
	return s.policy.Initial(ctx, client, legacy)
}

func (s *Submitter) errored(ctx context.Context, tx *entities.Transaction, msg, reason string) {
	err := s.uow.Do(ctx, func(ctx context.Context) error {
		if err := s.txRepo.MarkErrored(ctx, tx.ID, entities.ErroredUpdate{ErrorMessage: msg}); err != nil {
			return err
		}
		return s.notifier.Notify(ctx, usecases.TxEvent(entities.WebhookEventTxErrored, tx.ID, map[string]interface{}{
			"queueId":      tx.ID,
			"status":       entities.TxStatusErrored,
			"errorMessage": msg,
		}))
	})
	if err != nil {
		logger.Error(ctx, "failed to mark transaction errored",
			zap.String("queue_id", tx.ID.String()), zap.Error(err))
		return
	}
	metrics.TransactionsErrored.WithLabelValues(metrics.ChainLabel(tx.ChainID), reason).Inc()
	logger.Warn(ctx, "transaction errored",
		zap.String("queue_id", tx.ID.String()),
		zap.String("reason", reason),
		zap.String("error", msg))
}
