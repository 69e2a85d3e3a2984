package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"chain-relay.backend/internal/config"
	"chain-relay.backend/internal/domain/entities"
	"chain-relay.backend/internal/domain/repositories"
	"chain-relay.backend/internal/domain/services"
	"chain-relay.backend/internal/usecases"
	"chain-relay.backend/pkg/logger"
	"chain-relay.backend/pkg/metrics"
)

const reconcilerBatchSize = 100

// Reconciler sweeps transactions stranded in the claimed state by a worker
// crash between claim and broadcast. Anything claimed but never sent within
// the stall window reaches a terminal error so its producer stops waiting.
type Reconciler struct {
	txRepo   repositories.TransactionRepository
	uow      repositories.UnitOfWork
	notifier services.Notifier
	provider *config.Provider
}

// NewReconciler creates a new reconciliation sweep worker
func NewReconciler(
	txRepo repositories.TransactionRepository,
	uow repositories.UnitOfWork,
	notifier services.Notifier,
	provider *config.Provider,
) *Reconciler {
	return &Reconciler{txRepo: txRepo, uow: uow, notifier: notifier, provider: provider}
}

func (r *Reconciler) Name() string { return "reconciler" }

// RunOnce errors out one batch of stalled claims
func (r *Reconciler) RunOnce(ctx context.Context) {
	snap := r.provider.Current()
	cutoff := time.Now().UTC().Add(-snap.StalledTimeout)

	stalled, err := r.txRepo.ListStalledProcessed(ctx, cutoff, reconcilerBatchSize)
	if err != nil {
		logger.Error(ctx, "failed to list stalled transactions", zap.Error(err))
		return
	}

	for _, tx := range stalled {
		const msg = "relay interrupted before broadcast"
		err := r.uow.Do(ctx, func(ctx context.Context) error {
			if err := r.txRepo.MarkErrored(ctx, tx.ID, entities.ErroredUpdate{ErrorMessage: msg}); err != nil {
				return err
			}
			return r.notifier.Notify(ctx, usecases.TxEvent(entities.WebhookEventTxErrored, tx.ID, map[string]interface{}{
				"queueId":      tx.ID,
				"status":       entities.TxStatusErrored,
				"errorMessage": msg,
			}))
		})
		if err != nil {
			logger.Error(ctx, "failed to reconcile stalled transaction",
				zap.String("queue_id", tx.ID.String()), zap.Error(err))
			continue
		}
		metrics.TransactionsErrored.WithLabelValues(metrics.ChainLabel(tx.ChainID), "stalled").Inc()
		logger.Warn(ctx, "reconciled stalled transaction",
			zap.String("queue_id", tx.ID.String()))
	}
}
