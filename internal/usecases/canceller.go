package usecases

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/volatiletech/null/v8"
	"go.uber.org/zap"

	"chain-relay.backend/internal/domain/entities"
	domainerrors "chain-relay.backend/internal/domain/errors"
	"chain-relay.backend/internal/domain/repositories"
	"chain-relay.backend/internal/domain/services"
	"chain-relay.backend/pkg/logger"
	"chain-relay.backend/pkg/metrics"
)

// CancelOutcome reports what a cancellation attempt did
type CancelOutcome string

const (
	// CancelOutcomeCancelled means the transaction reached Cancelled directly
	// (nothing was ever broadcast, or an errored nonce was freed).
	CancelOutcomeCancelled CancelOutcome = "cancelled"
	// CancelOutcomeSubmitted means a null transaction was broadcast and now
	// races the original; the tracker resolves the winner.
	CancelOutcomeSubmitted CancelOutcome = "submitted"
	// CancelOutcomeOriginalMined means the original's receipt appeared before
	// the null transaction was sent; the cancellation is discarded.
	CancelOutcomeOriginalMined CancelOutcome = "original_mined"
)

// Canceller invalidates a pending transaction by broadcasting a zero-effect
// self-transaction at the same nonce with higher gas. It races the original
// and accepts either winner.
type Canceller struct {
	txRepo  repositories.TransactionRepository
	clients ExecutionClientResolver
	signer  services.Signer
	policy  *GasPolicy
}

// NewCanceller creates a new canceller
func NewCanceller(txRepo repositories.TransactionRepository, clients ExecutionClientResolver, signer services.Signer, policy *GasPolicy) *Canceller {
	return &Canceller{txRepo: txRepo, clients: clients, signer: signer, policy: policy}
}

// Cancel applies the cancellation state matrix for the transaction's current
// status. Terminal states reject with ErrCancelConflict and mutate nothing.
func (c *Canceller) Cancel(ctx context.Context, tx *entities.Transaction) (CancelOutcome, error) {
	switch tx.Status {
	case entities.TxStatusQueued:
		// Nothing was broadcast; a pure database transition suffices.
		err := c.txRepo.MarkCancelled(ctx, tx.ID, entities.CancelledUpdate{CancelledAt: time.Now().UTC()})
		if err != nil {
			return "", err
		}
		return CancelOutcomeCancelled, nil

	case entities.TxStatusSent:
		if tx.AccountAddress.Valid {
			// A user operation orders by the account's own nonce sequence;
			// a signer transaction cannot displace it.
			return "", domainerrors.ErrCancelConflict
		}
		return c.cancelOnChain(ctx, tx, false)

	case entities.TxStatusErrored:
		if tx.Nonce == nil || !tx.TransactionHash.Valid {
			// Never reached the network; database transition only.
			err := c.txRepo.MarkCancelled(ctx, tx.ID, entities.CancelledUpdate{CancelledAt: time.Now().UTC()})
			if err != nil {
				return "", err
			}
			return CancelOutcomeCancelled, nil
		}
		// Reached Sent before erroring: free the nonce on-chain.
		return c.cancelOnChain(ctx, tx, true)

	default:
		return "", domainerrors.ErrCancelConflict
	}
}

// cancelOnChain broadcasts the null transaction. It re-queries the original's
// receipt immediately beforehand: if the original already mined the race is
// over and the attempt is discarded.
func (c *Canceller) cancelOnChain(ctx context.Context, tx *entities.Transaction, errored bool) (CancelOutcome, error) {
	client, err := c.clients.ForChain(tx.ChainID)
	if err != nil {
		return "", err
	}

	if tx.TransactionHash.Valid {
		receipt, rerr := client.GetReceipt(ctx, common.HexToHash(tx.TransactionHash.String))
		if rerr == nil && receipt != nil {
			return CancelOutcomeOriginalMined, nil
		}
	}

	prev, err := StoredFees(tx)
	if err != nil {
		return "", err
	}
	// At least double the last known attempt so the null transaction can
	// outbid the original.
	fees := c.policy.Escalate(prev)

	wallet := tx.FromAddress
	nullTx := BuildNullTx(wallet, *tx.Nonce, fees)
	signed, err := c.signer.Sign(ctx, tx.ChainID, wallet, nullTx)
	if err != nil {
		return "", err
	}

	if err := client.Broadcast(ctx, signed); err != nil {
		return "", err
	}
	metrics.CancellationsAttempted.WithLabelValues(metrics.ChainLabel(tx.ChainID)).Inc()
	logger.Info(ctx, "broadcast cancellation",
		zap.String("queue_id", tx.ID.String()),
		zap.Uint64("nonce", *tx.Nonce),
		zap.String("cancel_tx_hash", signed.Hash().Hex()))

	if errored {
		// The original already errored; the null transaction only frees the
		// nonce, so finalize immediately.
		err := c.txRepo.MarkCancelled(ctx, tx.ID, entities.CancelledUpdate{
			CancelledAt:  time.Now().UTC(),
			CancelTxHash: null.StringFrom(signed.Hash().Hex()),
		})
		if err != nil {
			return "", err
		}
		return CancelOutcomeCancelled, nil
	}

	// The null transaction now races the original. Record its hash; the
	// confirmation tracker marks Cancelled only once it lands.
	if err := c.txRepo.RecordCancelAttempt(ctx, tx.ID, signed.Hash().Hex()); err != nil {
		return "", err
	}
	return CancelOutcomeSubmitted, nil
}
