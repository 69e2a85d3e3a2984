package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"chain-relay.backend/internal/domain/entities"
)

// TransactionRepository persists the transaction lifecycle. The Mark* methods
// are status-guarded: they only write when the current status is a legal
// predecessor of the target state, and report ErrInvalidTransition otherwise.
type TransactionRepository interface {
	Create(ctx context.Context, tx *entities.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*entities.Transaction, error)

	// ClaimQueued atomically flips up to limit Queued transactions to
	// Processed and returns them. Competing claimants skip rows already
	// claimed rather than blocking or duplicating work.
	ClaimQueued(ctx context.Context, limit int) ([]*entities.Transaction, error)

	// ListSent returns Sent transactions oldest first
	ListSent(ctx context.Context, limit int) ([]*entities.Transaction, error)

	// ListStalledProcessed returns transactions stuck in Processed since
	// before the given instant, for the reconciliation sweep.
	ListStalledProcessed(ctx context.Context, before time.Time, limit int) ([]*entities.Transaction, error)

	MarkSent(ctx context.Context, id uuid.UUID, u entities.SentUpdate) error
	MarkMined(ctx context.Context, id uuid.UUID, u entities.MinedUpdate) error
	MarkErrored(ctx context.Context, id uuid.UUID, u entities.ErroredUpdate) error
	MarkCancelled(ctx context.Context, id uuid.UUID, u entities.CancelledUpdate) error

	// MarkRetried rewrites the sent fields for a same-nonce resubmission and
	// increments the retry count. The transaction stays Sent.
	MarkRetried(ctx context.Context, id uuid.UUID, u entities.SentUpdate) error

	// RecordCancelAttempt stores the hash of the broadcast null transaction
	// while the cancellation still races the original.
	RecordCancelAttempt(ctx context.Context, id uuid.UUID, cancelTxHash string) error

	// Requeue flips a Processed transaction back to Queued, used when an
	// initial submission is deferred by the gas ceiling.
	Requeue(ctx context.Context, id uuid.UUID) error
}

// WalletNonceCounterRepository is the durable floor under the fast-path nonce
// counter. Never decremented.
type WalletNonceCounterRepository interface {
	Get(ctx context.Context, chainID uint64, wallet string) (*entities.WalletNonceCounter, error)
	// Raise lifts the stored counter to at least next; lower values are a no-op
	Raise(ctx context.Context, chainID uint64, wallet string, next uint64) error
}
