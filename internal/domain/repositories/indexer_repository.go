package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"chain-relay.backend/internal/domain/entities"
)

// ChainIndexerCursorRepository owns the per-chain forward watermark
type ChainIndexerCursorRepository interface {
	// GetOrCreate returns the cursor for a chain, creating it at startBlock
	// on first subscription.
	GetOrCreate(ctx context.Context, chainID uint64, startBlock uint64) (*entities.ChainIndexerCursor, error)
	// Advance moves the cursor forward to toBlock. Moves are monotonic: a
	// stale advance (toBlock at or below the stored value) is a no-op.
	Advance(ctx context.Context, chainID uint64, toBlock uint64) error
}

// WorkerLeaseRepository is the TryClaim primitive over the relational store.
// Multiple worker processes coordinate through it with skip-if-held semantics.
type WorkerLeaseRepository interface {
	// TryClaim acquires the named lease for ttl. When held by another live
	// holder it returns held=false and the caller skips the cycle entirely.
	TryClaim(ctx context.Context, key, holder string, ttl time.Duration) (held bool, release func(), err error)
}

// ContractSubscriptionRepository drives which addresses the indexer watches
type ContractSubscriptionRepository interface {
	Create(ctx context.Context, sub *entities.ContractSubscription) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.ContractSubscription, error)
	// SoftDelete marks the subscription removed without racing in-flight runs
	SoftDelete(ctx context.Context, id uuid.UUID) error
	ListByChain(ctx context.Context, chainID uint64) ([]*entities.ContractSubscription, error)
	// ActiveChains returns the chain ids that have at least one live subscription
	ActiveChains(ctx context.Context) ([]uint64, error)
	// WasEverSubscribed also matches soft-deleted rows; the stored-record read
	// paths accept formerly subscribed addresses.
	WasEverSubscribed(ctx context.Context, chainID uint64, contractAddress string) (bool, error)
}

// BackfillRangeRepository stores bounded manual ranges indexed outside the
// forward cursor.
type BackfillRangeRepository interface {
	Create(ctx context.Context, b *entities.BackfillRange) error
	// ClaimPending atomically flips one pending backfill to a claimed state
	// for this run; returns nil when none are pending.
	ClaimPending(ctx context.Context, chainID uint64) (*entities.BackfillRange, error)
	MarkDone(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
}

// EventRecordRepository ingests indexed logs and receipts. Ingestion is
// idempotent: duplicates on the dedup key are silently skipped.
type EventRecordRepository interface {
	BulkInsertLogs(ctx context.Context, logs []*entities.EventLogRecord) error
	BulkInsertReceipts(ctx context.Context, receipts []*entities.TransactionReceiptRecord) error
	ListLogs(ctx context.Context, chainID uint64, contractAddress string, fromBlock uint64, toBlock *uint64, topic string, limit, offset int) ([]*entities.EventLogRecord, error)
	ListReceipts(ctx context.Context, chainID uint64, contractAddress string, fromBlock uint64, toBlock *uint64, limit, offset int) ([]*entities.TransactionReceiptRecord, error)
}

// WebhookEventRepository is the notifier outbox
type WebhookEventRepository interface {
	Create(ctx context.Context, e *entities.WebhookEvent) error
	ListUndelivered(ctx context.Context, limit int) ([]*entities.WebhookEvent, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) error
	RecordAttempt(ctx context.Context, id uuid.UUID) error
}

// RelaySettingsRepository reads operator-tunable overrides merged into the
// config snapshot by the poller.
type RelaySettingsRepository interface {
	GetOverrides(ctx context.Context) (map[string]string, error)
}
