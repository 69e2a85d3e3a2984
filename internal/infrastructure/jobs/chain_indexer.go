package jobs

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"chain-relay.backend/internal/config"
	"chain-relay.backend/internal/domain/entities"
	"chain-relay.backend/internal/domain/repositories"
	"chain-relay.backend/internal/domain/services"
	"chain-relay.backend/internal/usecases"
	"chain-relay.backend/pkg/logger"
	"chain-relay.backend/pkg/metrics"
)

// ChainIndexer advances the per-chain log cursor and ingests event logs and
// receipts for subscribed contracts. One run per chain holds the chain's
// lease; a second process observing the lease skips the cycle silently, so
// concurrent deployments never double-index.
type ChainIndexer struct {
	subRepo      repositories.ContractSubscriptionRepository
	cursorRepo   repositories.ChainIndexerCursorRepository
	leaseRepo    repositories.WorkerLeaseRepository
	backfillRepo repositories.BackfillRangeRepository
	eventRepo    repositories.EventRecordRepository
	clients      usecases.ExecutionClientResolver
	notifier     services.Notifier
	provider     *config.Provider
	holder       string
}

// NewChainIndexer creates a new chain indexer worker. holder identifies this
// process in the lease table.
func NewChainIndexer(
	subRepo repositories.ContractSubscriptionRepository,
	cursorRepo repositories.ChainIndexerCursorRepository,
	leaseRepo repositories.WorkerLeaseRepository,
	backfillRepo repositories.BackfillRangeRepository,
	eventRepo repositories.EventRecordRepository,
	clients usecases.ExecutionClientResolver,
	notifier services.Notifier,
	provider *config.Provider,
	holder string,
) *ChainIndexer {
	return &ChainIndexer{
		subRepo:      subRepo,
		cursorRepo:   cursorRepo,
		leaseRepo:    leaseRepo,
		backfillRepo: backfillRepo,
		eventRepo:    eventRepo,
		clients:      clients,
		notifier:     notifier,
		provider:     provider,
		holder:       holder,
	}
}

func (x *ChainIndexer) Name() string { return "chain-indexer" }

// RunOnce indexes every chain with at least one live subscription
func (x *ChainIndexer) RunOnce(ctx context.Context) {
	snap := x.provider.Current()

	chains, err := x.subRepo.ActiveChains(ctx)
	if err != nil {
		logger.Error(ctx, "failed to list active chains", zap.Error(err))
		return
	}

	for _, chainID := range chains {
		if err := x.indexChain(ctx, snap, chainID); err != nil {
			logger.Error(ctx, "indexer run failed",
				zap.Uint64("chain_id", chainID), zap.Error(err))
		}
	}
}

func (x *ChainIndexer) indexChain(ctx context.Context, snap *config.Snapshot, chainID uint64) error {
	held, release, err := x.leaseRepo.TryClaim(ctx, fmt.Sprintf("indexer:%d", chainID), x.holder, snap.LeaseTTL)
	if err != nil {
		return err
	}
	if !held {
		// Another process is indexing this chain right now.
		return nil
	}
	defer release()

	client, err := x.clients.ForChain(chainID)
	if err != nil {
		return err
	}
	subs, err := x.subRepo.ListByChain(ctx, chainID)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil
	}

	head, err := client.HeadBlockNumber(ctx)
	if err != nil {
		return err
	}
	if head < snap.SafetyOffset {
		return nil
	}
	// Stay behind the head so shallow reorgs never strand the cursor past
	// blocks whose logs changed.
	safeHead := head - snap.SafetyOffset

	cursor, err := x.cursorRepo.GetOrCreate(ctx, chainID, safeHead)
	if err != nil {
		return err
	}

	if cursor.LastIndexedBlock < safeHead {
		from := cursor.LastIndexedBlock + 1
		to := safeHead
		if to-from+1 > snap.MaxBlocksPerRun {
			to = from + snap.MaxBlocksPerRun - 1
		}

		if err := x.indexRange(ctx, client, chainID, subs, from, to); err != nil {
			return err
		}
		if err := x.cursorRepo.Advance(ctx, chainID, to); err != nil {
			return err
		}
		metrics.IndexerLastBlock.WithLabelValues(metrics.ChainLabel(chainID)).Set(float64(to))
	}

	return x.runBackfill(ctx, snap, client, chainID)
}

// runBackfill drains at most one pending backfill per chain per cycle
func (x *ChainIndexer) runBackfill(ctx context.Context, snap *config.Snapshot, client services.ExecutionClient, chainID uint64) error {
	b, err := x.backfillRepo.ClaimPending(ctx, chainID)
	if err != nil || b == nil {
		return err
	}

	sub, err := x.subRepo.GetByID(ctx, b.SubscriptionID)
	if err != nil {
		if markErr := x.backfillRepo.MarkFailed(ctx, b.ID); markErr != nil {
			logger.Error(ctx, "failed to mark backfill failed",
				zap.String("backfill_id", b.ID.String()), zap.Error(markErr))
		}
		return err
	}

	// Chunked by the same per-run bound as the forward pass.
	for from := b.FromBlock; from <= b.ToBlock; from += snap.MaxBlocksPerRun {
		to := from + snap.MaxBlocksPerRun - 1
		if to > b.ToBlock {
			to = b.ToBlock
		}
		if err := x.indexRange(ctx, client, chainID, []*entities.ContractSubscription{sub}, from, to); err != nil {
			if markErr := x.backfillRepo.MarkFailed(ctx, b.ID); markErr != nil {
				logger.Error(ctx, "failed to mark backfill failed",
					zap.String("backfill_id", b.ID.String()), zap.Error(markErr))
			}
			return err
		}
	}

	if err := x.backfillRepo.MarkDone(ctx, b.ID); err != nil {
		return err
	}
	logger.Info(ctx, "backfill finished",
		zap.String("backfill_id", b.ID.String()),
		zap.Uint64("chain_id", chainID),
		zap.Uint64("from_block", b.FromBlock),
		zap.Uint64("to_block", b.ToBlock))
	return nil
}

// indexRange fetches, ingests, and announces logs for [from, to]. Ingestion
// is idempotent over the dedup keys, so a crash between insert and cursor
// advance re-ingests harmlessly.
func (x *ChainIndexer) indexRange(ctx context.Context, client services.ExecutionClient, chainID uint64, subs []*entities.ContractSubscription, from, to uint64) error {
	query := buildFilterQuery(subs, from, to)
	logs, err := client.FilterLogs(ctx, query)
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		return nil
	}

	blockTimes := make(map[uint64]time.Time)
	records := make([]*entities.EventLogRecord, 0, len(logs))
	seenTx := make(map[common.Hash]struct{})
	receipts := make([]*entities.TransactionReceiptRecord, 0)

	for _, lg := range logs {
		bt, ok := blockTimes[lg.BlockNumber]
		if !ok {
			bt, err = client.GetBlockTime(ctx, lg.BlockNumber)
			if err != nil {
				return err
			}
			blockTimes[lg.BlockNumber] = bt
		}

		records = append(records, &entities.EventLogRecord{
			ChainID:         chainID,
			ContractAddress: lg.Address.Hex(),
			BlockNumber:     lg.BlockNumber,
			BlockHash:       lg.BlockHash.Hex(),
			TransactionHash: lg.TxHash.Hex(),
			LogIndex:        uint64(lg.Index),
			Topics:          topicStrings(lg.Topics),
			Data:            common.Bytes2Hex(lg.Data),
			BlockTime:       bt,
		})

		if _, ok := seenTx[lg.TxHash]; ok {
			continue
		}
		seenTx[lg.TxHash] = struct{}{}

		receipt, err := client.GetReceipt(ctx, lg.TxHash)
		if err != nil {
			return err
		}
		if receipt == nil {
			continue
		}
		rec := &entities.TransactionReceiptRecord{
			ChainID:         chainID,
			TransactionHash: lg.TxHash.Hex(),
			BlockNumber:     receipt.BlockNumber.Uint64(),
			BlockHash:       receipt.BlockHash.Hex(),
			ContractAddress: lg.Address.Hex(),
			Status:          receipt.Status,
			GasUsed:         receipt.GasUsed,
		}
		if receipt.EffectiveGasPrice != nil {
			rec.EffectiveGasPrice = receipt.EffectiveGasPrice.String()
		}
		receipts = append(receipts, rec)
	}

	if err := x.eventRepo.BulkInsertLogs(ctx, records); err != nil {
		return err
	}
	if err := x.eventRepo.BulkInsertReceipts(ctx, receipts); err != nil {
		return err
	}

	metrics.IndexerLogsIngested.WithLabelValues(metrics.ChainLabel(chainID)).Add(float64(len(records)))
	x.notifier.Notify(ctx, usecases.IndexedEvent(chainID, from, to, len(records)))
	logger.Info(ctx, "indexed block range",
		zap.Uint64("chain_id", chainID),
		zap.Uint64("from_block", from),
		zap.Uint64("to_block", to),
		zap.Int("logs", len(records)))
	return nil
}

// buildFilterQuery collects the union of subscribed addresses. Topic filters
// only narrow the query when every subscription in the range filters;
// otherwise filtering happens at read time.
func buildFilterQuery(subs []*entities.ContractSubscription, from, to uint64) ethereum.FilterQuery {
	addresses := make([]common.Address, 0, len(subs))
	topics := make([]common.Hash, 0)
	allFiltered := true
	for _, sub := range subs {
		addresses = append(addresses, common.HexToAddress(sub.ContractAddress))
		if len(sub.FilterEvents) == 0 {
			allFiltered = false
			continue
		}
		for _, t := range sub.FilterEvents {
			topics = append(topics, common.HexToHash(t))
		}
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: addresses,
	}
	if allFiltered && len(topics) > 0 {
		query.Topics = [][]common.Hash{topics}
	}
	return query
}

func topicStrings(topics []common.Hash) []string {
	out := make([]string, len(topics))
	for i, t := range topics {
		out[i] = t.Hex()
	}
	return out
}
