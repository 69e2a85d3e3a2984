package jobs

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"chain-relay.backend/internal/domain/entities"
	"chain-relay.backend/internal/infrastructure/repositories"
)

type indexerFixture struct {
	indexer    *ChainIndexer
	db         *gorm.DB
	subRepo    *repositories.ContractSubscriptionRepository
	cursorRepo *repositories.ChainIndexerCursorRepository
	backfill   *repositories.BackfillRangeRepository
	events     *repositories.EventRecordRepository
	client     *fakeClient
	notifier   *recordingNotifier
}

func newIndexerFixture(t *testing.T, holder string) *indexerFixture {
	t.Helper()
	db := newTestDB(t)
	subRepo := repositories.NewContractSubscriptionRepository(db)
	cursorRepo := repositories.NewChainIndexerCursorRepository(db)
	backfill := repositories.NewBackfillRangeRepository(db)
	events := repositories.NewEventRecordRepository(db)

	client := newFakeClient(137)
	resolver := &fakeResolver{clients: map[uint64]*fakeClient{137: client}}
	notifier := &recordingNotifier{}

	x := NewChainIndexer(
		subRepo, cursorRepo, repositories.NewWorkerLeaseRepository(db), backfill, events,
		resolver, notifier, newTestProvider(testSnapshot()), holder,
	)
	return &indexerFixture{
		indexer: x, db: db, subRepo: subRepo, cursorRepo: cursorRepo,
		backfill: backfill, events: events, client: client, notifier: notifier,
	}
}

func chainLog(address string, block uint64, index uint) types.Log {
	return types.Log{
		Address:     common.HexToAddress(address),
		Topics:      []common.Hash{common.HexToHash("0xaaa1")},
		Data:        []byte{0xde, 0xad},
		BlockNumber: block,
		BlockHash:   common.HexToHash("0xb10c"),
		TxHash:      common.HexToHash("0xfeed"),
		Index:       index,
	}
}

func TestIndexer_ForwardPass(t *testing.T) {
	f := newIndexerFixture(t, "host-a")
	ctx := context.Background()

	sub := &entities.ContractSubscription{ChainID: 137, ContractAddress: "0xabc"}
	require.NoError(t, f.subRepo.Create(ctx, sub))
	_, err := f.cursorRepo.GetOrCreate(ctx, 137, 900)
	require.NoError(t, err)

	f.client.head = 1000
	f.client.logs = []types.Log{chainLog("0xabc", 950, 0)}
	f.client.blockTimes[950] = time.Now().UTC()
	f.client.receipts[common.HexToHash("0xfeed")] = &types.Receipt{
		Status:            types.ReceiptStatusSuccessful,
		BlockNumber:       big.NewInt(950),
		BlockHash:         common.HexToHash("0xb10c"),
		GasUsed:           31000,
		EffectiveGasPrice: big.NewInt(88),
	}

	f.indexer.RunOnce(ctx)

	// The range stays behind the head by the safety offset.
	require.Len(t, f.client.filters, 1)
	require.Equal(t, uint64(901), f.client.filters[0].FromBlock.Uint64())
	require.Equal(t, uint64(997), f.client.filters[0].ToBlock.Uint64())

	cur, err := f.cursorRepo.GetOrCreate(ctx, 137, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(997), cur.LastIndexedBlock)

	// Records carry the canonical 20-byte form of the log address.
	fullAddr := common.HexToAddress("0xabc").Hex()
	logs, err := f.events.ListLogs(ctx, 137, fullAddr, 0, nil, "", 100, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, uint64(950), logs[0].BlockNumber)

	receipts, err := f.events.ListReceipts(ctx, 137, fullAddr, 0, nil, 100, 0)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	require.Equal(t, uint64(31000), receipts[0].GasUsed)
	require.Equal(t, "88", receipts[0].EffectiveGasPrice)

	require.Len(t, f.notifier.byType(entities.WebhookEventLogIndexed), 1)
}

func TestIndexer_RangeIsBoundedPerRun(t *testing.T) {
	f := newIndexerFixture(t, "host-a")
	ctx := context.Background()

	require.NoError(t, f.subRepo.Create(ctx, &entities.ContractSubscription{ChainID: 137, ContractAddress: "0xabc"}))
	_, err := f.cursorRepo.GetOrCreate(ctx, 137, 0)
	require.NoError(t, err)

	f.client.head = 10_000 // far ahead of the cursor

	f.indexer.RunOnce(ctx)

	require.Len(t, f.client.filters, 1)
	require.Equal(t, uint64(1), f.client.filters[0].FromBlock.Uint64())
	require.Equal(t, uint64(500), f.client.filters[0].ToBlock.Uint64()) // MaxBlocksPerRun

	cur, err := f.cursorRepo.GetOrCreate(ctx, 137, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(500), cur.LastIndexedBlock)
}

func TestIndexer_FirstRunAnchorsAtSafeHead(t *testing.T) {
	f := newIndexerFixture(t, "host-a")
	ctx := context.Background()

	require.NoError(t, f.subRepo.Create(ctx, &entities.ContractSubscription{ChainID: 137, ContractAddress: "0xabc"}))
	f.client.head = 1000

	// No cursor exists yet: the first cycle creates it at the safe head and
	// fetches nothing historical.
	f.indexer.RunOnce(ctx)

	require.Empty(t, f.client.filters)
	cur, err := f.cursorRepo.GetOrCreate(ctx, 137, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(997), cur.LastIndexedBlock)
}

func TestIndexer_LeaseContentionSkips(t *testing.T) {
	f := newIndexerFixture(t, "host-a")
	ctx := context.Background()

	require.NoError(t, f.subRepo.Create(ctx, &entities.ContractSubscription{ChainID: 137, ContractAddress: "0xabc"}))

	leaseRepo := repositories.NewWorkerLeaseRepository(f.db)
	held, _, err := leaseRepo.TryClaim(ctx, "indexer:137", "host-b", time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	f.indexer.RunOnce(ctx)

	// The other holder owns the chain; this cycle does nothing.
	require.Empty(t, f.client.filters)
}

func TestIndexer_TopicFilterOnlyWhenAllSubscriptionsFilter(t *testing.T) {
	f := newIndexerFixture(t, "host-a")
	ctx := context.Background()

	require.NoError(t, f.subRepo.Create(ctx, &entities.ContractSubscription{
		ChainID: 137, ContractAddress: "0xabc", FilterEvents: []string{"0xaaa1"},
	}))
	require.NoError(t, f.subRepo.Create(ctx, &entities.ContractSubscription{
		ChainID: 137, ContractAddress: "0xdef",
	}))
	_, err := f.cursorRepo.GetOrCreate(ctx, 137, 900)
	require.NoError(t, err)

	f.indexer.RunOnce(ctx)

	require.Len(t, f.client.filters, 1)
	// One subscription is unfiltered, so the query cannot narrow by topic.
	require.Empty(t, f.client.filters[0].Topics)
	require.Len(t, f.client.filters[0].Addresses, 2)
}

func TestIndexer_Backfill(t *testing.T) {
	f := newIndexerFixture(t, "host-a")
	ctx := context.Background()

	sub := &entities.ContractSubscription{ChainID: 137, ContractAddress: "0xabc"}
	require.NoError(t, f.subRepo.Create(ctx, sub))
	_, err := f.cursorRepo.GetOrCreate(ctx, 137, 997) // forward pass is a no-op
	require.NoError(t, err)

	b := &entities.BackfillRange{SubscriptionID: sub.ID, ChainID: 137, FromBlock: 1, ToBlock: 1200}
	require.NoError(t, f.backfill.Create(ctx, b))

	f.indexer.RunOnce(ctx)

	// 1200 blocks chunked by the 500-block bound.
	require.Len(t, f.client.filters, 3)
	require.Equal(t, uint64(1), f.client.filters[0].FromBlock.Uint64())
	require.Equal(t, uint64(500), f.client.filters[0].ToBlock.Uint64())
	require.Equal(t, uint64(1001), f.client.filters[2].FromBlock.Uint64())
	require.Equal(t, uint64(1200), f.client.filters[2].ToBlock.Uint64())

	claimed, err := f.backfill.ClaimPending(ctx, 137)
	require.NoError(t, err)
	require.Nil(t, claimed) // marked done, nothing pending
}
