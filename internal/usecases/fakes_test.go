package usecases

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"chain-relay.backend/internal/config"
	"chain-relay.backend/internal/domain/entities"
	"chain-relay.backend/internal/domain/services"
	"chain-relay.backend/internal/infrastructure/repositories"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, repositories.Migrate(db))
	return db
}

func testSnapshot() config.Snapshot {
	return config.Snapshot{
		SubmitBatchSize:          10,
		MinBlocksBeforeRetry:     12,
		CancelTimeout:            time.Hour,
		DroppedTimeout:           3 * time.Hour,
		StalledTimeout:           10 * time.Minute,
		MaxFeeCeilingWei:         big.NewInt(500_000_000_000),
		MaxPriorityFeeCeilingWei: big.NewInt(100_000_000_000),
		MaxBlocksPerRun:          500,
		SafetyOffset:             3,
		MaxBackfillRange:         5000,
		LeaseTTL:                 2 * time.Minute,
		Chains: map[uint64]config.ChainConfig{
			1:   {ChainID: 1, RPCURL: "http://localhost:8545"},
			137: {ChainID: 137, RPCURL: "http://localhost:8546", LegacyGas: true},
		},
	}
}

func newTestProvider() *config.Provider {
	return config.NewProvider(testSnapshot(), nil)
}

// fakeClient is a scriptable ExecutionClient.
type fakeClient struct {
	mu sync.Mutex

	chainID     uint64
	head        uint64
	nonce       uint64
	gasPrice    *big.Int
	gasTip      *big.Int
	gasEstimate uint64

	nonceErr     error
	estimateErr  error
	broadcastErr error

	receipts   map[common.Hash]*types.Receipt
	blockTimes map[uint64]time.Time
	logs       []types.Log

	broadcasts []*types.Transaction
	filters    []ethereum.FilterQuery
}

func newFakeClient(chainID uint64) *fakeClient {
	return &fakeClient{
		chainID:     chainID,
		head:        1000,
		gasPrice:    big.NewInt(100),
		gasTip:      big.NewInt(10),
		gasEstimate: 50000,
		receipts:    make(map[common.Hash]*types.Receipt),
		blockTimes:  make(map[uint64]time.Time),
	}
}

func (c *fakeClient) ChainID() uint64 { return c.chainID }

func (c *fakeClient) HeadBlockNumber(ctx context.Context) (uint64, error) {
	return c.head, nil
}

func (c *fakeClient) GetConfirmedNonce(ctx context.Context, address string) (uint64, error) {
	if c.nonceErr != nil {
		return 0, c.nonceErr
	}
	return c.nonce, nil
}

func (c *fakeClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.gasPrice), nil
}

func (c *fakeClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.gasTip), nil
}

func (c *fakeClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if c.estimateErr != nil {
		return 0, c.estimateErr
	}
	return c.gasEstimate, nil
}

func (c *fakeClient) Broadcast(ctx context.Context, tx *types.Transaction) error {
	if c.broadcastErr != nil {
		return c.broadcastErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcasts = append(c.broadcasts, tx)
	return nil
}

func (c *fakeClient) GetReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return c.receipts[hash], nil
}

func (c *fakeClient) GetBlockTime(ctx context.Context, number uint64) (time.Time, error) {
	if t, ok := c.blockTimes[number]; ok {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unknown block %d", number)
}

func (c *fakeClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = append(c.filters, q)
	return c.logs, nil
}

func (c *fakeClient) lastBroadcast() *types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.broadcasts) == 0 {
		return nil
	}
	return c.broadcasts[len(c.broadcasts)-1]
}

// fakeResolver serves the same clients the factory would.
type fakeResolver struct {
	clients map[uint64]*fakeClient
}

func (r *fakeResolver) ForChain(chainID uint64) (services.ExecutionClient, error) {
	c, ok := r.clients[chainID]
	if !ok {
		return nil, fmt.Errorf("no client for chain %d", chainID)
	}
	return c, nil
}

// passSigner returns the transaction unchanged; tests only need a stable hash.
type passSigner struct {
	signErr error
	signed  int
}

func (s *passSigner) Sign(ctx context.Context, chainID uint64, walletAddress string, tx *types.Transaction) (*types.Transaction, error) {
	if s.signErr != nil {
		return nil, s.signErr
	}
	s.signed++
	return tx, nil
}

// recordingNotifier keeps the emitted events in memory.
type recordingNotifier struct {
	mu     sync.Mutex
	events []*entities.WebhookEvent
}

func (n *recordingNotifier) Notify(ctx context.Context, event *entities.WebhookEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) byType(t entities.WebhookEventType) []*entities.WebhookEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*entities.WebhookEvent
	for _, e := range n.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}
