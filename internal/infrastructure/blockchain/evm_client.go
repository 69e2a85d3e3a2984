package blockchain

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	dialEVMClient    = ethclient.Dial
	getClientChainID = func(client *ethclient.Client, ctx context.Context) (*big.Int, error) {
		return client.ChainID(ctx)
	}
)

// EVMClient adapts an ethclient to the ExecutionClient capability the relay
// core consumes.
type EVMClient struct {
	client  *ethclient.Client
	chainID *big.Int
	rpcURL  string
}

// NewEVMClient creates a new EVM client
func NewEVMClient(rpcURL string) (*EVMClient, error) {
	client, err := dialEVMClient(rpcURL)
	if err != nil {
		return nil, err
	}

	chainID, err := getClientChainID(client, context.Background())
	if err != nil {
		return nil, err
	}

	return &EVMClient{
		client:  client,
		chainID: chainID,
		rpcURL:  rpcURL,
	}, nil
}

// ChainID returns the chain ID
func (c *EVMClient) ChainID() uint64 {
	return c.chainID.Uint64()
}

// HeadBlockNumber returns the current remote head
func (c *EVMClient) HeadBlockNumber(ctx context.Context) (uint64, error) {
	return c.client.BlockNumber(ctx)
}

// GetConfirmedNonce returns the mined nonce of an address
func (c *EVMClient) GetConfirmedNonce(ctx context.Context, address string) (uint64, error) {
	return c.client.NonceAt(ctx, common.HexToAddress(address), nil)
}

// SuggestGasPrice returns the node's suggested legacy gas price
func (c *EVMClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.client.SuggestGasPrice(ctx)
}

// SuggestGasTipCap returns the node's suggested priority fee
func (c *EVMClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return c.client.SuggestGasTipCap(ctx)
}

// EstimateGas estimates gas for a transaction; doubles as the pre-broadcast
// static simulation.
func (c *EVMClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return c.client.EstimateGas(ctx, msg)
}

// Broadcast submits a signed transaction to the network
func (c *EVMClient) Broadcast(ctx context.Context, tx *types.Transaction) error {
	return c.client.SendTransaction(ctx, tx)
}

// GetReceipt returns the receipt for a hash, (nil, nil) while still pending
func (c *EVMClient) GetReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := c.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	return receipt, nil
}

// GetBlockTime returns the timestamp of the given block
func (c *EVMClient) GetBlockTime(ctx context.Context, number uint64) (time.Time, error) {
	header, err := c.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// FilterLogs fetches event logs matching the query
func (c *EVMClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return c.client.FilterLogs(ctx, q)
}

// Close closes the client connection
func (c *EVMClient) Close() {
	if c.client != nil {
		c.client.Close()
	}
}
