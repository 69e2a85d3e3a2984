package services

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"chain-relay.backend/internal/domain/entities"
)

// ExecutionClient is the narrow view of the remote execution network the relay
// core depends on. Implementations wrap an already-correct RPC provider; the
// core never signs or validates consensus rules itself.
type ExecutionClient interface {
	ChainID() uint64
	// HeadBlockNumber returns the current remote head
	HeadBlockNumber(ctx context.Context) (uint64, error)
	// GetConfirmedNonce returns the confirmed (mined) nonce of an address
	GetConfirmedNonce(ctx context.Context, address string) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	// EstimateGas doubles as the pre-broadcast static simulation: a failure
	// here is a build-time error and the transaction is never broadcast.
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	Broadcast(ctx context.Context, tx *types.Transaction) error
	// GetReceipt returns (nil, nil) while the transaction is still pending
	GetReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	// GetBlockTime returns the timestamp of the given block
	GetBlockTime(ctx context.Context, number uint64) (time.Time, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Signer signs a built transaction for a wallet. Backed by a local encrypted
// keystore or a remote key-management service; the core is agnostic to which.
type Signer interface {
	Sign(ctx context.Context, chainID uint64, walletAddress string, tx *types.Transaction) (*types.Transaction, error)
}

// UserOperation is the delegated (account-abstraction) send intent handed to
// the bundler relay.
type UserOperation struct {
	Sender               string `json:"sender"`
	Target               string `json:"target"`
	Nonce                uint64 `json:"nonce"`
	CallData             string `json:"callData"`
	Value                string `json:"value"`
	MaxFeePerGas         string `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
	Signature            string `json:"signature,omitempty"`
}

// UserOpReceipt is the bundler's confirmation of an included user operation
type UserOpReceipt struct {
	UserOpHash      string
	TransactionHash string
	BlockNumber     uint64
	Success         bool
	ActualGasUsed   uint64
}

// BundlerClient submits user operations to an ERC-4337 relay
type BundlerClient interface {
	SendUserOperation(ctx context.Context, chainID uint64, op *UserOperation) (string, error)
	// GetUserOperationReceipt returns (nil, nil) while still pending
	GetUserOperationReceipt(ctx context.Context, chainID uint64, userOpHash string) (*UserOpReceipt, error)
}

// Notifier hands lifecycle events to the external webhook dispatcher.
// Fire-and-forget: a failure to notify never rolls back the state transition.
type Notifier interface {
	Notify(ctx context.Context, event *entities.WebhookEvent) error
}
