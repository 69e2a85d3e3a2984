package blockchain

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"

	"chain-relay.backend/internal/domain/services"
)

// BundlerClient submits user operations to an ERC-4337 relay over JSON-RPC
type BundlerClient struct {
	rpc *rpc.Client
	url string
}

// NewBundlerClient dials a bundler endpoint
func NewBundlerClient(url string) (*BundlerClient, error) {
	client, err := rpc.Dial(url)
	if err != nil {
		return nil, err
	}
	return &BundlerClient{rpc: client, url: url}, nil
}

type userOpReceiptResult struct {
	UserOpHash    string `json:"userOpHash"`
	Success       bool   `json:"success"`
	ActualGasUsed string `json:"actualGasUsed"`
	Receipt       struct {
		TransactionHash string `json:"transactionHash"`
		BlockNumber     string `json:"blockNumber"`
	} `json:"receipt"`
}

// SendUserOperation submits a user operation and returns its hash
func (c *BundlerClient) SendUserOperation(ctx context.Context, chainID uint64, op *services.UserOperation) (string, error) {
	var hash string
	if err := c.rpc.CallContext(ctx, &hash, "eth_sendUserOperation", op, entryPointAddress); err != nil {
		return "", err
	}
	return hash, nil
}

// GetUserOperationReceipt returns (nil, nil) while the op is still pending
func (c *BundlerClient) GetUserOperationReceipt(ctx context.Context, chainID uint64, userOpHash string) (*services.UserOpReceipt, error) {
	var raw json.RawMessage
	if err := c.rpc.CallContext(ctx, &raw, "eth_getUserOperationReceipt", userOpHash); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var res userOpReceiptResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}

	return &services.UserOpReceipt{
		UserOpHash:      res.UserOpHash,
		TransactionHash: res.Receipt.TransactionHash,
		BlockNumber:     parseHexUint(res.Receipt.BlockNumber),
		Success:         res.Success,
		ActualGasUsed:   parseHexUint(res.ActualGasUsed),
	}, nil
}

// Close closes the underlying RPC connection
func (c *BundlerClient) Close() {
	if c.rpc != nil {
		c.rpc.Close()
	}
}

// entryPointAddress is the canonical v0.6 EntryPoint deployment
const entryPointAddress = "0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789"

func parseHexUint(s string) uint64 {
	if strings.HasPrefix(s, "0x") {
		v, _ := strconv.ParseUint(s[2:], 16, 64)
		return v
	}
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}
