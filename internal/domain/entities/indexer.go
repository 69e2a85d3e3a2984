package entities

import (
	"time"

	"github.com/google/uuid"
)

// ContractSubscription drives which addresses and topics the chain indexer
// fetches logs for. Soft-deleted so in-flight indexing never races a removal.
type ContractSubscription struct {
	ID              uuid.UUID  `json:"id"`
	ChainID         uint64     `json:"chainId"`
	ContractAddress string     `json:"contractAddress"`
	FilterEvents    []string   `json:"filterEvents,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	DeletedAt       *time.Time `json:"-"`
}

// ChainIndexerCursor is the last fully indexed block for a chain.
// Advanced monotonically by exactly one indexer run at a time.
type ChainIndexerCursor struct {
	ChainID          uint64    `json:"chainId"`
	LastIndexedBlock uint64    `json:"lastIndexedBlock"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// BackfillStatus tracks an explicit historical range request
type BackfillStatus string

const (
	BackfillStatusPending BackfillStatus = "PENDING"
	BackfillStatusDone    BackfillStatus = "DONE"
	BackfillStatusFailed  BackfillStatus = "FAILED"
)

// BackfillRange is a bounded manual range indexed outside the forward cursor
type BackfillRange struct {
	ID             uuid.UUID      `json:"id"`
	SubscriptionID uuid.UUID      `json:"subscriptionId"`
	ChainID        uint64         `json:"chainId"`
	FromBlock      uint64         `json:"fromBlock"`
	ToBlock        uint64         `json:"toBlock"`
	Status         BackfillStatus `json:"status"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// EventLogRecord is an indexed contract event log. Deduplicated by
// (chainId, transactionHash, logIndex); ingestion is idempotent.
type EventLogRecord struct {
	ChainID         uint64    `json:"chainId"`
	ContractAddress string    `json:"contractAddress"`
	BlockNumber     uint64    `json:"blockNumber"`
	BlockHash       string    `json:"blockHash"`
	TransactionHash string    `json:"transactionHash"`
	LogIndex        uint64    `json:"logIndex"`
	Topics          []string  `json:"topics"`
	Data            string    `json:"data"`
	BlockTime       time.Time `json:"blockTime"`
	CreatedAt       time.Time `json:"createdAt"`
}

// TransactionReceiptRecord is an indexed receipt, deduplicated by
// (chainId, transactionHash).
type TransactionReceiptRecord struct {
	ChainID           uint64    `json:"chainId"`
	TransactionHash   string    `json:"transactionHash"`
	BlockNumber       uint64    `json:"blockNumber"`
	BlockHash         string    `json:"blockHash"`
	ContractAddress   string    `json:"contractAddress,omitempty"`
	Status            uint64    `json:"status"`
	GasUsed           uint64    `json:"gasUsed"`
	EffectiveGasPrice string    `json:"effectiveGasPrice"`
	CreatedAt         time.Time `json:"createdAt"`
}

// WalletNonceCounter is the durable floor of the per-wallet nonce sequence
type WalletNonceCounter struct {
	ChainID       uint64    `json:"chainId"`
	WalletAddress string    `json:"walletAddress"`
	Nonce         uint64    `json:"nonce"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
