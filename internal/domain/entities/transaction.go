package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
)

// TxStatus represents the lifecycle state of a relayed transaction
type TxStatus string

const (
	TxStatusQueued    TxStatus = "QUEUED"
	TxStatusProcessed TxStatus = "PROCESSED"
	TxStatusSent      TxStatus = "SENT"
	TxStatusMined     TxStatus = "MINED"
	TxStatusCancelled TxStatus = "CANCELLED"
	TxStatusErrored   TxStatus = "ERRORED"
)

// OnChainStatus is the execution outcome reported by the receipt
type OnChainStatus string

const (
	OnChainStatusSuccess  OnChainStatus = "SUCCESS"
	OnChainStatusReverted OnChainStatus = "REVERTED"
)

// Transaction represents a relayed transaction through its whole lifecycle
type Transaction struct {
	ID             uuid.UUID   `json:"queueId"`
	IdempotencyKey null.String `json:"idempotencyKey,omitempty"`

	ChainID     uint64      `json:"chainId"`
	FromAddress string      `json:"fromAddress"`
	ToAddress   string      `json:"toAddress"`
	Data        string      `json:"data"`
	Value       string      `json:"value"`
	// Account-abstraction intent: set instead of FromAddress for delegated sends.
	SignerAddress  null.String `json:"signerAddress,omitempty"`
	AccountAddress null.String `json:"accountAddress,omitempty"`
	Target         null.String `json:"target,omitempty"`

	Status       TxStatus    `json:"status"`
	QueuedAt     time.Time   `json:"queuedAt"`
	ProcessedAt  *time.Time  `json:"processedAt,omitempty"`
	SentAt       *time.Time  `json:"sentAt,omitempty"`
	MinedAt      *time.Time  `json:"minedAt,omitempty"`
	CancelledAt  *time.Time  `json:"cancelledAt,omitempty"`
	ErrorMessage null.String `json:"errorMessage,omitempty"`

	// Populated once sent.
	Nonce                *uint64     `json:"nonce,omitempty"`
	TransactionHash      null.String `json:"transactionHash,omitempty"`
	UserOpHash           null.String `json:"userOpHash,omitempty"`
	CancelTxHash         null.String `json:"cancelTxHash,omitempty"`
	SentAtBlockNumber    *uint64     `json:"sentAtBlockNumber,omitempty"`
	GasLimit             *uint64     `json:"gasLimit,omitempty"`
	GasPrice             null.String `json:"gasPrice,omitempty"`
	MaxFeePerGas         null.String `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas null.String `json:"maxPriorityFeePerGas,omitempty"`
	RetryCount           int         `json:"retryCount"`
	RetryGasValues       bool        `json:"retryGasValues"`

	// Populated once mined.
	BlockNumber       *uint64     `json:"blockNumber,omitempty"`
	OnChainStatus     null.String `json:"onChainTxStatus,omitempty"`
	GasUsed           *uint64     `json:"gasUsed,omitempty"`
	EffectiveGasPrice null.String `json:"effectiveGasPrice,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"-"`
}

// IsUserOperation reports whether this transaction goes through the bundler relay
func (t *Transaction) IsUserOperation() bool {
	return t.AccountAddress.Valid && t.AccountAddress.String != ""
}

// IsLegacyGas reports whether the transaction was created under the legacy
// single-gas-price regime. The regime never changes across retries.
func (t *Transaction) IsLegacyGas() bool {
	return t.GasPrice.Valid && !t.MaxFeePerGas.Valid
}

// IsTerminal reports whether the transaction reached a final state
func (t *Transaction) IsTerminal() bool {
	switch t.Status {
	case TxStatusMined, TxStatusCancelled, TxStatusErrored:
		return true
	}
	return false
}

// SenderWallet returns the wallet whose nonce orders this transaction
func (t *Transaction) SenderWallet() string {
	if t.IsUserOperation() {
		return t.AccountAddress.String
	}
	return t.FromAddress
}

// SentUpdate carries exactly the fields written by the Queued/Processed -> Sent
// transition (and by same-nonce retries).
type SentUpdate struct {
	Nonce                uint64
	TransactionHash      null.String
	UserOpHash           null.String
	SentAt               time.Time
	SentAtBlockNumber    uint64
	GasLimit             uint64
	GasPrice             null.String
	MaxFeePerGas         null.String
	MaxPriorityFeePerGas null.String
}

// MinedUpdate carries exactly the fields written by the Sent -> Mined transition
type MinedUpdate struct {
	BlockNumber       uint64
	OnChainStatus     OnChainStatus
	GasUsed           uint64
	EffectiveGasPrice string
	MinedAt           time.Time
}

// ErroredUpdate carries the terminal error message
type ErroredUpdate struct {
	ErrorMessage string
}

// CancelledUpdate carries the fields written by the -> Cancelled transition
type CancelledUpdate struct {
	CancelledAt  time.Time
	CancelTxHash null.String
}
