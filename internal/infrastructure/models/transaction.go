package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Transaction struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	IdempotencyKey *string   `gorm:"type:varchar(255);uniqueIndex"`

	ChainID        uint64  `gorm:"not null;index"`
	FromAddress    string  `gorm:"type:varchar(255);not null"`
	ToAddress      string  `gorm:"type:varchar(255);not null"`
	Data           string  `gorm:"type:text"`
	Value          string  `gorm:"type:varchar(100);default:'0'"` // BigInt
	SignerAddress  *string `gorm:"type:varchar(255)"`
	AccountAddress *string `gorm:"type:varchar(255)"`
	Target         *string `gorm:"type:varchar(255)"`

	Status       string `gorm:"type:varchar(50);not null;index"`
	QueuedAt     time.Time
	ProcessedAt  *time.Time
	SentAt       *time.Time `gorm:"index"`
	MinedAt      *time.Time
	CancelledAt  *time.Time
	ErrorMessage *string `gorm:"type:text"`

	Nonce                *uint64
	TransactionHash      *string `gorm:"type:varchar(255);index"`
	UserOpHash           *string `gorm:"type:varchar(255);index"`
	CancelTxHash         *string `gorm:"type:varchar(255)"`
	SentAtBlockNumber    *uint64
	GasLimit             *uint64
	GasPrice             *string `gorm:"type:varchar(100)"` // BigInt
	MaxFeePerGas         *string `gorm:"type:varchar(100)"` // BigInt
	MaxPriorityFeePerGas *string `gorm:"type:varchar(100)"` // BigInt
	RetryCount           int     `gorm:"default:0"`
	RetryGasValues       bool    `gorm:"default:false"`

	BlockNumber       *uint64
	OnChainStatus     *string `gorm:"type:varchar(50)"`
	GasUsed           *uint64
	EffectiveGasPrice *string `gorm:"type:varchar(100)"` // BigInt

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

type WalletNonceCounter struct {
	ChainID       uint64 `gorm:"primaryKey;autoIncrement:false"`
	WalletAddress string `gorm:"type:varchar(255);primaryKey"`
	Nonce         uint64 `gorm:"not null"`
	UpdatedAt     time.Time
}
