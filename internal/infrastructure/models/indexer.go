package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ChainIndexerCursor struct {
	ChainID          uint64 `gorm:"primaryKey;autoIncrement:false"`
	LastIndexedBlock uint64 `gorm:"not null"`
	UpdatedAt        time.Time
}

// WorkerLease backs the TryClaim primitive. A lease is free when Holder is
// empty or ExpiresAt has passed.
type WorkerLease struct {
	Key       string `gorm:"type:varchar(255);primaryKey"`
	Holder    string `gorm:"type:varchar(255)"`
	ExpiresAt time.Time
	UpdatedAt time.Time
}

type ContractSubscription struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	ChainID         uint64    `gorm:"not null;index"`
	ContractAddress string    `gorm:"type:varchar(255);not null;index"`
	FilterEvents    string    `gorm:"type:text"` // comma separated topic0 hashes
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       gorm.DeletedAt `gorm:"index"`
}

type BackfillRange struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	SubscriptionID uuid.UUID `gorm:"type:uuid;not null;index"`
	ChainID        uint64    `gorm:"not null;index"`
	FromBlock      uint64    `gorm:"not null"`
	ToBlock        uint64    `gorm:"not null"`
	Status         string    `gorm:"type:varchar(50);not null;index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type EventLogRecord struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement"`
	ChainID         uint64 `gorm:"not null;uniqueIndex:idx_event_log_dedup;index:idx_event_log_lookup"`
	TransactionHash string `gorm:"type:varchar(255);not null;uniqueIndex:idx_event_log_dedup"`
	LogIndex        uint64 `gorm:"not null;uniqueIndex:idx_event_log_dedup"`
	ContractAddress string `gorm:"type:varchar(255);not null;index:idx_event_log_lookup"`
	BlockNumber     uint64 `gorm:"not null;index"`
	BlockHash       string `gorm:"type:varchar(255)"`
	Topics          string `gorm:"type:text"` // comma separated
	Data            string `gorm:"type:text"`
	BlockTime       time.Time
	CreatedAt       time.Time
}

type TransactionReceiptRecord struct {
	ID                uint64 `gorm:"primaryKey;autoIncrement"`
	ChainID           uint64 `gorm:"not null;uniqueIndex:idx_receipt_dedup;index:idx_receipt_lookup"`
	TransactionHash   string `gorm:"type:varchar(255);not null;uniqueIndex:idx_receipt_dedup"`
	ContractAddress   string `gorm:"type:varchar(255);index:idx_receipt_lookup"`
	BlockNumber       uint64 `gorm:"not null;index"`
	BlockHash         string `gorm:"type:varchar(255)"`
	Status            uint64
	GasUsed           uint64
	EffectiveGasPrice string `gorm:"type:varchar(100)"` // BigInt
	CreatedAt         time.Time
}

type WebhookEvent struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	EventType   string     `gorm:"type:varchar(100);not null;index"`
	QueueID     *uuid.UUID `gorm:"type:uuid;index"`
	Payload     string     `gorm:"type:jsonb;default:'{}'"`
	Attempts    int        `gorm:"default:0"`
	DeliveredAt *time.Time `gorm:"index"`
	CreatedAt   time.Time
}

// RelaySettings is a single-row table of operator overrides, JSON encoded,
// merged over env defaults by the config poller.
type RelaySettings struct {
	ID        uint   `gorm:"primaryKey"`
	Overrides string `gorm:"type:jsonb;default:'{}'"`
	UpdatedAt time.Time
}
