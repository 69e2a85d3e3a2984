package repositories

import (
	"gorm.io/gorm"

	"chain-relay.backend/internal/infrastructure/models"
)

// Migrate creates or updates the relay schema
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Transaction{},
		&models.WalletNonceCounter{},
		&models.ChainIndexerCursor{},
		&models.WorkerLease{},
		&models.ContractSubscription{},
		&models.BackfillRange{},
		&models.EventLogRecord{},
		&models.TransactionReceiptRecord{},
		&models.WebhookEvent{},
		&models.RelaySettings{},
	)
}
