package repositories

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"chain-relay.backend/internal/domain/entities"
	"chain-relay.backend/pkg/utils"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err, "open sqlite")
	require.NoError(t, Migrate(db), "migrate")
	return db
}

func queuedTx(chainID uint64, from string) *entities.Transaction {
	return &entities.Transaction{
		ID:          utils.GenerateUUIDv7(),
		ChainID:     chainID,
		FromAddress: from,
		ToAddress:   "0x000000000000000000000000000000000000dEaD",
		Data:        "0x",
		Value:       "0",
		Status:      entities.TxStatusQueued,
		QueuedAt:    time.Now().UTC(),
	}
}
