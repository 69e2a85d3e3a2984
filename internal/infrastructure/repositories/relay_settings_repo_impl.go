package repositories

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"chain-relay.backend/internal/config"
	"chain-relay.backend/internal/infrastructure/models"
)

// RelaySettingsRepository reads operator overrides for the config poller
type RelaySettingsRepository struct {
	db *gorm.DB
}

// NewRelaySettingsRepository creates a new settings repository
func NewRelaySettingsRepository(db *gorm.DB) *RelaySettingsRepository {
	return &RelaySettingsRepository{db: db}
}

// GetOverrides returns the stored key/value overrides; an absent row means no
// overrides.
func (r *RelaySettingsRepository) GetOverrides(ctx context.Context) (map[string]string, error) {
	var m models.RelaySettings
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	return config.DecodeOverrides(m.Overrides)
}
