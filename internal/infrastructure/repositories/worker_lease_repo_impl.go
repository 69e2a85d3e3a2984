package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"chain-relay.backend/internal/infrastructure/models"
)

// WorkerLeaseRepository implements the TryClaim(key) primitive with a lease
// row per key. It replaces row-lock-based leader election so the same
// skip-if-held semantics work on any relational store and across processes.
type WorkerLeaseRepository struct {
	db *gorm.DB
}

// NewWorkerLeaseRepository creates a new lease repository
func NewWorkerLeaseRepository(db *gorm.DB) *WorkerLeaseRepository {
	return &WorkerLeaseRepository{db: db}
}

// TryClaim acquires the named lease for ttl. A lease is free when unheld or
// expired; the claim is a single guarded UPDATE so competing claimants cannot
// both win. When held elsewhere it returns held=false and no error: skipping
// is the expected outcome under contention, not a failure.
func (r *WorkerLeaseRepository) TryClaim(ctx context.Context, key, holder string, ttl time.Duration) (bool, func(), error) {
	db := GetDB(ctx, r.db)
	now := time.Now().UTC()

	res := db.WithContext(ctx).Model(&models.WorkerLease{}).
		Where("key = ? AND (holder = '' OR holder = ? OR expires_at < ?)", key, holder, now).
		Updates(map[string]interface{}{
			"holder":     holder,
			"expires_at": now.Add(ttl),
			"updated_at": now,
		})
	if res.Error != nil {
		return false, nil, res.Error
	}

	if res.RowsAffected == 0 {
		// Row may not exist yet; first claimant creates it.
		err := db.WithContext(ctx).Create(&models.WorkerLease{
			Key:       key,
			Holder:    holder,
			ExpiresAt: now.Add(ttl),
			UpdatedAt: now,
		}).Error
		if err != nil {
			if isUniqueViolation(err) {
				return false, nil, nil // another holder has it
			}
			return false, nil, err
		}
	}

	release := func() {
		r.db.Model(&models.WorkerLease{}).
			Where("key = ? AND holder = ?", key, holder).
			Updates(map[string]interface{}{
				"holder":     "",
				"updated_at": time.Now().UTC(),
			})
	}
	return true, release, nil
}
