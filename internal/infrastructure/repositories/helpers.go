package repositories

import (
	"errors"
	"strings"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// isUniqueViolation classifies duplicate-key failures across the Postgres and
// sqlite drivers, used for idempotent inserts.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	// sqlite (tests) reports unique violations as a plain error string.
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key value")
}

// isPostgres reports whether the connected dialect supports locking clauses
// like FOR UPDATE SKIP LOCKED.
func isPostgres(db *gorm.DB) bool {
	return db.Dialector.Name() == "postgres"
}
