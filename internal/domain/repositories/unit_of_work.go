package repositories

import (
	"context"
)

// UnitOfWork executes a function within one database transaction. Used to pair
// a state transition with its notifier outbox row; external RPC calls must
// never happen inside it.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}
