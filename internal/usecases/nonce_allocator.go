package usecases

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	domainerrors "chain-relay.backend/internal/domain/errors"
	"chain-relay.backend/internal/domain/repositories"
	"chain-relay.backend/internal/domain/services"
	"chain-relay.backend/pkg/logger"
	"chain-relay.backend/pkg/redis"
)

// ExecutionClientResolver hands out the execution client for a chain
type ExecutionClientResolver interface {
	ForChain(chainID uint64) (services.ExecutionClient, error)
}

// NonceAllocator issues strictly increasing per-(chain, wallet) nonces. The
// fast path is an atomic redis INCR; the first allocation for a pair seeds
// the counter race-free from the confirmed on-chain nonce. A skipped nonce
// (build failure after allocation) is never reused; it only delays that slot.
type NonceAllocator struct {
	clients  ExecutionClientResolver
	counters repositories.WalletNonceCounterRepository
}

// NewNonceAllocator creates a new nonce allocator
func NewNonceAllocator(clients ExecutionClientResolver, counters repositories.WalletNonceCounterRepository) *NonceAllocator {
	return &NonceAllocator{clients: clients, counters: counters}
}

// Allocate returns the next nonce for (chainID, wallet). It never returns the
// same value twice across concurrent callers or process restarts; if seeding
// from the chain fails it fails closed and no nonce is handed out.
func (a *NonceAllocator) Allocate(ctx context.Context, chainID uint64, wallet string) (uint64, error) {
	key := nonceKey(chainID, wallet)

	exists, err := redis.Exists(ctx, key)
	if err != nil {
		return 0, err
	}
	if !exists {
		if err := a.seed(ctx, chainID, wallet, key); err != nil {
			return 0, err
		}
	}

	// INCR returns the value after increment; the allocated nonce is the
	// value before it. Concurrent callers interleave here but each sees a
	// distinct post-increment value, so allocations stay unique.
	next, err := redis.Incr(ctx, key)
	if err != nil {
		return 0, err
	}
	allocated := uint64(next - 1)

	// Raise the durable floor so a redis cold start cannot reseed below a
	// value we already handed out. Monotonic, never decremented.
	if err := a.counters.Raise(ctx, chainID, wallet, allocated+1); err != nil {
		logger.Warn(ctx, "failed to raise durable nonce floor",
			zap.Uint64("chain_id", chainID),
			zap.String("wallet", wallet),
			zap.Error(err))
	}

	return allocated, nil
}

// seed initializes the counter from on-chain truth. SETNX makes the seed a
// single allocation: concurrent seeders race, exactly one write wins, and
// every caller proceeds against the seeded counter.
func (a *NonceAllocator) seed(ctx context.Context, chainID uint64, wallet, key string) error {
	client, err := a.clients.ForChain(chainID)
	if err != nil {
		return err
	}

	onChain, err := client.GetConfirmedNonce(ctx, wallet)
	if err != nil {
		return fmt.Errorf("%w: %v", domainerrors.ErrNonceSeedFailed, err)
	}

	seedValue := onChain
	if floor, err := a.counters.Get(ctx, chainID, wallet); err == nil && floor.Nonce > seedValue {
		seedValue = floor.Nonce
	}

	set, err := redis.SetNX(ctx, key, seedValue, 0)
	if err != nil {
		return err
	}
	if set {
		logger.Info(ctx, "seeded nonce counter",
			zap.Uint64("chain_id", chainID),
			zap.String("wallet", wallet),
			zap.Uint64("nonce", seedValue))
	}
	return nil
}

func nonceKey(chainID uint64, wallet string) string {
	return fmt.Sprintf("relay:nonce:%d:%s", chainID, strings.ToLower(wallet))
}
