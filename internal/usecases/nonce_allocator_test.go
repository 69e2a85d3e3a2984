package usecases

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	domainerrors "chain-relay.backend/internal/domain/errors"
	"chain-relay.backend/internal/infrastructure/repositories"
	"chain-relay.backend/pkg/redis"
)

func withMiniredis(t *testing.T) {
	t.Helper()
	mr := miniredis.RunT(t)
	redis.SetClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
}

func TestNonceAllocator_SeedsFromChain(t *testing.T) {
	withMiniredis(t)
	db := newTestDB(t)
	counters := repositories.NewWalletNonceCounterRepository(db)

	client := newFakeClient(1)
	client.nonce = 5
	alloc := NewNonceAllocator(&fakeResolver{clients: map[uint64]*fakeClient{1: client}}, counters)
	ctx := context.Background()

	first, err := alloc.Allocate(ctx, 1, "0xWallet")
	require.NoError(t, err)
	require.Equal(t, uint64(5), first)

	second, err := alloc.Allocate(ctx, 1, "0xWALLET") // address casing is irrelevant
	require.NoError(t, err)
	require.Equal(t, uint64(6), second)

	// Durable floor trails the highest allocation plus one.
	floor, err := counters.Get(ctx, 1, "0xwallet")
	require.NoError(t, err)
	require.Equal(t, uint64(7), floor.Nonce)
}

func TestNonceAllocator_DurableFloorWinsOverChain(t *testing.T) {
	withMiniredis(t)
	db := newTestDB(t)
	counters := repositories.NewWalletNonceCounterRepository(db)
	ctx := context.Background()

	// Nonces were handed out before a redis cold start; the chain still
	// reports the older confirmed value.
	require.NoError(t, counters.Raise(ctx, 1, "0xwallet", 9))

	client := newFakeClient(1)
	client.nonce = 5
	alloc := NewNonceAllocator(&fakeResolver{clients: map[uint64]*fakeClient{1: client}}, counters)

	got, err := alloc.Allocate(ctx, 1, "0xwallet")
	require.NoError(t, err)
	require.Equal(t, uint64(9), got)
}

func TestNonceAllocator_SeedFailureFailsClosed(t *testing.T) {
	withMiniredis(t)
	db := newTestDB(t)
	counters := repositories.NewWalletNonceCounterRepository(db)

	client := newFakeClient(1)
	client.nonceErr = errors.New("rpc down")
	alloc := NewNonceAllocator(&fakeResolver{clients: map[uint64]*fakeClient{1: client}}, counters)

	_, err := alloc.Allocate(context.Background(), 1, "0xwallet")
	require.ErrorIs(t, err, domainerrors.ErrNonceSeedFailed)

	// The failure handed out nothing; recovery resumes at the seed value.
	client.nonceErr = nil
	got, err := alloc.Allocate(context.Background(), 1, "0xwallet")
	require.NoError(t, err)
	require.Equal(t, uint64(0), got)
}

func TestNonceAllocator_ConcurrentAllocationsAreUnique(t *testing.T) {
	withMiniredis(t)
	db := newTestDB(t)
	counters := repositories.NewWalletNonceCounterRepository(db)

	client := newFakeClient(1)
	client.nonce = 100
	alloc := NewNonceAllocator(&fakeResolver{clients: map[uint64]*fakeClient{1: client}}, counters)
	ctx := context.Background()

	type result struct {
		nonce uint64
		err   error
	}
	const callers = 32
	results := make(chan result, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := alloc.Allocate(ctx, 1, "0xwallet")
			results <- result{nonce: n, err: err}
		}()
	}
	wg.Wait()
	close(results)

	// Every caller got a distinct slot and the sequence has no holes.
	seen := make(map[uint64]bool, callers)
	for r := range results {
		require.NoError(t, r.err)
		require.False(t, seen[r.nonce], "nonce %d allocated twice", r.nonce)
		require.GreaterOrEqual(t, r.nonce, uint64(100))
		require.Less(t, r.nonce, uint64(100+callers))
		seen[r.nonce] = true
	}
	require.Len(t, seen, callers)
}

func TestNonceAllocator_PerWalletCounters(t *testing.T) {
	withMiniredis(t)
	db := newTestDB(t)
	counters := repositories.NewWalletNonceCounterRepository(db)

	client := newFakeClient(1)
	alloc := NewNonceAllocator(&fakeResolver{clients: map[uint64]*fakeClient{1: client}}, counters)
	ctx := context.Background()

	a, err := alloc.Allocate(ctx, 1, "0xaaa")
	require.NoError(t, err)
	b, err := alloc.Allocate(ctx, 1, "0xbbb")
	require.NoError(t, err)
	require.Equal(t, uint64(0), a)
	require.Equal(t, uint64(0), b)
}
