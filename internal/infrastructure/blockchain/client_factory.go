package blockchain

import (
	"fmt"
	"sync"

	"chain-relay.backend/internal/config"
	domainerrors "chain-relay.backend/internal/domain/errors"
	"chain-relay.backend/internal/domain/services"
)

// ClientFactory hands out execution clients per chain. Clients are cached by
// chain id and can be invalidated when the chain config changes.
type ClientFactory struct {
	provider   *config.Provider
	evmClients map[uint64]services.ExecutionClient
	bundlers   map[uint64]services.BundlerClient
	mu         sync.RWMutex
}

// NewClientFactory creates a new client factory
func NewClientFactory(provider *config.Provider) *ClientFactory {
	return &ClientFactory{
		provider:   provider,
		evmClients: make(map[uint64]services.ExecutionClient),
		bundlers:   make(map[uint64]services.BundlerClient),
	}
}

// ForChain returns the cached execution client for a chain, dialing on first use
func (f *ClientFactory) ForChain(chainID uint64) (services.ExecutionClient, error) {
	f.mu.RLock()
	client, ok := f.evmClients[chainID]
	f.mu.RUnlock()
	if ok {
		return client, nil
	}

	chain, ok := f.provider.Current().Chain(chainID)
	if !ok || chain.RPCURL == "" {
		return nil, fmt.Errorf("%w: %d", domainerrors.ErrUnsupportedChain, chainID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Double check
	if client, ok := f.evmClients[chainID]; ok {
		return client, nil
	}

	newClient, err := NewEVMClient(chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create EVM client for chain %d: %w", chainID, err)
	}

	f.evmClients[chainID] = newClient
	return newClient, nil
}

// BundlerForChain returns the cached bundler client for a chain
func (f *ClientFactory) BundlerForChain(chainID uint64) (services.BundlerClient, error) {
	f.mu.RLock()
	client, ok := f.bundlers[chainID]
	f.mu.RUnlock()
	if ok {
		return client, nil
	}

	chain, ok := f.provider.Current().Chain(chainID)
	if !ok || chain.BundlerURL == "" {
		return nil, fmt.Errorf("%w: no bundler for chain %d", domainerrors.ErrUnsupportedChain, chainID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if client, ok := f.bundlers[chainID]; ok {
		return client, nil
	}

	newClient, err := NewBundlerClient(chain.BundlerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create bundler client for chain %d: %w", chainID, err)
	}

	f.bundlers[chainID] = newClient
	return newClient, nil
}

// RegisterClient injects/overrides the cached client for a chain.
// Useful for deterministic unit tests and for config invalidation.
func (f *ClientFactory) RegisterClient(chainID uint64, client services.ExecutionClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evmClients[chainID] = client
}

// RegisterBundler injects/overrides the cached bundler for a chain
func (f *ClientFactory) RegisterBundler(chainID uint64, client services.BundlerClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bundlers[chainID] = client
}

// Invalidate drops the cached clients for a chain so the next call re-dials
func (f *ClientFactory) Invalidate(chainID uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.evmClients, chainID)
	delete(f.bundlers, chainID)
}
