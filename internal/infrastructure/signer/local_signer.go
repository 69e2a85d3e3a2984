package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	gocache "github.com/patrickmn/go-cache"

	domainerrors "chain-relay.backend/internal/domain/errors"
)

// LocalSigner signs transactions with keys from a directory of encrypted key
// files. Decrypted keys are held in a bounded TTL cache so repeated signs for
// a hot wallet skip the scrypt derivation.
type LocalSigner struct {
	dir        string
	passphrase string
	keys       *gocache.Cache
}

// NewLocalSigner creates a signer over the given keystore directory
func NewLocalSigner(dir, passphrase string) *LocalSigner {
	return &LocalSigner{
		dir:        dir,
		passphrase: passphrase,
		keys:       gocache.New(15*time.Minute, 5*time.Minute),
	}
}

// Sign signs the built transaction for the wallet on the given chain
func (s *LocalSigner) Sign(ctx context.Context, chainID uint64, walletAddress string, tx *types.Transaction) (*types.Transaction, error) {
	key, err := s.loadKey(walletAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domainerrors.ErrSignerUnavailable, walletAddress, err)
	}

	signer := types.LatestSignerForChainID(new(big.Int).SetUint64(chainID))
	return types.SignTx(tx, signer, key)
}

// InvalidateKey drops a cached key, forcing a re-read from disk
func (s *LocalSigner) InvalidateKey(walletAddress string) {
	s.keys.Delete(cacheKey(walletAddress))
}

func (s *LocalSigner) loadKey(walletAddress string) (*ecdsa.PrivateKey, error) {
	ck := cacheKey(walletAddress)
	if cached, ok := s.keys.Get(ck); ok {
		return cached.(*ecdsa.PrivateKey), nil
	}

	key, err := DecryptKey(s.dir, s.passphrase, walletAddress)
	if err != nil {
		return nil, err
	}
	s.keys.Set(ck, key, gocache.DefaultExpiration)
	return key, nil
}

func cacheKey(walletAddress string) string {
	return strings.ToLower(walletAddress)
}
