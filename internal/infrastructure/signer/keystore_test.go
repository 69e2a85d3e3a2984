package signer

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	domainerrors "chain-relay.backend/internal/domain/errors"
)

func TestKeystore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	_, err = EncryptKey(dir, "hunter2", key)
	require.NoError(t, err)

	got, err := DecryptKey(dir, "hunter2", address)
	require.NoError(t, err)
	require.Equal(t, crypto.FromECDSA(key), crypto.FromECDSA(got))
}

func TestKeystore_WrongPassphrase(t *testing.T) {
	dir := t.TempDir()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	_, err = EncryptKey(dir, "hunter2", key)
	require.NoError(t, err)

	_, err = DecryptKey(dir, "wrong", address)
	require.Error(t, err)
}

func TestLocalSigner_Sign(t *testing.T) {
	dir := t.TempDir()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey)

	_, err = EncryptKey(dir, "hunter2", key)
	require.NoError(t, err)

	s := NewLocalSigner(dir, "hunter2")
	to := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    1,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      21000,
		GasPrice: big.NewInt(100),
	})

	signed, err := s.Sign(context.Background(), 137, address.Hex(), tx)
	require.NoError(t, err)

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(137)), signed)
	require.NoError(t, err)
	require.Equal(t, address, sender)

	// A second sign hits the key cache; the result must verify identically.
	signed2, err := s.Sign(context.Background(), 137, address.Hex(), tx)
	require.NoError(t, err)
	sender2, err := types.Sender(types.LatestSignerForChainID(big.NewInt(137)), signed2)
	require.NoError(t, err)
	require.Equal(t, address, sender2)
}

func TestLocalSigner_UnknownWallet(t *testing.T) {
	s := NewLocalSigner(t.TempDir(), "hunter2")
	to := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	tx := types.NewTx(&types.LegacyTx{Nonce: 0, To: &to, Value: big.NewInt(0), Gas: 21000, GasPrice: big.NewInt(1)})

	_, err := s.Sign(context.Background(), 1, "0x1111111111111111111111111111111111111111", tx)
	require.ErrorIs(t, err, domainerrors.ErrSignerUnavailable)
}
