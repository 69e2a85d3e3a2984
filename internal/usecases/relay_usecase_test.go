package usecases

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"chain-relay.backend/internal/domain/entities"
	domainerrors "chain-relay.backend/internal/domain/errors"
	"chain-relay.backend/internal/infrastructure/repositories"
)

func relayFixture(t *testing.T) (*RelayUsecase, *repositories.TransactionRepository, *recordingNotifier) {
	t.Helper()
	db := newTestDB(t)
	repo := repositories.NewTransactionRepository(db)
	client := newFakeClient(137)
	resolver := &fakeResolver{clients: map[uint64]*fakeClient{137: client}}
	canceller := NewCanceller(repo, resolver, &passSigner{}, NewGasPolicy())
	notifier := &recordingNotifier{}
	u := NewRelayUsecase(repo, canceller, notifier, newTestProvider())
	return u, repo, notifier
}

func validIntent() TransactionIntent {
	return TransactionIntent{
		ChainID:     137,
		FromAddress: "0xWallet000000000000000000000000000000001",
		ToAddress:   "0x000000000000000000000000000000000000dEaD",
		Data:        "0x",
		Value:       "1000",
	}
}

func TestRelayUsecase_Enqueue(t *testing.T) {
	u, repo, _ := relayFixture(t)
	ctx := context.Background()

	id, err := u.Enqueue(ctx, validIntent(), "")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, entities.TxStatusQueued, got.Status)
	require.Equal(t, "1000", got.Value)
	require.False(t, got.RetryGasValues)
}

func TestRelayUsecase_EnqueueIdempotent(t *testing.T) {
	u, repo, _ := relayFixture(t)
	ctx := context.Background()

	first, err := u.Enqueue(ctx, validIntent(), "order-42")
	require.NoError(t, err)

	// Same key, different payload: the original id comes back unchanged.
	other := validIntent()
	other.Value = "999999"
	second, err := u.Enqueue(ctx, other, "order-42")
	require.NoError(t, err)
	require.Equal(t, first, second)

	got, err := repo.GetByID(ctx, first)
	require.NoError(t, err)
	require.Equal(t, "1000", got.Value)
}

func TestRelayUsecase_EnqueueValidation(t *testing.T) {
	u, _, _ := relayFixture(t)
	ctx := context.Background()

	bad := validIntent()
	bad.ChainID = 99999
	_, err := u.Enqueue(ctx, bad, "")
	require.ErrorIs(t, err, domainerrors.ErrUnsupportedChain)

	bad = validIntent()
	bad.ToAddress = ""
	_, err = u.Enqueue(ctx, bad, "")
	require.ErrorIs(t, err, domainerrors.ErrInvalidInput)

	bad = validIntent()
	bad.FromAddress = ""
	_, err = u.Enqueue(ctx, bad, "")
	require.ErrorIs(t, err, domainerrors.ErrInvalidInput)

	// Delegated sends need a signer wallet to pay for the user operation.
	bad = validIntent()
	bad.AccountAddress = "0xSmartAccount"
	bad.SignerAddress = ""
	_, err = u.Enqueue(ctx, bad, "")
	require.ErrorIs(t, err, domainerrors.ErrInvalidInput)

	// A manual override cannot mix gas regimes.
	bad = validIntent()
	bad.GasPrice = "100"
	bad.MaxFeePerGas = "200"
	_, err = u.Enqueue(ctx, bad, "")
	require.ErrorIs(t, err, domainerrors.ErrInvalidInput)

	// Delegated sends are priced with dynamic fees; a legacy override has
	// no field to land in.
	bad = validIntent()
	bad.AccountAddress = "0xSmartAccount"
	bad.SignerAddress = "0xSigner"
	bad.Target = "0xTarget"
	bad.GasPrice = "100"
	_, err = u.Enqueue(ctx, bad, "")
	require.ErrorIs(t, err, domainerrors.ErrInvalidInput)
}

func TestRelayUsecase_ManualGasOverride(t *testing.T) {
	u, repo, _ := relayFixture(t)
	ctx := context.Background()

	intent := validIntent()
	intent.GasPrice = "5000"
	id, err := u.Enqueue(ctx, intent, "")
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	require.True(t, got.RetryGasValues)
	require.Equal(t, "5000", got.GasPrice.String)
}

func TestRelayUsecase_GetStatus(t *testing.T) {
	u, _, _ := relayFixture(t)
	ctx := context.Background()

	id, err := u.Enqueue(ctx, validIntent(), "")
	require.NoError(t, err)

	status, err := u.GetStatus(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, status.QueueID)
	require.Equal(t, entities.TxStatusQueued, status.Status)
	require.Nil(t, status.Nonce)

	_, err = u.GetStatus(ctx, uuid.New())
	require.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestRelayUsecase_CancelNotifiesOnFinal(t *testing.T) {
	u, _, notifier := relayFixture(t)
	ctx := context.Background()

	id, err := u.Enqueue(ctx, validIntent(), "")
	require.NoError(t, err)

	outcome, err := u.Cancel(ctx, id)
	require.NoError(t, err)
	require.Equal(t, CancelOutcomeCancelled, outcome)
	require.Len(t, notifier.byType(entities.WebhookEventTxCancelled), 1)

	// A second cancel finds a terminal row.
	_, err = u.Cancel(ctx, id)
	require.ErrorIs(t, err, domainerrors.ErrCancelConflict)
}
