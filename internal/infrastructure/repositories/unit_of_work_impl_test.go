package repositories

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	domainerrors "chain-relay.backend/internal/domain/errors"
)

func TestUnitOfWork_CommitsOnSuccess(t *testing.T) {
	db := newTestDB(t)
	uow := NewUnitOfWork(db)
	repo := NewTransactionRepository(db)

	tx := queuedTx(1, "0x01")
	err := uow.Do(context.Background(), func(ctx context.Context) error {
		return repo.Create(ctx, tx)
	})
	require.NoError(t, err)

	got, err := repo.GetByID(context.Background(), tx.ID)
	require.NoError(t, err)
	require.Equal(t, tx.ID, got.ID)
}

func TestUnitOfWork_RollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	uow := NewUnitOfWork(db)
	repo := NewTransactionRepository(db)

	tx := queuedTx(1, "0x01")
	boom := errors.New("boom")
	err := uow.Do(context.Background(), func(ctx context.Context) error {
		if err := repo.Create(ctx, tx); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = repo.GetByID(context.Background(), tx.ID)
	require.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestUnitOfWork_Nests(t *testing.T) {
	db := newTestDB(t)
	uow := NewUnitOfWork(db)
	repo := NewTransactionRepository(db)

	tx := queuedTx(1, "0x01")
	err := uow.Do(context.Background(), func(ctx context.Context) error {
		return uow.Do(ctx, func(inner context.Context) error {
			return repo.Create(inner, tx)
		})
	})
	require.NoError(t, err)

	_, err = repo.GetByID(context.Background(), tx.ID)
	require.NoError(t, err)
}
