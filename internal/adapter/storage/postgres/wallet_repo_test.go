package postgres

import (
	"context"
	"testing"
	"time"

	"payments-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWallet(ownerID string) *domain.Wallet {
	return &domain.Wallet{
		ID:            uuid.New(),
		OwnerID:       ownerID,
		Currency:      "NGN",
		Balance:       1000,
		LockedBalance: 400,
		IsActive:      true,
		CreatedAt:     time.Now().UTC().Truncate(time.Microsecond),
		UpdatedAt:     time.Now().UTC().Truncate(time.Microsecond),
	}
}

func walletRow(w *domain.Wallet) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "owner_id", "currency", "balance", "locked_balance", "is_active", "created_at", "updated_at"}).
		AddRow(w.ID, w.OwnerID, w.Currency, w.Balance, w.LockedBalance, w.IsActive, w.CreatedAt, w.UpdatedAt)
}

func emptyWalletRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "owner_id", "currency", "balance", "locked_balance", "is_active", "created_at", "updated_at"})
}

func TestWalletRepo_GetOrCreate_Existing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	w := newTestWallet("rider-1")

	mock.ExpectQuery("SELECT .+ FROM wallets WHERE owner_id").
		WithArgs("rider-1", "NGN").
		WillReturnRows(walletRow(w))

	result, err := repo.GetOrCreate(context.Background(), "rider-1", "NGN")
	require.NoError(t, err)
	assert.Equal(t, w.ID, result.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_GetOrCreate_Inserts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	w := newTestWallet("rider-2")
	w.Balance, w.LockedBalance = 0, 0

	mock.ExpectQuery("SELECT .+ FROM wallets WHERE owner_id").
		WithArgs("rider-2", "NGN").
		WillReturnRows(emptyWalletRows())
	mock.ExpectExec("INSERT INTO wallets .+ ON CONFLICT \\(owner_id, currency\\) DO NOTHING").
		WithArgs(pgxmock.AnyArg(), "rider-2", "NGN", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT .+ FROM wallets WHERE owner_id").
		WithArgs("rider-2", "NGN").
		WillReturnRows(walletRow(w))

	result, err := repo.GetOrCreate(context.Background(), "rider-2", "NGN")
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Balance)
	assert.True(t, result.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("SELECT .+ FROM wallets WHERE id").
		WithArgs(id).
		WillReturnRows(emptyWalletRows())

	result, err := NewWalletRepo(mock).GetByID(context.Background(), id)
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestWalletRepo_GetByIDForUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	w := newTestWallet("rider-3")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM wallets WHERE id .+ FOR UPDATE").
		WithArgs(w.ID).
		WillReturnRows(walletRow(w))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	result, err := repo.GetByIDForUpdate(context.Background(), tx, w.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, int64(600), result.Available())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_UpdateBalances(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	walletID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE wallets SET balance").
		WithArgs(int64(600), int64(0), walletID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, repo.UpdateBalances(context.Background(), tx, walletID, 600, 0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_UpdateBalances_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	walletID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE wallets SET balance").
		WithArgs(int64(1), int64(0), walletID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.UpdateBalances(context.Background(), tx, walletID, 1, 0)
	assert.ErrorContains(t, err, "wallet not found")
}

func TestWalletRepo_Deactivate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectExec("UPDATE wallets SET is_active = FALSE").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	assert.NoError(t, NewWalletRepo(mock).Deactivate(context.Background(), id))
	assert.NoError(t, mock.ExpectationsWereMet())
}
