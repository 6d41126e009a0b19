package postgres

import (
	"context"
	"testing"
	"time"

	"payments-ledger/internal/core/domain"
	"payments-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLock() *domain.FundLock {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.FundLock{
		Reference: "esc-1",
		WalletID:  uuid.New(),
		Amount:    400,
		Reason:    "split fare",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func lockRows(locks ...*domain.FundLock) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{"reference", "wallet_id", "amount", "reason", "created_at", "expires_at"})
	for _, l := range locks {
		rows.AddRow(l.Reference, l.WalletID, l.Amount, l.Reason, l.CreatedAt, l.ExpiresAt)
	}
	return rows
}

func TestFundLockRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	l := newTestLock()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fund_locks").
		WithArgs(l.Reference, l.WalletID, l.Amount, l.Reason, l.CreatedAt, l.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, NewFundLockRepo(mock).Create(context.Background(), tx, l))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFundLockRepo_Create_DuplicateReference(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	l := newTestLock()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fund_locks").
		WithArgs(l.Reference, l.WalletID, l.Amount, l.Reason, l.CreatedAt, l.ExpiresAt).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = NewFundLockRepo(mock).Create(context.Background(), tx, l)
	assert.ErrorIs(t, err, ports.ErrDuplicateLock)
}

func TestFundLockRepo_GetForUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	l := newTestLock()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM fund_locks WHERE reference = .+ FOR UPDATE").
		WithArgs("esc-1").
		WillReturnRows(lockRows(l))
	mock.ExpectQuery("SELECT .+ FROM fund_locks WHERE reference = .+ FOR UPDATE").
		WithArgs("gone").
		WillReturnRows(lockRows())

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)
	repo := NewFundLockRepo(mock)

	got, err := repo.GetForUpdate(context.Background(), tx, "esc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(400), got.Amount)

	got, err = repo.GetForUpdate(context.Background(), tx, "gone")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFundLockRepo_Delete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM fund_locks WHERE reference").
		WithArgs("esc-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM fund_locks WHERE reference").
		WithArgs("esc-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)
	repo := NewFundLockRepo(mock)

	assert.NoError(t, repo.Delete(context.Background(), tx, "esc-1"))
	assert.ErrorContains(t, repo.Delete(context.Background(), tx, "esc-1"), "fund lock not found")
}

func TestFundLockRepo_ListExpired(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	l := newTestLock()
	l.ExpiresAt = now.Add(-time.Second)

	mock.ExpectQuery("SELECT .+ FROM fund_locks WHERE expires_at <=").
		WithArgs(now, 200).
		WillReturnRows(lockRows(l))

	locks, err := NewFundLockRepo(mock).ListExpired(context.Background(), now, 200)
	require.NoError(t, err)
	require.Len(t, locks, 1)
	assert.True(t, locks[0].IsExpired(now))
	assert.NoError(t, mock.ExpectationsWereMet())
}
