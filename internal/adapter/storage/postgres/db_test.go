package postgres

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"payments-ledger/config"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "db",
		Port:     5432,
		User:     "ledger",
		Password: "secret",
		DBName:   "wallets",
		SSLMode:  "disable",
	}

	assert.Equal(t, "pgx5://ledger:secret@db:5432/wallets?sslmode=disable", migrateURL(cfg))
}

func TestEmbeddedMigrations(t *testing.T) {
	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	require.NoError(t, err)
	require.Len(t, files, 4)

	up, err := fs.ReadFile(migrationsFS, "migrations/000001_ledger.up.sql")
	require.NoError(t, err)
	for _, table := range []string{"wallets", "ledger_entries", "payment_intents", "fund_locks", "idempotency_records"} {
		assert.True(t, strings.Contains(string(up), "CREATE TABLE IF NOT EXISTS "+table), table)
	}
	assert.Contains(t, string(up), "UNIQUE (wallet_id, reference, direction)")
	assert.Contains(t, string(up), "locked_balance <= balance")

	polled, err := fs.ReadFile(migrationsFS, "migrations/000002_intent_last_polled.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(polled), "ADD COLUMN IF NOT EXISTS last_polled_at")
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, isUniqueViolation(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("boom")))
}

func TestTransactor_Begin(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	tx, err := NewTransactor(mock).Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactor_BeginError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	_, err = NewTransactor(mock).Begin(context.Background())
	assert.ErrorContains(t, err, "begin transaction")
}

func TestHealthCheck(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("SELECT 1").WillReturnResult(pgxmock.NewResult("SELECT", 1))

	hc := NewHealthCheck(mock)
	assert.Equal(t, "postgresql", hc.Name())
	assert.NoError(t, hc.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
