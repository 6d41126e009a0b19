package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payments-ledger/internal/core/domain"
	"payments-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

const lockColumns = `reference, wallet_id, amount, reason, created_at, expires_at`

// FundLockRepo implements ports.FundLockRepository.
type FundLockRepo struct {
	pool Pool
}

// NewFundLockRepo creates a new FundLockRepo.
func NewFundLockRepo(pool Pool) *FundLockRepo {
	return &FundLockRepo{pool: pool}
}

// Create persists a lock. A reused reference yields ports.ErrDuplicateLock.
func (r *FundLockRepo) Create(ctx context.Context, tx pgx.Tx, l *domain.FundLock) error {
	query := `INSERT INTO fund_locks (` + lockColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := tx.Exec(ctx, query, l.Reference, l.WalletID, l.Amount, l.Reason, l.CreatedAt, l.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ports.ErrDuplicateLock
		}
		return fmt.Errorf("insert fund lock: %w", err)
	}
	return nil
}

// Get fetches a lock without locking it.
func (r *FundLockRepo) Get(ctx context.Context, reference string) (*domain.FundLock, error) {
	query := `SELECT ` + lockColumns + ` FROM fund_locks WHERE reference = $1`

	l, err := scanLock(r.pool.QueryRow(ctx, query, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get fund lock: %w", err)
	}
	return l, nil
}

// GetForUpdate fetches a lock with a row lock so that only one capture or
// release can consume it.
func (r *FundLockRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, reference string) (*domain.FundLock, error) {
	query := `SELECT ` + lockColumns + ` FROM fund_locks WHERE reference = $1 FOR UPDATE`

	l, err := scanLock(tx.QueryRow(ctx, query, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get fund lock for update: %w", err)
	}
	return l, nil
}

// Delete removes a consumed lock.
func (r *FundLockRepo) Delete(ctx context.Context, tx pgx.Tx, reference string) error {
	tag, err := tx.Exec(ctx, `DELETE FROM fund_locks WHERE reference = $1`, reference)
	if err != nil {
		return fmt.Errorf("delete fund lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fund lock not found: %s", reference)
	}
	return nil
}

// ListExpired returns locks whose expiry is at or before now.
func (r *FundLockRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.FundLock, error) {
	query := `SELECT ` + lockColumns + ` FROM fund_locks WHERE expires_at <= $1 ORDER BY expires_at LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired fund locks: %w", err)
	}
	defer rows.Close()

	var locks []domain.FundLock
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fund lock: %w", err)
		}
		locks = append(locks, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fund locks: %w", err)
	}
	return locks, nil
}

func scanLock(row pgx.Row) (*domain.FundLock, error) {
	l := &domain.FundLock{}
	if err := row.Scan(&l.Reference, &l.WalletID, &l.Amount, &l.Reason, &l.CreatedAt, &l.ExpiresAt); err != nil {
		return nil, err
	}
	return l, nil
}
