package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payments-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const walletColumns = `id, owner_id, currency, balance, locked_balance, is_active, created_at, updated_at`

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// GetOrCreate returns the owner's wallet, inserting an empty one on first access.
// Concurrent first accesses race on the (owner_id, currency) constraint and all
// end up reading the same row.
func (r *WalletRepo) GetOrCreate(ctx context.Context, ownerID, currency string) (*domain.Wallet, error) {
	w, err := r.GetByOwner(ctx, ownerID, currency)
	if err != nil || w != nil {
		return w, err
	}

	now := time.Now().UTC()
	query := `INSERT INTO wallets (id, owner_id, currency, balance, locked_balance, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, TRUE, $4, $4)
		ON CONFLICT (owner_id, currency) DO NOTHING`

	if _, err := r.pool.Exec(ctx, query, uuid.New(), ownerID, currency, now); err != nil {
		return nil, fmt.Errorf("insert wallet: %w", err)
	}

	w, err = r.GetByOwner(ctx, ownerID, currency)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, fmt.Errorf("wallet for %s/%s missing after insert", ownerID, currency)
	}
	return w, nil
}

// GetByID fetches a wallet by its UUID (without locking).
func (r *WalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`

	w, err := scanWallet(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get wallet by id: %w", err)
	}
	return w, nil
}

// GetByOwner fetches a wallet by owner and currency (non-locking read).
func (r *WalletRepo) GetByOwner(ctx context.Context, ownerID, currency string) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE owner_id = $1 AND currency = $2`

	w, err := scanWallet(r.pool.QueryRow(ctx, query, ownerID, currency))
	if err != nil {
		return nil, fmt.Errorf("get wallet by owner: %w", err)
	}
	return w, nil
}

// GetByIDForUpdate fetches a wallet by ID with pessimistic locking.
// This MUST be called within a transaction.
func (r *WalletRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 FOR UPDATE`

	w, err := scanWallet(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get wallet for update by id: %w", err)
	}
	return w, nil
}

// UpdateBalances writes both balances of a locked wallet.
func (r *WalletRepo) UpdateBalances(ctx context.Context, tx pgx.Tx, id uuid.UUID, balance, locked int64) error {
	query := `UPDATE wallets SET balance = $1, locked_balance = $2, updated_at = NOW() WHERE id = $3`

	tag, err := tx.Exec(ctx, query, balance, locked, id)
	if err != nil {
		return fmt.Errorf("update wallet balances: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet not found: %s", id)
	}
	return nil
}

// Deactivate soft-deletes a wallet. Balances and entries are kept.
func (r *WalletRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE wallets SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet not found: %s", id)
	}
	return nil
}

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	w := &domain.Wallet{}
	err := row.Scan(
		&w.ID, &w.OwnerID, &w.Currency, &w.Balance,
		&w.LockedBalance, &w.IsActive, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return w, nil
}
