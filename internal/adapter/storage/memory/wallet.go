package memory

import (
	"context"
	"fmt"
	"strings"

	"payments-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	s *Store
}

func (r *WalletRepo) GetOrCreate(ctx context.Context, ownerID, currency string) (*domain.Wallet, error) {
	currency = strings.ToUpper(currency)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if id, ok := r.s.walletByOwner[ownerKey(ownerID, currency)]; ok {
		w := *r.s.wallets[id]
		return &w, nil
	}
	now := r.s.now().UTC()
	w := &domain.Wallet{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Currency:  currency,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.s.wallets[w.ID] = w
	r.s.walletByOwner[ownerKey(ownerID, currency)] = w.ID
	out := *w
	return &out, nil
}

func (r *WalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	w, ok := r.s.wallets[id]
	if !ok {
		return nil, nil
	}
	out := *w
	return &out, nil
}

func (r *WalletRepo) GetByOwner(ctx context.Context, ownerID, currency string) (*domain.Wallet, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.walletByOwner[ownerKey(ownerID, strings.ToUpper(currency))]
	if !ok {
		return nil, nil
	}
	out := *r.s.wallets[id]
	return &out, nil
}

// GetByIDForUpdate reads the wallet; the surrounding transaction already
// excludes every other writer.
func (r *WalletRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
	return r.GetByID(ctx, id)
}

func (r *WalletRepo) UpdateBalances(ctx context.Context, tx pgx.Tx, id uuid.UUID, balance, locked int64) error {
	if locked < 0 || locked > balance {
		return fmt.Errorf("wallet balances violate constraint: balance=%d locked=%d", balance, locked)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.wallets[id]
	if !ok {
		return fmt.Errorf("wallet not found: %s", id)
	}
	prevBalance, prevLocked, prevUpdated := w.Balance, w.LockedBalance, w.UpdatedAt
	record(tx, func() {
		w.Balance, w.LockedBalance, w.UpdatedAt = prevBalance, prevLocked, prevUpdated
	})
	w.Balance = balance
	w.LockedBalance = locked
	w.UpdatedAt = r.s.now().UTC()
	return nil
}

func (r *WalletRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.wallets[id]
	if !ok {
		return fmt.Errorf("wallet not found: %s", id)
	}
	w.IsActive = false
	w.UpdatedAt = r.s.now().UTC()
	return nil
}
