package memory

import (
	"context"
	"fmt"

	"payments-ledger/internal/core/domain"
	"payments-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LedgerEntryRepo implements ports.LedgerEntryRepository. Entries are
// append-only; a rollback truncates what the transaction appended.
type LedgerEntryRepo struct {
	s *Store
}

func (r *LedgerEntryRepo) Create(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.wallets[e.WalletID]; !ok {
		return fmt.Errorf("insert ledger entry: unknown wallet %s", e.WalletID)
	}
	key := entryKey{walletID: e.WalletID, reference: e.Reference, direction: e.Direction}
	if _, exists := r.s.entryIndex[key]; exists {
		return ports.ErrDuplicateEntry
	}

	stored := *e
	stored.Metadata = cloneMeta(e.Metadata)
	r.s.entries = append(r.s.entries, stored)
	r.s.entryIndex[key] = len(r.s.entries) - 1

	record(tx, func() {
		delete(r.s.entryIndex, key)
		r.s.entries = r.s.entries[:len(r.s.entries)-1]
	})
	return nil
}

func (r *LedgerEntryRepo) GetByReference(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, reference string, direction domain.EntryDirection) (*domain.LedgerEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	i, ok := r.s.entryIndex[entryKey{walletID: walletID, reference: reference, direction: direction}]
	if !ok {
		return nil, nil
	}
	out := r.s.entries[i]
	out.Metadata = cloneMeta(out.Metadata)
	return &out, nil
}

// ListByWallet returns entries newest first.
func (r *LedgerEntryRepo) ListByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	entries := make([]domain.LedgerEntry, 0, limit)
	skipped := 0
	for i := len(r.s.entries) - 1; i >= 0 && len(entries) < limit; i-- {
		e := r.s.entries[i]
		if e.WalletID != walletID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		e.Metadata = cloneMeta(e.Metadata)
		entries = append(entries, e)
	}
	return entries, nil
}

func (r *LedgerEntryRepo) SumCompleted(ctx context.Context, walletID uuid.UUID) (int64, int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var credits, debits int64
	for _, e := range r.s.entries {
		if e.WalletID != walletID || e.Status != domain.EntryStatusCompleted {
			continue
		}
		switch e.Direction {
		case domain.EntryDirectionCredit:
			credits += e.Amount
		case domain.EntryDirectionDebit:
			debits += e.Amount
		}
	}
	return credits, debits, nil
}
