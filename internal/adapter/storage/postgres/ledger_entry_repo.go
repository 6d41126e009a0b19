package postgres

import (
	"context"
	"errors"
	"fmt"

	"payments-ledger/internal/core/domain"
	"payments-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const entryColumns = `id, wallet_id, direction, amount, currency, status, reference, description, metadata, created_at`

// LedgerEntryRepo implements ports.LedgerEntryRepository.
type LedgerEntryRepo struct {
	pool Pool
}

// NewLedgerEntryRepo creates a new LedgerEntryRepo.
func NewLedgerEntryRepo(pool Pool) *LedgerEntryRepo {
	return &LedgerEntryRepo{pool: pool}
}

// Create appends an entry within a database transaction. A second entry for the
// same (wallet, reference, direction) yields ports.ErrDuplicateEntry.
func (r *LedgerEntryRepo) Create(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) error {
	query := `INSERT INTO ledger_entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	_, err := tx.Exec(ctx, query,
		e.ID, e.WalletID, e.Direction, e.Amount, e.Currency,
		e.Status, e.Reference, e.Description, metadata, e.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ports.ErrDuplicateEntry
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// GetByReference finds the entry for (wallet, reference, direction). When tx is
// nil the read goes through the pool.
func (r *LedgerEntryRepo) GetByReference(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, reference string, direction domain.EntryDirection) (*domain.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries
		WHERE wallet_id = $1 AND reference = $2 AND direction = $3`

	var q querier = r.pool
	if tx != nil {
		q = tx
	}

	e, err := scanEntry(q.QueryRow(ctx, query, walletID, reference, direction))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get ledger entry by reference: %w", err)
	}
	return e, nil
}

// ListByWallet returns a wallet's entries, newest first.
func (r *LedgerEntryRepo) ListByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries
		WHERE wallet_id = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, walletID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return entries, nil
}

// SumCompleted totals the completed credits and debits of a wallet.
func (r *LedgerEntryRepo) SumCompleted(ctx context.Context, walletID uuid.UUID) (int64, int64, error) {
	query := `SELECT
		COALESCE(SUM(amount) FILTER (WHERE direction = 'CREDIT'), 0),
		COALESCE(SUM(amount) FILTER (WHERE direction = 'DEBIT'), 0)
		FROM ledger_entries WHERE wallet_id = $1 AND status = 'COMPLETED'`

	var credits, debits int64
	if err := r.pool.QueryRow(ctx, query, walletID).Scan(&credits, &debits); err != nil {
		return 0, 0, fmt.Errorf("sum ledger entries: %w", err)
	}
	return credits, debits, nil
}

func scanEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	e := &domain.LedgerEntry{}
	err := row.Scan(
		&e.ID, &e.WalletID, &e.Direction, &e.Amount, &e.Currency,
		&e.Status, &e.Reference, &e.Description, &e.Metadata, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}
