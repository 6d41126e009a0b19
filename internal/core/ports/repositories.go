package ports

import (
	"context"
	"time"

	"payments-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WalletRepository defines persistence operations for wallets.
// Methods accepting pgx.Tx are used inside transaction blocks for pessimistic locking.
type WalletRepository interface {
	// GetOrCreate returns the owner's wallet in currency, inserting an empty one if absent.
	GetOrCreate(ctx context.Context, ownerID, currency string) (*domain.Wallet, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetByOwner(ctx context.Context, ownerID, currency string) (*domain.Wallet, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error)
	UpdateBalances(ctx context.Context, tx pgx.Tx, id uuid.UUID, balance, locked int64) error
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// LedgerEntryRepository persists append-only ledger entries.
// Create fails with a unique violation when (wallet, reference, direction) exists.
type LedgerEntryRepository interface {
	Create(ctx context.Context, tx pgx.Tx, entry *domain.LedgerEntry) error
	GetByReference(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, reference string, direction domain.EntryDirection) (*domain.LedgerEntry, error)
	ListByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error)
	// SumCompleted returns the totals of COMPLETED credits and debits.
	SumCompleted(ctx context.Context, walletID uuid.UUID) (credits int64, debits int64, err error)
}

// PaymentIntentRepository persists provider-backed payment intents.
type PaymentIntentRepository interface {
	Create(ctx context.Context, intent *domain.PaymentIntent) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error)
	// GetByProviderReference looks up (provider, providerRef). An empty
	// provider matches any provider and returns the newest intent.
	GetByProviderReference(ctx context.Context, provider domain.ProviderName, providerRef string) (*domain.PaymentIntent, error)
	// MarkProcessing moves a PENDING intent to PROCESSING and records the
	// provider reference. Returns false if the intent was no longer PENDING.
	MarkProcessing(ctx context.Context, id uuid.UUID, providerRef string) (bool, error)
	// TransitionTerminal is a compare-and-set from PENDING/PROCESSING to a
	// terminal status. Returns false when the intent was already terminal.
	TransitionTerminal(ctx context.Context, tx pgx.Tx, id uuid.UUID, to domain.IntentStatus, reason string) (bool, error)
	// ListOpen returns non-terminal intents last updated before olderThan,
	// least recently polled first. Never-polled intents come first.
	ListOpen(ctx context.Context, olderThan time.Time, limit int) ([]domain.PaymentIntent, error)
	// MarkPolled records that the poller visited the intent at at.
	MarkPolled(ctx context.Context, id uuid.UUID, at time.Time) error
}

// FundLockRepository persists fund locks keyed by reference.
type FundLockRepository interface {
	Create(ctx context.Context, tx pgx.Tx, lock *domain.FundLock) error
	Get(ctx context.Context, reference string) (*domain.FundLock, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, reference string) (*domain.FundLock, error)
	Delete(ctx context.Context, tx pgx.Tx, reference string) error
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.FundLock, error)
}

// IdempotencyRepository is the durable copy of stored responses (DB backup).
type IdempotencyRepository interface {
	Save(ctx context.Context, record *domain.IdempotencyRecord) error
	// Get returns nil when the key is unknown or expired.
	Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
