// Package memory provides process-local implementations of the storage ports.
// It backs the "memory" storage driver and the service-level tests.
package memory

import (
	"context"
	"sync"
	"time"

	"payments-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store holds every table of the ledger in maps. Transactions are serialized:
// Begin blocks until the previous transaction commits or rolls back, which
// gives the same isolation the postgres repos get from SELECT ... FOR UPDATE.
type Store struct {
	txSem chan struct{}

	mu            sync.RWMutex
	wallets       map[uuid.UUID]*domain.Wallet
	walletByOwner map[string]uuid.UUID
	entries       []domain.LedgerEntry
	entryIndex    map[entryKey]int
	intents       map[uuid.UUID]*domain.PaymentIntent
	intentByRef   map[providerRef]uuid.UUID
	locks         map[string]*domain.FundLock
	idempotency   map[string]*domain.IdempotencyRecord

	now func() time.Time
}

type entryKey struct {
	walletID  uuid.UUID
	reference string
	direction domain.EntryDirection
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		txSem:         make(chan struct{}, 1),
		wallets:       make(map[uuid.UUID]*domain.Wallet),
		walletByOwner: make(map[string]uuid.UUID),
		entryIndex:    make(map[entryKey]int),
		intents:       make(map[uuid.UUID]*domain.PaymentIntent),
		intentByRef:   make(map[providerRef]uuid.UUID),
		locks:         make(map[string]*domain.FundLock),
		idempotency:   make(map[string]*domain.IdempotencyRecord),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Wallets() *WalletRepo          { return &WalletRepo{s: s} }
func (s *Store) Entries() *LedgerEntryRepo     { return &LedgerEntryRepo{s: s} }
func (s *Store) Intents() *PaymentIntentRepo   { return &PaymentIntentRepo{s: s} }
func (s *Store) Locks() *FundLockRepo          { return &FundLockRepo{s: s} }
func (s *Store) Idempotency() *IdempotencyRepo { return &IdempotencyRepo{s: s} }

// Begin implements ports.DBTransactor.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	select {
	case s.txSem <- struct{}{}:
		return &memTx{store: s}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ping implements ports.HealthChecker.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Name returns the dependency name.
func (s *Store) Name() string {
	return "memory"
}

// memTx records an undo action for every write so Rollback can restore the
// state seen at Begin. Only Commit and Rollback are supported; the embedded
// pgx.Tx is nil and any other method panics.
type memTx struct {
	pgx.Tx
	store *Store
	undo  []func()
	done  bool
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.finish()
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.store.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.store.mu.Unlock()
	t.finish()
	return nil
}

func (t *memTx) finish() {
	t.done = true
	t.undo = nil
	<-t.store.txSem
}

// record registers an undo action. Callers hold s.mu.
func record(tx pgx.Tx, fn func()) {
	if mt, ok := tx.(*memTx); ok && mt != nil {
		mt.undo = append(mt.undo, fn)
	}
}

func ownerKey(ownerID, currency string) string {
	return ownerID + "\x00" + currency
}

func cloneMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
