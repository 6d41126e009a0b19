package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"payments-ledger/internal/core/domain"
	"payments-ledger/internal/core/ports"
	"payments-ledger/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const expiredLockBatch = 100

// LockServiceImpl implements ports.LockService. A lock moves Amount from the
// wallet's available balance into lockedBalance; capture turns it into a
// DEBIT entry and release hands it back.
type LockServiceImpl struct {
	ledger     *LedgerServiceImpl
	lockRepo   ports.FundLockRepository
	transactor ports.DBTransactor
	defaultTTL time.Duration
	metrics    ports.Metrics
	log        zerolog.Logger
	now        func() time.Time
}

// NewLockService creates a new LockServiceImpl.
func NewLockService(
	ledger *LedgerServiceImpl,
	lockRepo ports.FundLockRepository,
	transactor ports.DBTransactor,
	defaultTTL time.Duration,
	metrics ports.Metrics,
	log zerolog.Logger,
) *LockServiceImpl {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &LockServiceImpl{
		ledger:     ledger,
		lockRepo:   lockRepo,
		transactor: transactor,
		defaultTTL: defaultTTL,
		metrics:    metricsOrNoop(metrics),
		log:        log,
		now:        time.Now,
	}
}

// Lock reserves funds. Repeating a lock with the same reference, wallet and
// amount returns the existing lock. A reference that was already captured on
// the wallet cannot be locked again.
func (s *LockServiceImpl) Lock(ctx context.Context, req ports.LockRequest) (lock *domain.FundLock, err error) {
	defer func() { s.metrics.LedgerOperation("lock", resultLabel(err)) }()

	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if strings.TrimSpace(req.Reference) == "" {
		return nil, apperror.Validation("reference is required")
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	existing, err := s.lockRepo.GetForUpdate(ctx, tx, req.Reference)
	if err != nil {
		return nil, storageErr("lookup lock", err)
	}
	if existing != nil {
		if existing.WalletID == req.WalletID && existing.Amount == req.Amount {
			return existing, nil
		}
		return nil, apperror.ErrLockExists()
	}
	// a captured lock is gone but its debit keeps the reference taken
	captured, err := s.ledger.entryRepo.GetByReference(ctx, tx, req.WalletID, req.Reference, domain.EntryDirectionDebit)
	if err != nil {
		return nil, storageErr("lookup captured lock", err)
	}
	if captured != nil {
		return nil, apperror.ErrLockExists()
	}

	w, err := s.ledger.lockWallet(ctx, tx, req.WalletID, true)
	if err != nil {
		return nil, err
	}
	if !w.CanCover(req.Amount) {
		return nil, apperror.ErrInsufficientBalance()
	}

	now := s.now().UTC()
	lock = &domain.FundLock{
		Reference: req.Reference,
		WalletID:  w.ID,
		Amount:    req.Amount,
		Reason:    req.Reason,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.lockRepo.Create(ctx, tx, lock); err != nil {
		if errors.Is(err, ports.ErrDuplicateLock) {
			return nil, apperror.ErrLockExists()
		}
		return nil, storageErr("create lock", err)
	}
	if err := s.ledger.walletRepo.UpdateBalances(ctx, tx, w.ID, w.Balance, w.LockedBalance+req.Amount); err != nil {
		return nil, storageErr("update balances", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit lock", err)
	}

	s.log.Info().
		Str("reference", lock.Reference).
		Str("wallet_id", w.ID.String()).
		Int64("amount", lock.Amount).
		Time("expires_at", lock.ExpiresAt).
		Msg("funds locked")
	return lock, nil
}

// Release returns locked funds to the available balance.
func (s *LockServiceImpl) Release(ctx context.Context, reference string) (err error) {
	defer func() { s.metrics.LedgerOperation("release", resultLabel(err)) }()

	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return storageErr("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := s.releaseTx(ctx, tx, reference); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit release", err)
	}
	return nil
}

// Capture debits the locked funds and deletes the lock. A second capture
// finds no lock and fails with LockNotFound.
func (s *LockServiceImpl) Capture(ctx context.Context, reference string) (entry *domain.LedgerEntry, err error) {
	defer func() { s.metrics.LedgerOperation("capture", resultLabel(err)) }()

	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	entry, err = s.captureTx(ctx, tx, reference, "")
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit capture", err)
	}
	return entry, nil
}

// ReleaseExpired releases every lock past its expiry and returns how many
// were released.
func (s *LockServiceImpl) ReleaseExpired(ctx context.Context) (int, error) {
	released := 0
	defer func() { s.metrics.LocksExpired(released) }()

	for {
		expired, err := s.lockRepo.ListExpired(ctx, s.now().UTC(), expiredLockBatch)
		if err != nil {
			return released, storageErr("list expired locks", err)
		}
		if len(expired) == 0 {
			return released, nil
		}
		for _, l := range expired {
			ok, err := s.releaseIfExpired(ctx, l.Reference)
			if err != nil {
				return released, err
			}
			if ok {
				released++
			}
		}
		if len(expired) < expiredLockBatch {
			return released, nil
		}
	}
}

func (s *LockServiceImpl) releaseIfExpired(ctx context.Context, reference string) (bool, error) {
	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return false, storageErr("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	l, err := s.lockRepo.GetForUpdate(ctx, tx, reference)
	if err != nil {
		return false, storageErr("lookup lock", err)
	}
	if l == nil || !l.IsExpired(s.now()) {
		// captured, released or extended meanwhile
		return false, nil
	}
	if _, err := s.releaseTx(ctx, tx, reference); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, storageErr("commit release", err)
	}
	s.log.Warn().
		Str("reference", l.Reference).
		Str("wallet_id", l.WalletID.String()).
		Int64("amount", l.Amount).
		Msg("expired fund lock released")
	return true, nil
}

func (s *LockServiceImpl) releaseTx(ctx context.Context, tx pgx.Tx, reference string) (*domain.FundLock, error) {
	l, err := s.lockRepo.GetForUpdate(ctx, tx, reference)
	if err != nil {
		return nil, storageErr("lookup lock", err)
	}
	if l == nil {
		return nil, apperror.ErrLockNotFound()
	}
	w, err := s.ledger.lockWallet(ctx, tx, l.WalletID, false)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.walletRepo.UpdateBalances(ctx, tx, w.ID, w.Balance, w.LockedBalance-l.Amount); err != nil {
		return nil, storageErr("update balances", err)
	}
	if err := s.lockRepo.Delete(ctx, tx, reference); err != nil {
		return nil, storageErr("delete lock", err)
	}
	return l, nil
}

func (s *LockServiceImpl) captureTx(ctx context.Context, tx pgx.Tx, reference, description string) (*domain.LedgerEntry, error) {
	l, err := s.lockRepo.GetForUpdate(ctx, tx, reference)
	if err != nil {
		return nil, storageErr("lookup lock", err)
	}
	if l == nil {
		return nil, apperror.ErrLockNotFound()
	}
	w, err := s.ledger.lockWallet(ctx, tx, l.WalletID, false)
	if err != nil {
		return nil, err
	}
	if description == "" {
		description = "capture " + l.Reason
	}
	entry, err := s.ledger.postEntry(ctx, tx, w, domain.EntryDirectionDebit, l.Amount, -l.Amount, entrySpec{
		reference:   l.Reference,
		description: strings.TrimSpace(description),
		metadata:    map[string]string{"lock_reason": l.Reason},
	})
	if err != nil {
		return nil, err
	}
	if err := s.lockRepo.Delete(ctx, tx, reference); err != nil {
		return nil, storageErr("delete lock", err)
	}
	return entry, nil
}
