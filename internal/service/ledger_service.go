package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"payments-ledger/internal/core/domain"
	"payments-ledger/internal/core/ports"
	"payments-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const (
	defaultEntryPage = 50
	maxEntryPage     = 200
)

// LedgerServiceImpl implements ports.LedgerService. Every mutation runs in one
// transaction holding row locks on the wallets it touches.
type LedgerServiceImpl struct {
	walletRepo ports.WalletRepository
	entryRepo  ports.LedgerEntryRepository
	transactor ports.DBTransactor
	metrics    ports.Metrics
	log        zerolog.Logger
	now        func() time.Time
}

// NewLedgerService creates a new LedgerServiceImpl.
func NewLedgerService(
	walletRepo ports.WalletRepository,
	entryRepo ports.LedgerEntryRepository,
	transactor ports.DBTransactor,
	metrics ports.Metrics,
	log zerolog.Logger,
) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		walletRepo: walletRepo,
		entryRepo:  entryRepo,
		transactor: transactor,
		metrics:    metricsOrNoop(metrics),
		log:        log,
		now:        time.Now,
	}
}

// GetOrCreateWallet returns the owner's wallet in currency, creating it empty.
func (s *LedgerServiceImpl) GetOrCreateWallet(ctx context.Context, ownerID, currency string) (*domain.Wallet, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, apperror.Validation("owner_id is required")
	}
	cur, err := normalizeCurrency(currency)
	if err != nil {
		return nil, err
	}
	w, err := s.walletRepo.GetOrCreate(ctx, ownerID, cur)
	if err != nil {
		return nil, storageErr("get or create wallet", err)
	}
	return w, nil
}

func (s *LedgerServiceImpl) GetWallet(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	w, err := s.walletRepo.GetByID(ctx, id)
	if err != nil {
		return nil, storageErr("get wallet", err)
	}
	if w == nil {
		return nil, apperror.ErrNotFound("Wallet")
	}
	return w, nil
}

// Transfer moves funds between two wallets of the same currency. Both rows are
// locked in ascending id order so that concurrent opposite transfers cannot
// deadlock. Replaying a reference returns the original entries.
func (s *LedgerServiceImpl) Transfer(ctx context.Context, req ports.TransferRequest) (res *ports.TransferResult, err error) {
	defer func() { s.metrics.LedgerOperation("transfer", resultLabel(err)) }()

	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.FromWalletID == req.ToWalletID {
		return nil, apperror.ErrInvalidTransfer()
	}
	if strings.TrimSpace(req.Reference) == "" {
		return nil, apperror.Validation("reference is required")
	}

	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	first, second := req.FromWalletID, req.ToWalletID
	if domain.CompareWalletIDs(first, second) > 0 {
		first, second = second, first
	}
	locked := make(map[uuid.UUID]*domain.Wallet, 2)
	for _, id := range []uuid.UUID{first, second} {
		w, err := s.lockWallet(ctx, tx, id, true)
		if err != nil {
			return nil, err
		}
		locked[id] = w
	}
	from, to := locked[req.FromWalletID], locked[req.ToWalletID]
	if from.Currency != to.Currency {
		return nil, apperror.ErrCurrencyMismatch()
	}

	prevDebit, err := s.entryRepo.GetByReference(ctx, tx, from.ID, req.Reference, domain.EntryDirectionDebit)
	if err != nil {
		return nil, storageErr("lookup transfer", err)
	}
	if prevDebit != nil {
		prevCredit, err := s.entryRepo.GetByReference(ctx, tx, to.ID, req.Reference, domain.EntryDirectionCredit)
		if err != nil {
			return nil, storageErr("lookup transfer", err)
		}
		if prevCredit == nil {
			return nil, apperror.Validation("reference already used by another operation")
		}
		return &ports.TransferResult{Reference: req.Reference, Debit: *prevDebit, Credit: *prevCredit}, nil
	}

	if !from.CanCover(req.Amount) {
		return nil, apperror.ErrInsufficientBalance()
	}

	meta := map[string]string{"counterparty_wallet_id": to.ID.String()}
	debit, err := s.postEntry(ctx, tx, from, domain.EntryDirectionDebit, req.Amount, 0, entrySpec{req.Reference, req.Description, meta})
	if err != nil {
		return nil, err
	}
	meta = map[string]string{"counterparty_wallet_id": from.ID.String()}
	credit, err := s.postEntry(ctx, tx, to, domain.EntryDirectionCredit, req.Amount, 0, entrySpec{req.Reference, req.Description, meta})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit transfer", err)
	}

	s.log.Info().
		Str("reference", req.Reference).
		Str("from_wallet_id", from.ID.String()).
		Str("to_wallet_id", to.ID.String()).
		Int64("amount", req.Amount).
		Msg("transfer completed")

	return &ports.TransferResult{Reference: req.Reference, Debit: *debit, Credit: *credit}, nil
}

// Credit adds funds. A second credit with the same reference returns the
// first entry and leaves the balance untouched.
func (s *LedgerServiceImpl) Credit(ctx context.Context, req ports.EntryRequest) (entry *domain.LedgerEntry, err error) {
	defer func() { s.metrics.LedgerOperation("credit", resultLabel(err)) }()

	if err := validateEntry(req); err != nil {
		return nil, err
	}
	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	entry, err = s.creditTx(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit credit", err)
	}
	return entry, nil
}

// Debit removes funds from the available balance. Idempotent per reference.
func (s *LedgerServiceImpl) Debit(ctx context.Context, req ports.EntryRequest) (entry *domain.LedgerEntry, err error) {
	defer func() { s.metrics.LedgerOperation("debit", resultLabel(err)) }()

	if err := validateEntry(req); err != nil {
		return nil, err
	}
	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	entry, err = s.debitTx(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit debit", err)
	}
	return entry, nil
}

func (s *LedgerServiceImpl) ListEntries(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = defaultEntryPage
	}
	if limit > maxEntryPage {
		limit = maxEntryPage
	}
	if offset < 0 {
		offset = 0
	}
	entries, err := s.entryRepo.ListByWallet(ctx, walletID, limit, offset)
	if err != nil {
		return nil, storageErr("list entries", err)
	}
	return entries, nil
}

// CheckConsistency compares the stored balance with the sum of completed
// entries.
func (s *LedgerServiceImpl) CheckConsistency(ctx context.Context, walletID uuid.UUID) (*ports.ConsistencyReport, error) {
	w, err := s.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	credits, debits, err := s.entryRepo.SumCompleted(ctx, walletID)
	if err != nil {
		return nil, storageErr("sum entries", err)
	}
	report := &ports.ConsistencyReport{
		WalletID:      w.ID,
		Balance:       w.Balance,
		LockedBalance: w.LockedBalance,
		Credits:       credits,
		Debits:        debits,
		Consistent:    w.Balance == credits-debits && w.Consistent(),
	}
	if !report.Consistent {
		s.log.Error().
			Str("wallet_id", w.ID.String()).
			Int64("balance", w.Balance).
			Int64("credits", credits).
			Int64("debits", debits).
			Msg("wallet balance diverges from ledger")
	}
	return report, nil
}

// ---- transaction-scoped helpers shared with locks and settlement ----

type entrySpec struct {
	reference   string
	description string
	metadata    map[string]string
}

func validateEntry(req ports.EntryRequest) error {
	if req.Amount <= 0 {
		return apperror.ErrInvalidAmount()
	}
	if strings.TrimSpace(req.Reference) == "" {
		return apperror.Validation("reference is required")
	}
	return nil
}

// lockWallet reads the wallet row FOR UPDATE.
func (s *LedgerServiceImpl) lockWallet(ctx context.Context, tx pgx.Tx, id uuid.UUID, requireActive bool) (*domain.Wallet, error) {
	w, err := s.walletRepo.GetByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, storageErr("lock wallet", err)
	}
	if w == nil {
		return nil, apperror.ErrNotFound("Wallet")
	}
	if requireActive && !w.IsActive {
		return nil, apperror.ErrWalletInactive()
	}
	return w, nil
}

// postEntry appends a COMPLETED entry and applies it, together with
// lockedDelta, to the locked wallet w. w is updated in place.
func (s *LedgerServiceImpl) postEntry(ctx context.Context, tx pgx.Tx, w *domain.Wallet, dir domain.EntryDirection, amount, lockedDelta int64, spec entrySpec) (*domain.LedgerEntry, error) {
	entry := &domain.LedgerEntry{
		ID:          uuid.New(),
		WalletID:    w.ID,
		Direction:   dir,
		Amount:      amount,
		Currency:    w.Currency,
		Status:      domain.EntryStatusCompleted,
		Reference:   spec.reference,
		Description: spec.description,
		Metadata:    spec.metadata,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.entryRepo.Create(ctx, tx, entry); err != nil {
		if errors.Is(err, ports.ErrDuplicateEntry) {
			return nil, apperror.ErrPersistence(fmt.Errorf("concurrent entry for reference %s: %w", spec.reference, err))
		}
		return nil, storageErr("create entry", err)
	}

	balance := w.Balance + entry.Signed()
	locked := w.LockedBalance + lockedDelta
	if err := s.walletRepo.UpdateBalances(ctx, tx, w.ID, balance, locked); err != nil {
		return nil, storageErr("update balances", err)
	}
	w.Balance, w.LockedBalance = balance, locked
	return entry, nil
}

func (s *LedgerServiceImpl) creditTx(ctx context.Context, tx pgx.Tx, req ports.EntryRequest) (*domain.LedgerEntry, error) {
	w, err := s.lockWallet(ctx, tx, req.WalletID, false)
	if err != nil {
		return nil, err
	}
	prev, err := s.entryRepo.GetByReference(ctx, tx, w.ID, req.Reference, domain.EntryDirectionCredit)
	if err != nil {
		return nil, storageErr("lookup credit", err)
	}
	if prev != nil {
		s.log.Info().
			Str("wallet_id", w.ID.String()).
			Str("reference", req.Reference).
			Msg("credit already applied")
		return prev, nil
	}
	return s.postEntry(ctx, tx, w, domain.EntryDirectionCredit, req.Amount, 0, entrySpec{req.Reference, req.Description, req.Metadata})
}

func (s *LedgerServiceImpl) debitTx(ctx context.Context, tx pgx.Tx, req ports.EntryRequest) (*domain.LedgerEntry, error) {
	w, err := s.lockWallet(ctx, tx, req.WalletID, true)
	if err != nil {
		return nil, err
	}
	prev, err := s.entryRepo.GetByReference(ctx, tx, w.ID, req.Reference, domain.EntryDirectionDebit)
	if err != nil {
		return nil, storageErr("lookup debit", err)
	}
	if prev != nil {
		return prev, nil
	}
	if !w.CanCover(req.Amount) {
		return nil, apperror.ErrInsufficientBalance()
	}
	return s.postEntry(ctx, tx, w, domain.EntryDirectionDebit, req.Amount, 0, entrySpec{req.Reference, req.Description, req.Metadata})
}
