package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"payments-ledger/internal/core/domain"
	"payments-ledger/internal/core/ports"
	"payments-ledger/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestLedger_GetOrCreateWallet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	w1, err := env.ledger.GetOrCreateWallet(ctx, "rider-1", "ngn")
	require.NoError(t, err)
	assert.Equal(t, "NGN", w1.Currency)
	assert.Zero(t, w1.Balance)
	assert.True(t, w1.IsActive)

	w2, err := env.ledger.GetOrCreateWallet(ctx, "rider-1", "NGN")
	require.NoError(t, err)
	assert.Equal(t, w1.ID, w2.ID)

	other, err := env.ledger.GetOrCreateWallet(ctx, "rider-1", "KES")
	require.NoError(t, err)
	assert.NotEqual(t, w1.ID, other.ID)
}

func TestLedger_GetOrCreateWallet_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.ledger.GetOrCreateWallet(ctx, " ", "NGN")
	assertAppError(t, err, "VAL_001")

	for _, cur := range []string{"", "NG", "NGNX", "N1N"} {
		_, err = env.ledger.GetOrCreateWallet(ctx, "rider-1", cur)
		assertAppError(t, err, "VAL_003")
	}
}

func TestLedger_GetWallet_NotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.ledger.GetWallet(context.Background(), uuid.New())
	assertAppError(t, err, "WAL_004")
}

func TestLedger_CreditIsIdempotentByReference(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.fund(t, "rider-1", "NGN", 0)

	req := ports.EntryRequest{WalletID: w.ID, Amount: 2500, Reference: "intent-1", Description: "top-up"}
	first, err := env.ledger.Credit(ctx, req)
	require.NoError(t, err)
	second, err := env.ledger.Credit(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(2500), env.wallet(t, w.ID).Balance)

	entries, err := env.ledger.ListEntries(ctx, w.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	env.assertConsistent(t, w.ID)
}

func TestLedger_CreditConcurrentSameReference(t *testing.T) {
	env := newTestEnv(t)
	w := env.fund(t, "rider-1", "NGN", 0)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.ledger.Credit(context.Background(), ports.EntryRequest{WalletID: w.ID, Amount: 700, Reference: "dup"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(700), env.wallet(t, w.ID).Balance)
	env.assertConsistent(t, w.ID)
}

func TestLedger_CreditDebitValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.fund(t, "rider-1", "NGN", 100)

	_, err := env.ledger.Credit(ctx, ports.EntryRequest{WalletID: w.ID, Amount: 0, Reference: "r"})
	assertAppError(t, err, "VAL_002")
	_, err = env.ledger.Debit(ctx, ports.EntryRequest{WalletID: w.ID, Amount: -5, Reference: "r"})
	assertAppError(t, err, "VAL_002")
	_, err = env.ledger.Credit(ctx, ports.EntryRequest{WalletID: w.ID, Amount: 5})
	assertAppError(t, err, "VAL_001")
	_, err = env.ledger.Credit(ctx, ports.EntryRequest{WalletID: uuid.New(), Amount: 5, Reference: "r"})
	assertAppError(t, err, "WAL_004")
}

func TestLedger_DebitNeverGoesNegative(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.fund(t, "driver-1", "UGX", 1000)

	_, err := env.ledger.Debit(ctx, ports.EntryRequest{WalletID: w.ID, Amount: 1001, Reference: "too-much"})
	assertAppError(t, err, "WAL_001")
	assert.Equal(t, int64(1000), env.wallet(t, w.ID).Balance)

	_, err = env.ledger.Debit(ctx, ports.EntryRequest{WalletID: w.ID, Amount: 1000, Reference: "all"})
	require.NoError(t, err)
	// replay does not debit twice
	_, err = env.ledger.Debit(ctx, ports.EntryRequest{WalletID: w.ID, Amount: 1000, Reference: "all"})
	require.NoError(t, err)

	assert.Zero(t, env.wallet(t, w.ID).Balance)
	env.assertConsistent(t, w.ID)
}

func TestLedger_DebitRespectsLockedFunds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.fund(t, "driver-1", "UGX", 1000)

	_, err := env.locks.Lock(ctx, ports.LockRequest{WalletID: w.ID, Amount: 800, Reference: "hold"})
	require.NoError(t, err)

	_, err = env.ledger.Debit(ctx, ports.EntryRequest{WalletID: w.ID, Amount: 300, Reference: "d1"})
	assertAppError(t, err, "WAL_001")
}

func TestLedger_Transfer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.fund(t, "alice", "NGN", 5000)
	b := env.fund(t, "bob", "NGN", 0)

	res, err := env.ledger.Transfer(ctx, ports.TransferRequest{
		FromWalletID: a.ID, ToWalletID: b.ID, Amount: 1200, Reference: "t-1", Description: "fare split",
	})
	require.NoError(t, err)
	assert.Equal(t, "t-1", res.Reference)
	assert.Equal(t, domain.EntryDirectionDebit, res.Debit.Direction)
	assert.Equal(t, domain.EntryDirectionCredit, res.Credit.Direction)
	assert.Equal(t, b.ID.String(), res.Debit.Metadata["counterparty_wallet_id"])

	assert.Equal(t, int64(3800), env.wallet(t, a.ID).Balance)
	assert.Equal(t, int64(1200), env.wallet(t, b.ID).Balance)
	env.assertConsistent(t, a.ID, b.ID)
}

func TestLedger_TransferReplayReturnsOriginalEntries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.fund(t, "alice", "NGN", 5000)
	b := env.fund(t, "bob", "NGN", 0)
	req := ports.TransferRequest{FromWalletID: a.ID, ToWalletID: b.ID, Amount: 1000, Reference: "t-1"}

	first, err := env.ledger.Transfer(ctx, req)
	require.NoError(t, err)
	second, err := env.ledger.Transfer(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.Debit.ID, second.Debit.ID)
	assert.Equal(t, first.Credit.ID, second.Credit.ID)
	assert.Equal(t, int64(4000), env.wallet(t, a.ID).Balance)
	assert.Equal(t, int64(1000), env.wallet(t, b.ID).Balance)
}

func TestLedger_TransferErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.fund(t, "alice", "NGN", 1000)
	b := env.fund(t, "bob", "NGN", 0)
	k := env.fund(t, "kim", "KES", 0)

	tests := []struct {
		name string
		req  ports.TransferRequest
		code string
	}{
		{"self transfer", ports.TransferRequest{FromWalletID: a.ID, ToWalletID: a.ID, Amount: 10, Reference: "x"}, "WAL_002"},
		{"zero amount", ports.TransferRequest{FromWalletID: a.ID, ToWalletID: b.ID, Amount: 0, Reference: "x"}, "VAL_002"},
		{"missing reference", ports.TransferRequest{FromWalletID: a.ID, ToWalletID: b.ID, Amount: 10}, "VAL_001"},
		{"currency mismatch", ports.TransferRequest{FromWalletID: a.ID, ToWalletID: k.ID, Amount: 10, Reference: "x"}, "WAL_007"},
		{"insufficient", ports.TransferRequest{FromWalletID: a.ID, ToWalletID: b.ID, Amount: 1001, Reference: "x"}, "WAL_001"},
		{"unknown wallet", ports.TransferRequest{FromWalletID: a.ID, ToWalletID: uuid.New(), Amount: 10, Reference: "x"}, "WAL_004"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.ledger.Transfer(ctx, tt.req)
			assertAppError(t, err, tt.code)
		})
	}

	assert.Equal(t, int64(1000), env.wallet(t, a.ID).Balance)
	assert.Zero(t, env.wallet(t, b.ID).Balance)
}

func TestLedger_TransferFromInactiveWallet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.fund(t, "alice", "NGN", 1000)
	b := env.fund(t, "bob", "NGN", 0)
	require.NoError(t, env.store.Wallets().Deactivate(ctx, a.ID))

	_, err := env.ledger.Transfer(ctx, ports.TransferRequest{FromWalletID: a.ID, ToWalletID: b.ID, Amount: 10, Reference: "x"})
	assertAppError(t, err, "WAL_005")
}

// Opposite-direction transfers between the same wallets must neither
// deadlock nor create or destroy money.
func TestLedger_ConcurrentTransfersConserveTotal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	wallets := []*domain.Wallet{
		env.fund(t, "w0", "NGN", 10_000),
		env.fund(t, "w1", "NGN", 10_000),
		env.fund(t, "w2", "NGN", 10_000),
	}

	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from := wallets[i%3]
			to := wallets[(i+1+i/3)%3]
			if from.ID == to.ID {
				to = wallets[(i+1)%3]
			}
			_, err := env.ledger.Transfer(ctx, ports.TransferRequest{
				FromWalletID: from.ID,
				ToWalletID:   to.ID,
				Amount:       int64(100 + i*37),
				Reference:    fmt.Sprintf("t-%d", i),
			})
			if err != nil {
				assertAppError(t, err, "WAL_001")
			}
		}(i)
	}
	wg.Wait()

	var total int64
	for _, w := range wallets {
		cur := env.wallet(t, w.ID)
		assert.GreaterOrEqual(t, cur.Balance, int64(0))
		total += cur.Balance
		env.assertConsistent(t, w.ID)
	}
	assert.Equal(t, int64(30_000), total)
}

func TestLedger_TransferLocksInAscendingOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	walletRepo := mocks.NewMockWalletRepository(ctrl)
	entryRepo := mocks.NewMockLedgerEntryRepository(ctrl)
	transactor := mocks.NewMockDBTransactor(ctrl)
	svc := NewLedgerService(walletRepo, entryRepo, transactor, nil, zerolog.Nop())

	low := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	high := uuid.MustParse("ffffffff-0000-0000-0000-000000000000")
	tx := &mockTx{}
	ctx := context.Background()

	transactor.EXPECT().Begin(ctx).Return(tx, nil)
	gomock.InOrder(
		walletRepo.EXPECT().GetByIDForUpdate(ctx, tx, low).
			Return(&domain.Wallet{ID: low, Currency: "NGN", IsActive: true}, nil),
		walletRepo.EXPECT().GetByIDForUpdate(ctx, tx, high).
			Return(&domain.Wallet{ID: high, Currency: "NGN", IsActive: true, Balance: 500}, nil),
	)
	entryRepo.EXPECT().GetByReference(ctx, tx, high, "t-1", domain.EntryDirectionDebit).Return(nil, nil)
	entryRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil).Times(2)
	walletRepo.EXPECT().UpdateBalances(ctx, tx, high, int64(300), int64(0)).Return(nil)
	walletRepo.EXPECT().UpdateBalances(ctx, tx, low, int64(200), int64(0)).Return(nil)

	// high -> low still locks low first
	_, err := svc.Transfer(ctx, ports.TransferRequest{FromWalletID: high, ToWalletID: low, Amount: 200, Reference: "t-1"})
	require.NoError(t, err)
}

func TestLedger_PersistenceFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	transactor := mocks.NewMockDBTransactor(ctrl)
	svc := NewLedgerService(mocks.NewMockWalletRepository(ctrl), mocks.NewMockLedgerEntryRepository(ctrl), transactor, nil, zerolog.Nop())

	transactor.EXPECT().Begin(gomock.Any()).Return(nil, errors.New("connection refused"))

	_, err := svc.Credit(context.Background(), ports.EntryRequest{WalletID: uuid.New(), Amount: 1, Reference: "r"})
	assertAppError(t, err, "SYS_002")
}

func TestLedger_CheckConsistencyDetectsDrift(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.fund(t, "alice", "NGN", 900)

	report, err := env.ledger.CheckConsistency(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, int64(900), report.Credits)

	// a balance write that bypasses the ledger
	tx, err := env.store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, env.store.Wallets().UpdateBalances(ctx, tx, w.ID, 1000, 0))
	require.NoError(t, tx.Commit(ctx))

	report, err = env.ledger.CheckConsistency(ctx, w.ID)
	require.NoError(t, err)
	assert.False(t, report.Consistent)
}

func TestLedger_ListEntriesPaging(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.fund(t, "alice", "NGN", 0)
	for i := 0; i < 5; i++ {
		_, err := env.ledger.Credit(ctx, ports.EntryRequest{WalletID: w.ID, Amount: 10, Reference: fmt.Sprintf("c-%d", i)})
		require.NoError(t, err)
	}

	page, err := env.ledger.ListEntries(ctx, w.ID, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := env.ledger.ListEntries(ctx, w.ID, 10, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 3)
}
