package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"payments-ledger/config"
	"payments-ledger/internal/adapter/storage/memory"
	"payments-ledger/internal/core/domain"
	"payments-ledger/internal/core/ports"
	"payments-ledger/internal/core/ports/mocks"
	"payments-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// fakeClock is shared by the store and every service under test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type staticRegistry map[domain.ProviderName]ports.PaymentProvider

func (r staticRegistry) Get(name domain.ProviderName) (ports.PaymentProvider, bool) {
	p, ok := r[name]
	return p, ok
}

func (r staticRegistry) All() []ports.PaymentProvider {
	out := make([]ports.PaymentProvider, 0, len(r))
	for _, p := range r {
		out = append(out, p)
	}
	return out
}

// testEnv wires the real services over the in-memory store. Providers are
// gomock doubles.
type testEnv struct {
	ctrl       *gomock.Controller
	clock      *fakeClock
	store      *memory.Store
	audit      *memory.EventAuditLog
	registry   staticRegistry
	ledger     *LedgerServiceImpl
	locks      *LockServiceImpl
	settlement *SettlementService
	payments   *PaymentServiceImpl
	webhooks   *WebhookServiceImpl
	idem       *IdempotencyService
	poller     *ReconciliationPoller
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctrl := gomock.NewController(t)
	clock := newFakeClock()
	store := memory.New(memory.WithClock(clock.Now))
	log := zerolog.Nop()

	env := &testEnv{
		ctrl:     ctrl,
		clock:    clock,
		store:    store,
		audit:    memory.NewEventAuditLog(50),
		registry: staticRegistry{},
	}

	env.ledger = NewLedgerService(store.Wallets(), store.Entries(), store, nil, log)
	env.ledger.now = clock.Now
	env.locks = NewLockService(env.ledger, store.Locks(), store, time.Hour, nil, log)
	env.locks.now = clock.Now
	env.settlement = NewSettlementService(store.Intents(), env.ledger, env.locks, store, nil, nil, log)
	env.payments = NewPaymentService(store.Intents(), env.registry, env.ledger, env.locks, env.settlement, 24*time.Hour, log)
	env.payments.now = clock.Now
	env.webhooks = NewWebhookService(env.registry, env.settlement, env.audit, memory.NewDeliveryDedup(clock.Now), time.Hour, 50, nil, log)
	env.webhooks.now = clock.Now
	env.idem = NewIdempotencyService(memory.NewIdempotencyCache(clock.Now), store.Idempotency(), config.IdempotencyConfig{
		TopupTTL:        24 * time.Hour,
		CollectionTTL:   time.Hour,
		TransferTTL:     24 * time.Hour,
		DisbursementTTL: 24 * time.Hour,
		ClaimTTL:        30 * time.Second,
	}, nil, log)
	env.idem.now = clock.Now
	env.poller = NewReconciliationPoller(store.Intents(), env.registry, env.settlement, env.locks, env.idem, config.PollerConfig{
		Enabled:     true,
		Interval:    time.Minute,
		MinAge:      30 * time.Second,
		BatchSize:   50,
		Concurrency: 4,
	}, nil, log)
	env.poller.now = clock.Now
	return env
}

// addProvider registers a mock provider with a permissive profile.
func (e *testEnv) addProvider(name domain.ProviderName, mutate func(*domain.ProviderProfile)) *mocks.MockPaymentProvider {
	profile := domain.ProviderProfile{
		Name:        name,
		Currencies:  []string{"NGN", "UGX", "KES", "GHS"},
		MinAmount:   100,
		CanDisburse: true,
		Timeout:     time.Second,
	}
	if mutate != nil {
		mutate(&profile)
	}
	p := mocks.NewMockPaymentProvider(e.ctrl)
	p.EXPECT().Name().Return(name).AnyTimes()
	p.EXPECT().Profile().Return(profile).AnyTimes()
	e.registry[name] = p
	return p
}

// fund credits ownerID's wallet through the ledger.
func (e *testEnv) fund(t *testing.T, ownerID, currency string, amount int64) *domain.Wallet {
	t.Helper()
	w, err := e.ledger.GetOrCreateWallet(context.Background(), ownerID, currency)
	require.NoError(t, err)
	if amount > 0 {
		_, err = e.ledger.Credit(context.Background(), ports.EntryRequest{
			WalletID:  w.ID,
			Amount:    amount,
			Reference: "seed:" + uuid.NewString(),
		})
		require.NoError(t, err)
	}
	return e.wallet(t, w.ID)
}

func (e *testEnv) wallet(t *testing.T, id uuid.UUID) *domain.Wallet {
	t.Helper()
	w, err := e.ledger.GetWallet(context.Background(), id)
	require.NoError(t, err)
	return w
}

func (e *testEnv) intent(t *testing.T, id uuid.UUID) *domain.PaymentIntent {
	t.Helper()
	p, err := e.store.Intents().GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

// assertConsistent checks balance == credits - debits and 0 <= locked <= balance.
func (e *testEnv) assertConsistent(t *testing.T, walletIDs ...uuid.UUID) {
	t.Helper()
	for _, id := range walletIDs {
		report, err := e.ledger.CheckConsistency(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, report.Consistent, "wallet %s: %+v", id, report)
		assert.GreaterOrEqual(t, report.Balance-report.LockedBalance, int64(0))
	}
}

func assertAppError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, expectedCode, appErr.Code)
}

// mockTx stands in for pgx.Tx when repositories are gomock doubles.
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }
