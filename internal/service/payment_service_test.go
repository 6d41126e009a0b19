package service

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"payments-ledger/internal/core/domain"
	"payments-ledger/internal/core/ports"
	"payments-ledger/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func momoProfile(p *domain.ProviderProfile) {
	p.Currencies = []string{"UGX"}
	p.Countries = []string{"UG"}
	p.Phone = regexp.MustCompile(`^\+256\d{9}$`)
	p.MinAmount = 500
	p.MaxAmount = 5_000_000
	p.NeedsPolling = true
}

func TestPaymentService_CollectTopup(t *testing.T) {
	env := newTestEnv(t)
	momo := env.addProvider(domain.ProviderMTNMoMo, momoProfile)
	ctx := context.Background()

	momo.EXPECT().Initiate(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error) {
		assert.Equal(t, domain.IntentDirectionCollect, req.Direction)
		assert.Equal(t, "UGX", req.Currency)
		assert.Equal(t, int64(20_000), req.Amount)
		assert.Equal(t, "+256772123456", req.Phone)
		return &domain.InitiateResult{Accepted: true, ProviderTransactionID: req.Reference}, nil
	})

	intent, err := env.payments.Collect(ctx, ports.CollectRequest{
		OwnerID: "rider-1", Provider: domain.ProviderMTNMoMo, Phone: "+256772123456",
		Amount: 20_000, Currency: "ugx", TopUp: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusProcessing, intent.Status)
	assert.Equal(t, intent.ID.String(), intent.ProviderReference)
	assert.Equal(t, domain.PurposeWalletTopup, intent.Purpose)

	walletID, ok := intent.WalletID()
	require.True(t, ok)
	stored := env.intent(t, intent.ID)
	assert.Equal(t, domain.IntentStatusProcessing, stored.Status)
	// no money moves until the provider confirms
	assert.Zero(t, env.wallet(t, walletID).Balance)
}

func TestPaymentService_CollectReturnsCheckoutURL(t *testing.T) {
	env := newTestEnv(t)
	ps := env.addProvider(domain.ProviderPaystack, nil)

	ps.EXPECT().Initiate(gomock.Any(), gomock.Any()).Return(&domain.InitiateResult{
		Accepted: true, ProviderTransactionID: "ps_123", CheckoutURL: "https://checkout.example/abc",
	}, nil)

	intent, err := env.payments.Collect(context.Background(), ports.CollectRequest{
		OwnerID: "rider-1", Provider: domain.ProviderPaystack, Email: "rider@example.com",
		Amount: 10_000, Currency: "NGN",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PurposeDirectCharge, intent.Purpose)
	assert.Equal(t, "ps_123", intent.ProviderReference)
	assert.Equal(t, "https://checkout.example/abc", intent.Metadata[domain.MetaCheckoutURL])
}

// Every rejection here happens before the provider is called; the mock has
// no Initiate expectation and would fail the test otherwise.
func TestPaymentService_ValidationBeforeProviderCall(t *testing.T) {
	env := newTestEnv(t)
	env.addProvider(domain.ProviderMTNMoMo, momoProfile)
	env.addProvider(domain.ProviderStripe, func(p *domain.ProviderProfile) {
		p.Currencies = []string{"USD"}
		p.CanDisburse = false
	})

	valid := ports.CollectRequest{OwnerID: "rider-1", Provider: domain.ProviderMTNMoMo, Phone: "+256772123456", Amount: 20_000, Currency: "UGX"}
	tests := []struct {
		name   string
		mutate func(*ports.CollectRequest)
		code   string
	}{
		{"unknown provider", func(r *ports.CollectRequest) { r.Provider = "paypal" }, "PRV_001"},
		{"missing provider", func(r *ports.CollectRequest) { r.Provider = "" }, "VAL_001"},
		{"missing owner", func(r *ports.CollectRequest) { r.OwnerID = "" }, "VAL_001"},
		{"zero amount", func(r *ports.CollectRequest) { r.Amount = 0 }, "VAL_002"},
		{"below provider minimum", func(r *ports.CollectRequest) { r.Amount = 499 }, "VAL_002"},
		{"above provider maximum", func(r *ports.CollectRequest) { r.Amount = 5_000_001 }, "VAL_002"},
		{"malformed currency", func(r *ports.CollectRequest) { r.Currency = "U1X" }, "VAL_003"},
		{"unsupported currency", func(r *ports.CollectRequest) { r.Currency = "KES" }, "VAL_003"},
		{"phone not e164", func(r *ports.CollectRequest) { r.Phone = "0772123456" }, "VAL_001"},
		{"phone outside market", func(r *ports.CollectRequest) { r.Phone = "+254712345678" }, "VAL_001"},
		{"no phone or email", func(r *ports.CollectRequest) { r.Phone = "" }, "VAL_001"},
		{"bad email", func(r *ports.CollectRequest) { r.Phone = ""; r.Email = "not-an-email" }, "VAL_001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			_, err := env.payments.Collect(context.Background(), req)
			assertAppError(t, err, tt.code)
		})
	}

	_, err := env.payments.Disburse(context.Background(), ports.DisburseRequest{
		OwnerID: "rider-1", Provider: domain.ProviderStripe, Phone: "+15551234567", Amount: 1000, Currency: "USD",
	})
	assertAppError(t, err, "PRV_001")

	open, err := env.store.Intents().ListOpen(context.Background(), env.clock.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, open, "rejected requests must not persist intents")
}

func TestPaymentService_ProviderTimeoutFailsIntent(t *testing.T) {
	env := newTestEnv(t)
	momo := env.addProvider(domain.ProviderMTNMoMo, func(p *domain.ProviderProfile) {
		momoProfile(p)
		p.Timeout = 20 * time.Millisecond
	})

	momo.EXPECT().Initiate(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, _ domain.InitiateRequest) (*domain.InitiateResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	intent, err := env.payments.Collect(context.Background(), ports.CollectRequest{
		OwnerID: "rider-1", Provider: domain.ProviderMTNMoMo, Phone: "+256772123456", Amount: 20_000, Currency: "UGX", TopUp: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusFailed, intent.Status)
	assert.Equal(t, domain.ReasonProviderTimeout, intent.FailureReason)

	stored := env.intent(t, intent.ID)
	assert.Equal(t, domain.IntentStatusFailed, stored.Status)
	assert.Equal(t, domain.ReasonProviderTimeout, stored.FailureReason)
}

func TestPaymentService_ProviderErrors(t *testing.T) {
	tests := []struct {
		name   string
		result *domain.InitiateResult
		err    error
		reason string
	}{
		{"adapter timeout", nil, apperror.ErrProviderTimeout(), domain.ReasonProviderTimeout},
		{"unavailable", nil, apperror.ErrProviderUnavailable(errors.New("502")), "Payment provider unavailable"},
		{"declined", &domain.InitiateResult{Accepted: false, Message: "PAYER_NOT_FOUND"}, nil, "PAYER_NOT_FOUND"},
		{"declined without message", &domain.InitiateResult{}, nil, "declined by provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			momo := env.addProvider(domain.ProviderMTNMoMo, momoProfile)
			momo.EXPECT().Initiate(gomock.Any(), gomock.Any()).Return(tt.result, tt.err)

			intent, err := env.payments.Collect(context.Background(), ports.CollectRequest{
				OwnerID: "rider-1", Provider: domain.ProviderMTNMoMo, Phone: "+256772123456", Amount: 20_000, Currency: "UGX",
			})
			require.NoError(t, err)
			assert.Equal(t, domain.IntentStatusFailed, intent.Status)
			assert.Equal(t, tt.reason, intent.FailureReason)
		})
	}
}

func TestPaymentService_DisburseLocksFunds(t *testing.T) {
	env := newTestEnv(t)
	momo := env.addProvider(domain.ProviderMTNMoMo, momoProfile)
	w := env.fund(t, "driver-1", "UGX", 50_000)

	momo.EXPECT().Initiate(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error) {
		assert.Equal(t, domain.IntentDirectionDisburse, req.Direction)
		return &domain.InitiateResult{Accepted: true, ProviderTransactionID: req.Reference}, nil
	})

	intent, err := env.payments.Disburse(context.Background(), ports.DisburseRequest{
		OwnerID: "driver-1", Provider: domain.ProviderMTNMoMo, Phone: "+256772123456", Amount: 30_000, Currency: "UGX",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusProcessing, intent.Status)
	assert.Equal(t, domain.PurposePayout, intent.Purpose)
	assert.Equal(t, domain.PayoutLockReference(intent.ID), intent.LockReference())

	cur := env.wallet(t, w.ID)
	assert.Equal(t, int64(50_000), cur.Balance)
	assert.Equal(t, int64(30_000), cur.LockedBalance)
}

func TestPaymentService_DisburseFailureReleasesLock(t *testing.T) {
	env := newTestEnv(t)
	momo := env.addProvider(domain.ProviderMTNMoMo, momoProfile)
	w := env.fund(t, "driver-1", "UGX", 50_000)

	momo.EXPECT().Initiate(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrProviderUnavailable(errors.New("503")))

	intent, err := env.payments.Disburse(context.Background(), ports.DisburseRequest{
		OwnerID: "driver-1", Provider: domain.ProviderMTNMoMo, Phone: "+256772123456", Amount: 30_000, Currency: "UGX",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusFailed, intent.Status)

	cur := env.wallet(t, w.ID)
	assert.Equal(t, int64(50_000), cur.Balance)
	assert.Zero(t, cur.LockedBalance)
}

func TestPaymentService_DisburseRejectedBeforeProvider(t *testing.T) {
	env := newTestEnv(t)
	env.addProvider(domain.ProviderMTNMoMo, momoProfile)
	ctx := context.Background()
	req := ports.DisburseRequest{OwnerID: "driver-1", Provider: domain.ProviderMTNMoMo, Phone: "+256772123456", Amount: 30_000, Currency: "UGX"}

	_, err := env.payments.Disburse(ctx, req)
	assertAppError(t, err, "WAL_004")

	env.fund(t, "driver-1", "UGX", 10_000)
	_, err = env.payments.Disburse(ctx, req)
	assertAppError(t, err, "WAL_001")
}

func TestPaymentService_GetStatus(t *testing.T) {
	env := newTestEnv(t)
	momo := env.addProvider(domain.ProviderMTNMoMo, momoProfile)
	w := env.fund(t, "rider-1", "UGX", 0)
	intent := env.seedTopup(t, domain.ProviderMTNMoMo, w, 20_000, "momo-ref")
	ctx := context.Background()

	got, err := env.payments.GetStatus(ctx, "", "momo-ref", false)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusProcessing, got.Status)

	momo.EXPECT().Poll(gomock.Any(), "momo-ref", domain.IntentDirectionCollect).
		Return(&domain.PollResult{Status: domain.PollStatusPending}, nil)
	got, err = env.payments.GetStatus(ctx, "", "momo-ref", true)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusProcessing, got.Status)

	momo.EXPECT().Poll(gomock.Any(), "momo-ref", domain.IntentDirectionCollect).
		Return(&domain.PollResult{Status: domain.PollStatusSucceeded, Amount: 20_000}, nil)
	got, err = env.payments.GetStatus(ctx, "", "momo-ref", true)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusCompleted, got.Status)
	assert.Equal(t, int64(20_000), env.wallet(t, w.ID).Balance)

	// terminal intents are not polled again
	got, err = env.payments.GetStatus(ctx, domain.ProviderMTNMoMo, intent.ID.String(), true)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusCompleted, got.Status)
}

func TestPaymentService_GetStatusPollErrorReturnsStored(t *testing.T) {
	env := newTestEnv(t)
	momo := env.addProvider(domain.ProviderMTNMoMo, momoProfile)
	w := env.fund(t, "rider-1", "UGX", 0)
	env.seedTopup(t, domain.ProviderMTNMoMo, w, 20_000, "momo-ref")

	momo.EXPECT().Poll(gomock.Any(), "momo-ref", domain.IntentDirectionCollect).Return(nil, apperror.ErrProviderTimeout())

	got, err := env.payments.GetStatus(context.Background(), domain.ProviderMTNMoMo, "momo-ref", true)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusProcessing, got.Status)
}

func TestPaymentService_GetStatusNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.payments.GetStatus(context.Background(), "", "missing", true)
	assertAppError(t, err, "WAL_004")
}
