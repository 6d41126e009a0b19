package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"payments-ledger/internal/core/domain"
	"payments-ledger/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// A MoMo collection is accepted, then the poller sees SUCCESSFUL while the
// callback for the same reference arrives. Exactly one COMPLETED transition
// and one credit happen, whichever side commits first.
func TestReconciliation_MoMoPollerWebhookRace(t *testing.T) {
	for run := 0; run < 20; run++ {
		env := newTestEnv(t)
		momo := env.addProvider(domain.ProviderMTNMoMo, momoProfile)
		ctx := context.Background()

		var ref string
		momo.EXPECT().Initiate(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error) {
			ref = req.Reference
			return &domain.InitiateResult{Accepted: true, ProviderTransactionID: req.Reference}, nil
		})
		intent, err := env.payments.Collect(ctx, ports.CollectRequest{
			OwnerID: "rider-1", Provider: domain.ProviderMTNMoMo, Phone: "+256772123456",
			Amount: 20_000, Currency: "UGX", TopUp: true,
		})
		require.NoError(t, err)
		require.Equal(t, domain.IntentStatusProcessing, intent.Status)
		walletID, _ := intent.WalletID()

		// the webhook may settle the intent before the poller lists it
		momo.EXPECT().Poll(gomock.Any(), ref, domain.IntentDirectionCollect).
			Return(&domain.PollResult{Status: domain.PollStatusSucceeded, Amount: 20_000, Currency: "UGX"}, nil).
			MaxTimes(1)
		momo.EXPECT().VerifySignature(gomock.Any(), gomock.Any()).Return(nil)
		momo.EXPECT().Normalize(gomock.Any()).Return(&domain.NormalizedEvent{
			Provider:          domain.ProviderMTNMoMo,
			Type:              domain.EventChargeSucceeded,
			ProviderReference: ref,
			ProviderEventID:   ref + ":SUCCESSFUL",
			RawType:           "SUCCESSFUL",
			Source:            "webhook",
		}, nil)

		env.clock.Advance(time.Minute)

		var (
			wg              sync.WaitGroup
			webhookOutcome  string
			polled, settled int
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			res, err := env.webhooks.Ingest(ctx, domain.ProviderMTNMoMo, nil, []byte(`{"status":"SUCCESSFUL"}`))
			assert.NoError(t, err)
			webhookOutcome = res.Outcome
		}()
		go func() {
			defer wg.Done()
			var err error
			polled, settled, err = env.poller.ReconcileOnce(ctx)
			assert.NoError(t, err)
		}()
		wg.Wait()

		// the poller only lists intents still open when it starts
		assert.LessOrEqual(t, polled, 1)
		applied := settled
		if webhookOutcome == OutcomeApplied {
			applied++
		} else {
			assert.Equal(t, OutcomeNoop, webhookOutcome)
		}
		assert.Equal(t, 1, applied, "run %d: exactly one side must apply", run)

		assert.Equal(t, domain.IntentStatusCompleted, env.intent(t, intent.ID).Status)
		entries, err := env.ledger.ListEntries(ctx, walletID, 10, 0)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
		assert.Equal(t, int64(20_000), env.wallet(t, walletID).Balance)
		env.assertConsistent(t, walletID)
	}
}

func TestReconciliation_SettlesPolledOutcomes(t *testing.T) {
	env := newTestEnv(t)
	momo := env.addProvider(domain.ProviderMTNMoMo, momoProfile)
	ctx := context.Background()
	rider := env.fund(t, "rider-1", "UGX", 0)
	driver := env.fund(t, "driver-1", "UGX", 10_000)
	topup := env.seedTopup(t, domain.ProviderMTNMoMo, rider, 5000, "momo-topup")
	payout := env.seedPayout(t, domain.ProviderMTNMoMo, driver, 4000, "momo-payout")
	pending := env.seedTopup(t, domain.ProviderMTNMoMo, rider, 7000, "momo-pending")

	momo.EXPECT().Poll(gomock.Any(), "momo-topup", domain.IntentDirectionCollect).
		Return(&domain.PollResult{Status: domain.PollStatusSucceeded}, nil)
	momo.EXPECT().Poll(gomock.Any(), "momo-payout", domain.IntentDirectionDisburse).
		Return(&domain.PollResult{Status: domain.PollStatusFailed, Reason: "PAYEE_NOT_FOUND"}, nil)
	momo.EXPECT().Poll(gomock.Any(), "momo-pending", domain.IntentDirectionCollect).
		Return(&domain.PollResult{Status: domain.PollStatusPending}, nil)

	env.clock.Advance(time.Minute)
	polled, settled, err := env.poller.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, polled)
	assert.Equal(t, 2, settled)

	assert.Equal(t, domain.IntentStatusCompleted, env.intent(t, topup.ID).Status)
	assert.Equal(t, int64(5000), env.wallet(t, rider.ID).Balance)

	failed := env.intent(t, payout.ID)
	assert.Equal(t, domain.IntentStatusFailed, failed.Status)
	assert.Equal(t, "PAYEE_NOT_FOUND", failed.FailureReason)
	assert.Zero(t, env.wallet(t, driver.ID).LockedBalance)

	assert.Equal(t, domain.IntentStatusProcessing, env.intent(t, pending.ID).Status)
}

func TestReconciliation_FullBatchOfPendingIntentsRotates(t *testing.T) {
	env := newTestEnv(t)
	momo := env.addProvider(domain.ProviderMTNMoMo, momoProfile)
	env.poller.cfg.BatchSize = 2
	rider := env.fund(t, "rider-1", "UGX", 0)
	for _, ref := range []string{"ref-a", "ref-b", "ref-c"} {
		env.seedTopup(t, domain.ProviderMTNMoMo, rider, 5000, ref)
		env.clock.Advance(time.Second)
	}

	var (
		mu    sync.Mutex
		polls = map[string]int{}
	)
	momo.EXPECT().Poll(gomock.Any(), gomock.Any(), domain.IntentDirectionCollect).
		DoAndReturn(func(_ context.Context, ref string, _ domain.IntentDirection) (*domain.PollResult, error) {
			mu.Lock()
			polls[ref]++
			mu.Unlock()
			return &domain.PollResult{Status: domain.PollStatusPending}, nil
		}).
		Times(20)

	for tick := 0; tick < 10; tick++ {
		env.clock.Advance(time.Minute)
		polled, _, err := env.poller.ReconcileOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, polled)
		if tick == 1 {
			assert.Len(t, polls, 3, "every intent is polled within two ticks")
		}
	}

	for _, ref := range []string{"ref-a", "ref-b", "ref-c"} {
		assert.GreaterOrEqual(t, polls[ref], 4, ref)
	}
}

func TestReconciliation_SkipsFreshIntents(t *testing.T) {
	env := newTestEnv(t)
	env.addProvider(domain.ProviderMTNMoMo, momoProfile)
	w := env.fund(t, "rider-1", "UGX", 0)
	env.seedTopup(t, domain.ProviderMTNMoMo, w, 5000, "momo-1")

	// younger than MinAge: not listed, so Poll is never called
	env.clock.Advance(10 * time.Second)
	polled, _, err := env.poller.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, polled)
}

func TestReconciliation_WebhookProvidersWaitForGracePeriod(t *testing.T) {
	env := newTestEnv(t)
	ps := env.addProvider(domain.ProviderPaystack, nil)
	w := env.fund(t, "rider-1", "NGN", 0)
	intent := env.seedTopup(t, domain.ProviderPaystack, w, 5000, "ps_ref_1")

	env.clock.Advance(5 * time.Minute)
	polled, _, err := env.poller.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, polled)

	ps.EXPECT().Poll(gomock.Any(), "ps_ref_1", domain.IntentDirectionCollect).
		Return(&domain.PollResult{Status: domain.PollStatusSucceeded}, nil)
	env.clock.Advance(webhookGrace)
	polled, settled, err := env.poller.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, polled)
	assert.Equal(t, 1, settled)
	assert.Equal(t, domain.IntentStatusCompleted, env.intent(t, intent.ID).Status)
}

func TestReconciliation_FailsStalePendingIntent(t *testing.T) {
	env := newTestEnv(t)
	env.addProvider(domain.ProviderMTNMoMo, momoProfile)
	driver := env.fund(t, "driver-1", "UGX", 10_000)
	// no provider reference: the process died during Initiate
	payout := env.seedPayout(t, domain.ProviderMTNMoMo, driver, 4000, "")
	require.Equal(t, domain.IntentStatusPending, payout.Status)

	env.clock.Advance(time.Minute)
	_, settled, err := env.poller.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, settled, "not stale yet")

	env.clock.Advance(stalePendingAfter)
	_, settled, err = env.poller.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	failed := env.intent(t, payout.ID)
	assert.Equal(t, domain.IntentStatusFailed, failed.Status)
	assert.Equal(t, domain.ReasonProviderTimeout, failed.FailureReason)
	assert.Zero(t, env.wallet(t, driver.ID).LockedBalance, "the payout lock is released")
}

func TestReconciliation_TickRunsJanitor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.fund(t, "rider-1", "NGN", 1000)
	_, err := env.locks.Lock(ctx, ports.LockRequest{WalletID: w.ID, Amount: 300, Reference: "orphan", TTL: time.Minute})
	require.NoError(t, err)
	key := domain.BuildIdempotencyKey(domain.ScopeCollection, "rider-1", "k")
	_, token, err := env.idem.CheckOrReserve(ctx, key, domain.ScopeCollection)
	require.NoError(t, err)
	require.NoError(t, env.idem.Store(ctx, key, token, domain.ScopeCollection, 200, []byte(`{}`)))

	env.clock.Advance(2 * time.Hour)
	env.poller.Tick(ctx)

	assert.Zero(t, env.wallet(t, w.ID).LockedBalance)
	n, err := env.idem.Purge(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "already purged by the tick")
}

func TestReconciliation_RunStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	env.poller.cfg.Interval = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		env.poller.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
