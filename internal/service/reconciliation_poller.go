package service

import (
	"context"
	"sync/atomic"
	"time"

	"payments-ledger/config"
	"payments-ledger/internal/core/domain"
	"payments-ledger/internal/core/ports"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// webhookGrace is how long intents of webhook-driven providers wait for
	// their callback before the poller asks the provider.
	webhookGrace = 15 * time.Minute
	// stalePendingAfter fails intents that never reached the provider, e.g.
	// because the process died during Initiate.
	stalePendingAfter = 10 * time.Minute
)

// ReconciliationPoller settles intents whose callbacks are missing or
// unreliable by polling their providers. Each tick also runs the janitor:
// expired fund locks are released and expired idempotency records purged.
type ReconciliationPoller struct {
	intents     ports.PaymentIntentRepository
	providers   ports.ProviderRegistry
	settlement  *SettlementService
	locks       ports.LockService
	idempotency *IdempotencyService
	cfg         config.PollerConfig
	metrics     ports.Metrics
	log         zerolog.Logger
	now         func() time.Time
}

// NewReconciliationPoller creates a new ReconciliationPoller. idempotency may
// be nil.
func NewReconciliationPoller(
	intents ports.PaymentIntentRepository,
	providers ports.ProviderRegistry,
	settlement *SettlementService,
	locks ports.LockService,
	idempotency *IdempotencyService,
	cfg config.PollerConfig,
	metrics ports.Metrics,
	log zerolog.Logger,
) *ReconciliationPoller {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &ReconciliationPoller{
		intents:     intents,
		providers:   providers,
		settlement:  settlement,
		locks:       locks,
		idempotency: idempotency,
		cfg:         cfg,
		metrics:     metricsOrNoop(metrics),
		log:         log.With().Str("component", "reconciliation_poller").Logger(),
		now:         time.Now,
	}
}

// Run ticks until ctx is cancelled.
func (p *ReconciliationPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.log.Info().Dur("interval", p.cfg.Interval).Msg("reconciliation poller started")
	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("reconciliation poller stopped")
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs one reconciliation pass and the janitor duties.
func (p *ReconciliationPoller) Tick(ctx context.Context) {
	if _, _, err := p.ReconcileOnce(ctx); err != nil {
		p.log.Error().Err(err).Msg("reconciliation pass failed")
	}
	if n, err := p.locks.ReleaseExpired(ctx); err != nil {
		p.log.Error().Err(err).Msg("releasing expired fund locks failed")
	} else if n > 0 {
		p.log.Info().Int("released", n).Msg("expired fund locks released")
	}
	if p.idempotency != nil {
		if n, err := p.idempotency.Purge(ctx); err != nil {
			p.log.Error().Err(err).Msg("purging idempotency records failed")
		} else if n > 0 {
			p.log.Debug().Int64("purged", n).Msg("expired idempotency records purged")
		}
	}
}

// ReconcileOnce polls up to BatchSize open intents older than the configured
// minimum age, least recently polled first, at most Concurrency at a time.
// Per-intent failures are logged and do not stop the pass.
func (p *ReconciliationPoller) ReconcileOnce(ctx context.Context) (polled, settled int, err error) {
	defer func() { p.metrics.PollerRun(polled, settled, err) }()

	now := p.now()
	open, err := p.intents.ListOpen(ctx, now.Add(-p.cfg.MinAge), p.cfg.BatchSize)
	if err != nil {
		return 0, 0, storageErr("list open intents", err)
	}

	var nPolled, nSettled atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i := range open {
		intent := &open[i]
		g.Go(func() error {
			didPoll, didSettle := p.reconcile(gctx, intent, now)
			if !didSettle {
				// rotate the intent to the back of the queue, or a full batch
				// that stays pending would be listed forever
				if err := p.intents.MarkPolled(gctx, intent.ID, now.UTC()); err != nil {
					p.log.Warn().Err(err).Str("intent_id", intent.ID.String()).Msg("recording poll time failed")
				}
			}
			if didPoll {
				nPolled.Add(1)
			}
			if didSettle {
				nSettled.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(nPolled.Load()), int(nSettled.Load()), ctx.Err()
}

func (p *ReconciliationPoller) reconcile(ctx context.Context, intent *domain.PaymentIntent, now time.Time) (polled, settled bool) {
	log := p.log.With().
		Str("intent_id", intent.ID.String()).
		Str("provider", string(intent.Provider)).
		Logger()

	if intent.ProviderReference == "" {
		if intent.Status == domain.IntentStatusPending && now.Sub(intent.CreatedAt) > stalePendingAfter {
			outcome, err := p.settlement.ApplyToIntent(ctx, intent, failEvent(intent, domain.ReasonProviderTimeout, "poll"))
			if err != nil {
				log.Error().Err(err).Msg("failing stale pending intent")
				return false, false
			}
			log.Warn().Str("outcome", outcome).Msg("stale pending intent failed")
			return false, outcome == OutcomeApplied
		}
		return false, false
	}

	prov, ok := p.providers.Get(intent.Provider)
	if !ok {
		log.Warn().Msg("open intent for disabled provider")
		return false, false
	}
	if !prov.Profile().NeedsPolling && now.Sub(intent.UpdatedAt) < webhookGrace {
		return false, false
	}

	res, err := prov.Poll(ctx, intent.ProviderReference, intent.Direction)
	if err != nil {
		log.Warn().Err(err).Str("provider_ref", intent.ProviderReference).Msg("provider poll failed")
		return true, false
	}
	ev, final := domain.EventFromPoll(intent, *res)
	if !final {
		return true, false
	}
	outcome, err := p.settlement.ApplyToIntent(ctx, intent, &ev)
	if err != nil {
		log.Error().Err(err).Msg("applying polled outcome failed")
		return true, false
	}
	log.Info().Str("outcome", outcome).Str("status", string(res.Status)).Msg("intent reconciled")
	return true, outcome == OutcomeApplied
}
