package service

import (
	"context"
	"errors"
	"fmt"

	"payments-ledger/internal/core/domain"
	"payments-ledger/internal/core/ports"
	"payments-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// Settlement outcomes.
const (
	OutcomeApplied   = "applied"   // this event moved the intent to a terminal state
	OutcomeNoop      = "noop"      // intent already in the same terminal state
	OutcomeConflict  = "conflict"  // intent already in the other terminal state
	OutcomeIgnored   = "ignored"   // no intent, or an event that does not move the state machine
	OutcomeDuplicate = "duplicate" // delivery already processed
	OutcomeError     = "error"
)

// SettlementService is the single place where provider outcomes change the
// ledger. Webhooks, the poller, status polls and synchronous provider failures
// all go through ApplyToIntent.
type SettlementService struct {
	intents    ports.PaymentIntentRepository
	ledger     *LedgerServiceImpl
	locks      *LockServiceImpl
	transactor ports.DBTransactor
	publisher  ports.EventPublisher
	metrics    ports.Metrics
	log        zerolog.Logger
}

// NewSettlementService creates a new SettlementService. publisher may be nil.
func NewSettlementService(
	intents ports.PaymentIntentRepository,
	ledger *LedgerServiceImpl,
	locks *LockServiceImpl,
	transactor ports.DBTransactor,
	publisher ports.EventPublisher,
	metrics ports.Metrics,
	log zerolog.Logger,
) *SettlementService {
	return &SettlementService{
		intents:    intents,
		ledger:     ledger,
		locks:      locks,
		transactor: transactor,
		publisher:  publisher,
		metrics:    metricsOrNoop(metrics),
		log:        log,
	}
}

// FindIntent resolves a provider reference. References are only unique per
// provider; an empty provider matches any. Providers that echo our intent ID
// can call back before the reference was recorded, so an ID lookup is tried
// second.
func (s *SettlementService) FindIntent(ctx context.Context, provider domain.ProviderName, providerRef string) (*domain.PaymentIntent, error) {
	intent, err := s.intents.GetByProviderReference(ctx, provider, providerRef)
	if err != nil {
		return nil, storageErr("get intent by provider reference", err)
	}
	if intent != nil {
		return intent, nil
	}
	id, err := uuid.Parse(providerRef)
	if err != nil {
		return nil, nil
	}
	intent, err = s.intents.GetByID(ctx, id)
	if err != nil {
		return nil, storageErr("get intent", err)
	}
	return intent, nil
}

// Apply settles the intent an event refers to.
func (s *SettlementService) Apply(ctx context.Context, ev *domain.NormalizedEvent) (string, error) {
	intent, err := s.FindIntent(ctx, ev.Provider, ev.ProviderReference)
	if err != nil {
		return OutcomeError, err
	}
	if intent == nil {
		s.log.Warn().
			Str("provider", string(ev.Provider)).
			Str("provider_ref", ev.ProviderReference).
			Str("event", string(ev.Type)).
			Msg("event for unknown payment intent")
		s.metrics.SettlementApplied(ev.Source, OutcomeIgnored)
		return OutcomeIgnored, nil
	}
	if intent.Provider != ev.Provider {
		s.log.Warn().
			Str("intent_id", intent.ID.String()).
			Str("provider", string(ev.Provider)).
			Str("intent_provider", string(intent.Provider)).
			Msg("event provider does not match intent")
		s.metrics.SettlementApplied(ev.Source, OutcomeIgnored)
		return OutcomeIgnored, nil
	}
	return s.ApplyToIntent(ctx, intent, ev)
}

// ApplyToIntent drives intent to the terminal state ev implies and applies the
// ledger side effect in the same transaction. The status change is a
// compare-and-set, so whichever of webhook or poller commits first wins and
// the other becomes a no-op. intent is updated in place on success.
func (s *SettlementService) ApplyToIntent(ctx context.Context, intent *domain.PaymentIntent, ev *domain.NormalizedEvent) (outcome string, err error) {
	defer func() {
		if err != nil {
			outcome = OutcomeError
		}
		s.metrics.SettlementApplied(ev.Source, outcome)
	}()

	typ := ev.Type.ForDirection(intent.Direction)
	target := typ.TargetStatus()
	if target == "" {
		s.log.Info().
			Str("intent_id", intent.ID.String()).
			Str("event", string(typ)).
			Msg("event recorded without state change")
		return OutcomeIgnored, nil
	}
	if intent.IsTerminal() {
		return s.terminalOutcome(intent, target, ev), nil
	}
	if ev.Amount != 0 && ev.Amount != intent.Amount {
		s.log.Warn().
			Str("intent_id", intent.ID.String()).
			Int64("intent_amount", intent.Amount).
			Int64("event_amount", ev.Amount).
			Msg("provider reported a different amount; settling the intent amount")
	}

	reason := ""
	if target == domain.IntentStatusFailed {
		reason = ev.Reason
		if reason == "" {
			reason = string(typ)
		}
	}

	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return "", storageErr("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	won, err := s.intents.TransitionTerminal(ctx, tx, intent.ID, target, reason)
	if err != nil {
		return "", storageErr("transition intent", err)
	}
	if !won {
		_ = tx.Rollback(ctx)
		current, err := s.intents.GetByID(ctx, intent.ID)
		if err != nil {
			return "", storageErr("reload intent", err)
		}
		if current == nil {
			return OutcomeIgnored, nil
		}
		*intent = *current
		return s.terminalOutcome(intent, target, ev), nil
	}

	if err := s.sideEffect(ctx, tx, intent, typ); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", storageErr("commit settlement", err)
	}

	intent.Status = target
	intent.FailureReason = reason

	s.log.Info().
		Str("intent_id", intent.ID.String()).
		Str("provider", string(intent.Provider)).
		Str("provider_ref", intent.ProviderReference).
		Str("event", string(typ)).
		Str("source", ev.Source).
		Str("status", string(target)).
		Msg("payment intent settled")

	s.publish(ctx, intent)
	return OutcomeApplied, nil
}

func (s *SettlementService) terminalOutcome(intent *domain.PaymentIntent, target domain.IntentStatus, ev *domain.NormalizedEvent) string {
	if intent.Status == target {
		return OutcomeNoop
	}
	s.log.Warn().
		Str("intent_id", intent.ID.String()).
		Str("status", string(intent.Status)).
		Str("event", string(ev.Type)).
		Str("source", ev.Source).
		Msg("conflicting terminal outcome ignored")
	return OutcomeConflict
}

// sideEffect applies the ledger consequence of a terminal transition.
func (s *SettlementService) sideEffect(ctx context.Context, tx pgx.Tx, intent *domain.PaymentIntent, typ domain.EventType) error {
	switch intent.Purpose {
	case domain.PurposeWalletTopup:
		if typ != domain.EventChargeSucceeded {
			return nil
		}
		walletID, ok := intent.WalletID()
		if !ok {
			return apperror.InternalError(fmt.Errorf("top-up intent %s has no wallet", intent.ID))
		}
		_, err := s.ledger.creditTx(ctx, tx, ports.EntryRequest{
			WalletID:    walletID,
			Amount:      intent.Amount,
			Reference:   intent.ID.String(),
			Description: "wallet top-up via " + string(intent.Provider),
			Metadata: map[string]string{
				"intent_id":    intent.ID.String(),
				"provider":     string(intent.Provider),
				"provider_ref": intent.ProviderReference,
			},
		})
		return err

	case domain.PurposePayout:
		lockRef := intent.LockReference()
		if lockRef == "" {
			lockRef = domain.PayoutLockReference(intent.ID)
		}
		switch typ {
		case domain.EventTransferSucceeded:
			_, err := s.locks.captureTx(ctx, tx, lockRef, "payout via "+string(intent.Provider))
			if !errors.Is(err, apperror.ErrLockNotFound()) {
				return err
			}
			// the lock expired before the provider confirmed; debit directly
			walletID, ok := intent.WalletID()
			if !ok {
				return apperror.InternalError(fmt.Errorf("payout intent %s has no wallet", intent.ID))
			}
			s.log.Warn().
				Str("intent_id", intent.ID.String()).
				Str("reference", lockRef).
				Msg("payout lock missing at capture, debiting available balance")
			_, err = s.ledger.debitTx(ctx, tx, ports.EntryRequest{
				WalletID:    walletID,
				Amount:      intent.Amount,
				Reference:   lockRef,
				Description: "payout via " + string(intent.Provider),
				Metadata:    map[string]string{"intent_id": intent.ID.String()},
			})
			return err
		default:
			_, err := s.locks.releaseTx(ctx, tx, lockRef)
			if errors.Is(err, apperror.ErrLockNotFound()) {
				s.log.Info().Str("reference", lockRef).Msg("payout lock already released")
				return nil
			}
			return err
		}
	}
	return nil
}

func (s *SettlementService) publish(ctx context.Context, intent *domain.PaymentIntent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, domain.NewPaymentEvent(intent)); err != nil {
		s.log.Warn().Err(err).Str("intent_id", intent.ID.String()).Msg("failed to publish payment event")
	}
}

// failEvent builds the event for an intent the service itself fails.
func failEvent(intent *domain.PaymentIntent, reason, source string) *domain.NormalizedEvent {
	return &domain.NormalizedEvent{
		Provider:          intent.Provider,
		Type:              domain.EventChargeFailed.ForDirection(intent.Direction),
		ProviderReference: intent.ProviderReference,
		RawType:           "internal",
		Reason:            reason,
		Source:            source,
	}
}
