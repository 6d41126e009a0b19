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

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultInitiateTimeout = 30 * time.Second

// PaymentServiceImpl implements ports.PaymentService.
type PaymentServiceImpl struct {
	intents       ports.PaymentIntentRepository
	providers     ports.ProviderRegistry
	ledger        *LedgerServiceImpl
	locks         *LockServiceImpl
	settlement    *SettlementService
	validate      *validator.Validate
	payoutLockTTL time.Duration
	log           zerolog.Logger
	now           func() time.Time
}

// NewPaymentService creates a new PaymentServiceImpl.
func NewPaymentService(
	intents ports.PaymentIntentRepository,
	providers ports.ProviderRegistry,
	ledger *LedgerServiceImpl,
	locks *LockServiceImpl,
	settlement *SettlementService,
	payoutLockTTL time.Duration,
	log zerolog.Logger,
) *PaymentServiceImpl {
	return &PaymentServiceImpl{
		intents:       intents,
		providers:     providers,
		ledger:        ledger,
		locks:         locks,
		settlement:    settlement,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		payoutLockTTL: payoutLockTTL,
		log:           log,
		now:           time.Now,
	}
}

// Collect charges an end user through a provider. The intent is persisted
// PENDING before the provider is called.
func (s *PaymentServiceImpl) Collect(ctx context.Context, req ports.CollectRequest) (*domain.PaymentIntent, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	if req.Phone == "" && req.Email == "" {
		return nil, apperror.Validation("phone or email is required")
	}
	p, currency, err := s.resolveProvider(req.Provider, domain.IntentDirectionCollect, req.Currency, req.Amount, req.Phone)
	if err != nil {
		return nil, err
	}

	intent := s.newIntent(req.OwnerID, p.Name(), domain.IntentDirectionCollect, req.Amount, currency, req.Phone)
	intent.Purpose = domain.PurposeDirectCharge
	if req.TopUp {
		w, err := s.ledger.GetOrCreateWallet(ctx, req.OwnerID, currency)
		if err != nil {
			return nil, err
		}
		if !w.IsActive {
			return nil, apperror.ErrWalletInactive()
		}
		intent.Purpose = domain.PurposeWalletTopup
		intent.Metadata[domain.MetaWalletID] = w.ID.String()
	}

	if err := s.intents.Create(ctx, intent); err != nil {
		return nil, storageErr("create intent", err)
	}
	return s.initiate(ctx, p, intent, domain.InitiateRequest{
		Reference:   intent.ID.String(),
		Direction:   domain.IntentDirectionCollect,
		Phone:       req.Phone,
		Email:       req.Email,
		Amount:      req.Amount,
		Currency:    currency,
		Description: "Payment " + intent.ID.String()[:8],
	})
}

// Disburse pays out from the owner's wallet. The amount is locked before the
// provider is called and captured or released when the payout settles.
func (s *PaymentServiceImpl) Disburse(ctx context.Context, req ports.DisburseRequest) (*domain.PaymentIntent, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	p, currency, err := s.resolveProvider(req.Provider, domain.IntentDirectionDisburse, req.Currency, req.Amount, req.Phone)
	if err != nil {
		return nil, err
	}

	w, err := s.ledger.walletRepo.GetByOwner(ctx, req.OwnerID, currency)
	if err != nil {
		return nil, storageErr("get wallet", err)
	}
	if w == nil {
		return nil, apperror.ErrNotFound("Wallet")
	}

	intent := s.newIntent(req.OwnerID, p.Name(), domain.IntentDirectionDisburse, req.Amount, currency, req.Phone)
	intent.Purpose = domain.PurposePayout
	lockRef := domain.PayoutLockReference(intent.ID)
	intent.Metadata[domain.MetaWalletID] = w.ID.String()
	intent.Metadata[domain.MetaLockReference] = lockRef

	if _, err := s.locks.Lock(ctx, ports.LockRequest{
		WalletID:  w.ID,
		Amount:    req.Amount,
		Reference: lockRef,
		Reason:    "payout",
		TTL:       s.payoutLockTTL,
	}); err != nil {
		return nil, err
	}
	if err := s.intents.Create(ctx, intent); err != nil {
		if relErr := s.locks.Release(ctx, lockRef); relErr != nil {
			s.log.Error().Err(relErr).Str("reference", lockRef).Msg("failed to release payout lock after intent create failure")
		}
		return nil, storageErr("create intent", err)
	}

	return s.initiate(ctx, p, intent, domain.InitiateRequest{
		Reference:   intent.ID.String(),
		Direction:   domain.IntentDirectionDisburse,
		Phone:       req.Phone,
		Amount:      req.Amount,
		Currency:    currency,
		Description: req.Description,
	})
}

// GetStatus returns an intent by provider reference (or intent ID). With poll
// set, a non-terminal intent is first reconciled against the provider.
func (s *PaymentServiceImpl) GetStatus(ctx context.Context, provider domain.ProviderName, providerRef string, poll bool) (*domain.PaymentIntent, error) {
	intent, err := s.settlement.FindIntent(ctx, provider, providerRef)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, apperror.ErrNotFound("Payment intent")
	}
	if !poll || intent.IsTerminal() || intent.ProviderReference == "" {
		return intent, nil
	}

	p, ok := s.providers.Get(intent.Provider)
	if !ok {
		return intent, nil
	}
	res, err := p.Poll(ctx, intent.ProviderReference, intent.Direction)
	if err != nil {
		s.log.Warn().Err(err).
			Str("intent_id", intent.ID.String()).
			Str("provider", string(intent.Provider)).
			Msg("status poll failed, returning stored status")
		return intent, nil
	}
	ev, settled := domain.EventFromPoll(intent, *res)
	if !settled {
		return intent, nil
	}
	if _, err := s.settlement.ApplyToIntent(ctx, intent, &ev); err != nil {
		return nil, err
	}
	return intent, nil
}

func (s *PaymentServiceImpl) newIntent(ownerID string, provider domain.ProviderName, dir domain.IntentDirection, amount int64, currency, phone string) *domain.PaymentIntent {
	now := s.now().UTC()
	return &domain.PaymentIntent{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Provider:  provider,
		Direction: dir,
		Amount:    amount,
		Currency:  currency,
		Phone:     phone,
		Status:    domain.IntentStatusPending,
		Metadata:  map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// initiate calls the provider under its timeout and records the outcome.
// Provider failures do not surface as errors: the intent is returned FAILED.
func (s *PaymentServiceImpl) initiate(ctx context.Context, p ports.PaymentProvider, intent *domain.PaymentIntent, req domain.InitiateRequest) (*domain.PaymentIntent, error) {
	timeout := p.Profile().Timeout
	if timeout <= 0 {
		timeout = defaultInitiateTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	res, err := p.Initiate(callCtx, req)
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()

	log := s.log.With().
		Str("intent_id", intent.ID.String()).
		Str("provider", string(intent.Provider)).
		Str("direction", string(intent.Direction)).
		Logger()

	switch {
	case err != nil:
		reason := err.Error()
		if timedOut || errors.Is(err, apperror.ErrProviderTimeout()) {
			reason = domain.ReasonProviderTimeout
		} else {
			var appErr *apperror.AppError
			if errors.As(err, &appErr) {
				reason = appErr.Message
			}
		}
		log.Error().Err(err).Str("reason", reason).Msg("provider initiate failed")
		return s.fail(ctx, intent, reason)

	case !res.Accepted:
		reason := res.Message
		if reason == "" {
			reason = "declined by provider"
		}
		log.Warn().Str("reason", reason).Msg("provider declined request")
		return s.fail(ctx, intent, reason)
	}

	ref := res.ProviderTransactionID
	if ref == "" {
		ref = intent.ID.String()
	}
	moved, err := s.intents.MarkProcessing(ctx, intent.ID, ref)
	if err != nil {
		log.Error().Err(err).Str("provider_ref", ref).Msg("provider accepted but reference could not be recorded")
		return nil, storageErr("mark intent processing", err)
	}
	if !moved {
		// a callback settled the intent before we recorded the reference
		current, err := s.intents.GetByID(ctx, intent.ID)
		if err != nil {
			return nil, storageErr("reload intent", err)
		}
		if current != nil {
			return current, nil
		}
	}

	intent.Status = domain.IntentStatusProcessing
	intent.ProviderReference = ref
	if res.CheckoutURL != "" {
		intent.Metadata[domain.MetaCheckoutURL] = res.CheckoutURL
	}
	log.Info().Str("provider_ref", ref).Msg("provider accepted request")
	return intent, nil
}

// fail moves a PENDING intent to FAILED through the settlement routine so
// that a payout's lock is released.
func (s *PaymentServiceImpl) fail(ctx context.Context, intent *domain.PaymentIntent, reason string) (*domain.PaymentIntent, error) {
	// the caller's context may be the one that just expired
	ctx = context.WithoutCancel(ctx)
	if _, err := s.settlement.ApplyToIntent(ctx, intent, failEvent(intent, reason, "initiate")); err != nil {
		return nil, err
	}
	return intent, nil
}

func (s *PaymentServiceImpl) validateStruct(v any) error {
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				if fe.Field() == "Amount" {
					return apperror.ErrInvalidAmount()
				}
				if fe.Field() == "Currency" {
					return apperror.ErrInvalidCurrency()
				}
				fields = append(fields, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return apperror.Validation(strings.Join(fields, "; "))
		}
		return apperror.Validation(err.Error())
	}
	return nil
}

// resolveProvider checks the request against the provider's profile. Nothing
// here talks to the provider.
func (s *PaymentServiceImpl) resolveProvider(name domain.ProviderName, dir domain.IntentDirection, currency string, amount int64, phone string) (ports.PaymentProvider, string, error) {
	p, ok := s.providers.Get(name)
	if !ok {
		return nil, "", apperror.ErrInvalidProvider()
	}
	profile := p.Profile()
	if dir == domain.IntentDirectionDisburse && !profile.CanDisburse {
		return nil, "", apperror.ErrInvalidProvider()
	}
	cur, err := normalizeCurrency(currency)
	if err != nil {
		return nil, "", err
	}
	if !profile.SupportsCurrency(cur) {
		return nil, "", apperror.ErrInvalidCurrency()
	}
	if !profile.AmountInRange(amount) {
		return nil, "", apperror.ErrInvalidAmount()
	}
	if phone != "" && !profile.PhoneAllowed(phone) {
		return nil, "", apperror.Validation(fmt.Sprintf("phone number not supported by %s", name))
	}
	return p, cur, nil
}
