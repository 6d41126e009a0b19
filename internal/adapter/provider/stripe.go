package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"payments-ledger/config"
	"payments-ledger/internal/core/domain"
	"payments-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

// Stripe collects card payments through PaymentIntents. It does not pay out.
type Stripe struct {
	client
	profile       domain.ProviderProfile
	secretKey     string
	webhookSecret string
	maxSkew       time.Duration
	now           func() time.Time
}

type stripeObject struct {
	ID               string `json:"id"`
	Object           string `json:"object"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	PaymentIntent    string `json:"payment_intent"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
	NextAction *struct {
		RedirectToURL *struct {
			URL string `json:"url"`
		} `json:"redirect_to_url"`
	} `json:"next_action"`
}

type stripeError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewStripe builds the Stripe adapter.
func NewStripe(cfg config.ProviderConfig, log zerolog.Logger) (*Stripe, error) {
	profile, err := profileFromConfig(domain.ProviderStripe, cfg, false, false)
	if err != nil {
		return nil, err
	}
	return &Stripe{
		client:        newClient(cfg, log.With().Str("provider", "stripe").Logger()),
		profile:       profile,
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		maxSkew:       cfg.SignatureMaxSkew,
		now:           time.Now,
	}, nil
}

func (s *Stripe) Name() domain.ProviderName       { return domain.ProviderStripe }
func (s *Stripe) Profile() domain.ProviderProfile { return s.profile }

func (s *Stripe) form(ctx context.Context, method, path string, form url.Values, idemKey string, out any) (int, error) {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+s.secretKey)
	var body io.Reader
	if form != nil {
		h.Set("Content-Type", "application/x-www-form-urlencoded")
		body = strings.NewReader(form.Encode())
	}
	if idemKey != "" {
		h.Set("Idempotency-Key", idemKey)
	}

	status, raw, err := s.do(ctx, method, path, h, body)
	if err != nil {
		return status, err
	}
	if status >= 300 {
		var se stripeError
		_ = json.Unmarshal(raw, &se)
		return status, fmt.Errorf("%s", firstNonEmpty(se.Error.Message, http.StatusText(status)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return status, apperror.ErrProviderUnavailable(fmt.Errorf("decode response: %w", err))
	}
	return status, nil
}

func (s *Stripe) Initiate(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error) {
	if req.Direction == domain.IntentDirectionDisburse {
		return nil, apperror.ErrUnsupportedOperation()
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("metadata[reference]", req.Reference)
	form.Set("automatic_payment_methods[enabled]", "true")
	if req.Email != "" {
		form.Set("receipt_email", req.Email)
	}
	if req.Description != "" {
		form.Set("description", req.Description)
	}

	var pi stripeObject
	status, err := s.form(ctx, http.MethodPost, "/v1/payment_intents", form, req.Reference, &pi)
	if err != nil {
		if status >= 400 && status < 500 {
			return &domain.InitiateResult{Accepted: false, Message: err.Error()}, nil
		}
		return nil, err
	}

	res := &domain.InitiateResult{Accepted: true, ProviderTransactionID: pi.ID, Message: pi.Status}
	if pi.NextAction != nil && pi.NextAction.RedirectToURL != nil {
		res.CheckoutURL = pi.NextAction.RedirectToURL.URL
	}
	return res, nil
}

func (s *Stripe) Poll(ctx context.Context, providerRef string, _ domain.IntentDirection) (*domain.PollResult, error) {
	var pi stripeObject
	status, err := s.form(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(providerRef), nil, "", &pi)
	if err != nil {
		if status == http.StatusNotFound {
			return &domain.PollResult{Status: domain.PollStatusPending, ProviderReference: providerRef}, nil
		}
		if status >= 400 && status < 500 {
			return nil, apperror.ErrProviderUnavailable(err)
		}
		return nil, err
	}

	res := &domain.PollResult{
		ProviderReference: providerRef,
		Amount:            pi.Amount,
		Currency:          strings.ToUpper(pi.Currency),
	}
	switch pi.Status {
	case "succeeded":
		res.Status = domain.PollStatusSucceeded
	case "canceled":
		res.Status = domain.PollStatusFailed
		res.Reason = "canceled"
	case "requires_payment_method":
		// a fresh intent also sits here; only a recorded error is a failure
		res.Status = domain.PollStatusPending
		if pi.LastPaymentError != nil {
			res.Status = domain.PollStatusFailed
			res.Reason = pi.LastPaymentError.Message
		}
	default:
		res.Status = domain.PollStatusPending
	}
	return res, nil
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object stripeObject `json:"object"`
	} `json:"data"`
}

// VerifySignature checks the Stripe-Signature header.
func (s *Stripe) VerifySignature(headers http.Header, body []byte) error {
	return verifyTimestamped(s.webhookSecret, headers.Get("Stripe-Signature"), body, s.now(), s.maxSkew)
}

// Normalize maps a verified delivery to the internal taxonomy.
func (s *Stripe) Normalize(body []byte) (*domain.NormalizedEvent, error) {
	var ev stripeEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, apperror.Validation("malformed stripe payload")
	}
	obj := ev.Data.Object

	out := &domain.NormalizedEvent{
		Provider:          domain.ProviderStripe,
		ProviderReference: obj.ID,
		ProviderEventID:   ev.ID,
		RawType:           ev.Type,
		Amount:            obj.Amount,
		Currency:          strings.ToUpper(obj.Currency),
		Source:            "webhook",
		OccurredAt:        time.Now().UTC(),
	}
	switch ev.Type {
	case "payment_intent.succeeded":
		out.Type = domain.EventChargeSucceeded
	case "payment_intent.payment_failed", "payment_intent.canceled":
		out.Type = domain.EventChargeFailed
		if obj.LastPaymentError != nil {
			out.Reason = obj.LastPaymentError.Message
		}
	case "charge.refunded":
		out.Type = domain.EventRefundProcessed
		out.ProviderReference = firstNonEmpty(obj.PaymentIntent, obj.ID)
	default:
		return nil, apperror.ErrUnknownEvent()
	}
	return out, nil
}
