package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"payments-ledger/config"
	"payments-ledger/internal/core/domain"
	"payments-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

// Paystack collects NGN and GHS through card checkout or mobile money, and
// pays out through transfer recipients.
type Paystack struct {
	client
	profile     domain.ProviderProfile
	secretKey   string
	callbackURL string
}

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paystackTransaction struct {
	ID               int64  `json:"id"`
	Reference        string `json:"reference"`
	TransferCode     string `json:"transfer_code"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	GatewayResponse  string `json:"gateway_response"`
	Reason           string `json:"reason"`
	AuthorizationURL string `json:"authorization_url"`
	DisplayText      string `json:"display_text"`
	RecipientCode    string `json:"recipient_code"`
}

// NewPaystack builds the Paystack adapter.
func NewPaystack(cfg config.ProviderConfig, log zerolog.Logger) (*Paystack, error) {
	profile, err := profileFromConfig(domain.ProviderPaystack, cfg, true, false)
	if err != nil {
		return nil, err
	}
	return &Paystack{
		client:      newClient(cfg, log.With().Str("provider", "paystack").Logger()),
		profile:     profile,
		secretKey:   cfg.SecretKey,
		callbackURL: cfg.CallbackURL,
	}, nil
}

func (p *Paystack) Name() domain.ProviderName       { return domain.ProviderPaystack }
func (p *Paystack) Profile() domain.ProviderProfile { return p.profile }

func (p *Paystack) headers() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+p.secretKey)
	return h
}

func (p *Paystack) Initiate(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error) {
	if req.Direction == domain.IntentDirectionDisburse {
		return p.transfer(ctx, req)
	}
	return p.charge(ctx, req)
}

func (p *Paystack) charge(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error) {
	email := req.Email
	if email == "" {
		email = msisdn(req.Phone) + "@customers.invalid"
	}
	body := map[string]any{
		"email":     email,
		"amount":    req.Amount,
		"currency":  strings.ToUpper(req.Currency),
		"reference": req.Reference,
	}

	path := "/transaction/initialize"
	if req.Phone != "" {
		path = "/charge"
		body["mobile_money"] = map[string]string{
			"phone":    req.Phone,
			"provider": paystackMobileNetwork(req.Currency),
		}
	} else if p.callbackURL != "" {
		body["callback_url"] = p.callbackURL
	}

	var env paystackEnvelope
	status, err := p.doJSON(ctx, http.MethodPost, path, p.headers(), body, &env)
	if err != nil {
		return nil, err
	}
	if status >= 300 || !env.Status {
		return &domain.InitiateResult{Accepted: false, Message: env.Message}, nil
	}

	var tx paystackTransaction
	_ = json.Unmarshal(env.Data, &tx)
	ref := tx.Reference
	if ref == "" {
		ref = req.Reference
	}
	return &domain.InitiateResult{
		Accepted:              true,
		ProviderTransactionID: ref,
		Message:               firstNonEmpty(tx.DisplayText, env.Message),
		CheckoutURL:           tx.AuthorizationURL,
	}, nil
}

func (p *Paystack) transfer(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error) {
	recipient := map[string]any{
		"type":           "mobile_money",
		"name":           firstNonEmpty(req.Description, req.Phone),
		"account_number": req.Phone,
		"bank_code":      paystackMobileNetwork(req.Currency),
		"currency":       strings.ToUpper(req.Currency),
	}
	var env paystackEnvelope
	status, err := p.doJSON(ctx, http.MethodPost, "/transferrecipient", p.headers(), recipient, &env)
	if err != nil {
		return nil, err
	}
	if status >= 300 || !env.Status {
		return &domain.InitiateResult{Accepted: false, Message: env.Message}, nil
	}
	var rcp paystackTransaction
	_ = json.Unmarshal(env.Data, &rcp)

	body := map[string]any{
		"source":    "balance",
		"amount":    req.Amount,
		"currency":  strings.ToUpper(req.Currency),
		"recipient": rcp.RecipientCode,
		"reference": req.Reference,
		"reason":    req.Description,
	}
	env = paystackEnvelope{}
	status, err = p.doJSON(ctx, http.MethodPost, "/transfer", p.headers(), body, &env)
	if err != nil {
		return nil, err
	}
	if status >= 300 || !env.Status {
		return &domain.InitiateResult{Accepted: false, Message: env.Message}, nil
	}
	var tx paystackTransaction
	_ = json.Unmarshal(env.Data, &tx)
	return &domain.InitiateResult{
		Accepted:              true,
		ProviderTransactionID: firstNonEmpty(tx.Reference, req.Reference),
		Message:               env.Message,
	}, nil
}

func (p *Paystack) Poll(ctx context.Context, providerRef string, direction domain.IntentDirection) (*domain.PollResult, error) {
	path := "/transaction/verify/" + url.PathEscape(providerRef)
	if direction == domain.IntentDirectionDisburse {
		path = "/transfer/verify/" + url.PathEscape(providerRef)
	}
	var env paystackEnvelope
	status, err := p.doJSON(ctx, http.MethodGet, path, p.headers(), nil, &env)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return &domain.PollResult{Status: domain.PollStatusPending, ProviderReference: providerRef}, nil
	}
	if status >= 300 {
		return nil, apperror.ErrProviderUnavailable(fmt.Errorf("verify %s: status=%d %s", providerRef, status, env.Message))
	}

	var tx paystackTransaction
	if err := json.Unmarshal(env.Data, &tx); err != nil {
		return nil, apperror.ErrProviderUnavailable(fmt.Errorf("decode verify: %w", err))
	}
	res := &domain.PollResult{
		ProviderReference: providerRef,
		Amount:            tx.Amount,
		Currency:          tx.Currency,
		Reason:            firstNonEmpty(tx.GatewayResponse, tx.Reason),
	}
	switch tx.Status {
	case "success":
		res.Status = domain.PollStatusSucceeded
	case "failed", "abandoned":
		res.Status = domain.PollStatusFailed
	case "reversed":
		res.Status = domain.PollStatusReversed
	default:
		res.Status = domain.PollStatusPending
	}
	return res, nil
}

type paystackWebhook struct {
	Event string              `json:"event"`
	Data  paystackTransaction `json:"data"`
}

// VerifySignature checks x-paystack-signature, an HMAC-SHA512 of the body
// keyed with the secret key.
func (p *Paystack) VerifySignature(headers http.Header, body []byte) error {
	return verifyHMACSHA512(p.secretKey, body, headers.Get("x-paystack-signature"))
}

// Normalize maps a verified delivery to the internal taxonomy.
func (p *Paystack) Normalize(body []byte) (*domain.NormalizedEvent, error) {
	var wh paystackWebhook
	if err := json.Unmarshal(body, &wh); err != nil {
		return nil, apperror.Validation("malformed paystack payload")
	}

	var typ domain.EventType
	switch wh.Event {
	case "charge.success":
		typ = domain.EventChargeSucceeded
	case "charge.failed":
		typ = domain.EventChargeFailed
	case "transfer.success":
		typ = domain.EventTransferSucceeded
	case "transfer.failed":
		typ = domain.EventTransferFailed
	case "transfer.reversed":
		typ = domain.EventTransferReversed
	case "refund.processed":
		typ = domain.EventRefundProcessed
	default:
		return nil, apperror.ErrUnknownEvent()
	}

	eventID := wh.Event + ":" + wh.Data.Reference
	if wh.Data.ID != 0 {
		eventID = fmt.Sprintf("%s:%d", wh.Event, wh.Data.ID)
	}
	return &domain.NormalizedEvent{
		Provider:          domain.ProviderPaystack,
		Type:              typ,
		ProviderReference: wh.Data.Reference,
		ProviderEventID:   eventID,
		RawType:           wh.Event,
		Amount:            wh.Data.Amount,
		Currency:          wh.Data.Currency,
		Reason:            firstNonEmpty(wh.Data.GatewayResponse, wh.Data.Reason),
		Source:            "webhook",
		OccurredAt:        time.Now().UTC(),
	}, nil
}

func paystackMobileNetwork(currency string) string {
	if strings.EqualFold(currency, "GHS") {
		return "mtn"
	}
	return "opay"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
