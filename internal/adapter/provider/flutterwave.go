package provider

import (
	"context"
	"encoding/json"
	"fmt"
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

// Flutterwave charges mobile money per market and falls back to a hosted
// payment link where no mobile money rail exists.
type Flutterwave struct {
	client
	profile     domain.ProviderProfile
	secretKey   string
	verifHash   string
	callbackURL string
}

type flutterwaveEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type flutterwaveTransaction struct {
	ID          int64   `json:"id"`
	TxRef       string  `json:"tx_ref"`
	Reference   string  `json:"reference"`
	Status      string  `json:"status"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Processor   string  `json:"processor_response"`
	CompleteMsg string  `json:"complete_message"`
	Link        string  `json:"link"`
}

// mobile money charge types by currency
var flutterwaveChargeTypes = map[string]string{
	"GHS": "mobile_money_ghana",
	"KES": "mpesa",
	"UGX": "mobile_money_uganda",
}

// NewFlutterwave builds the Flutterwave adapter.
func NewFlutterwave(cfg config.ProviderConfig, log zerolog.Logger) (*Flutterwave, error) {
	profile, err := profileFromConfig(domain.ProviderFlutterwave, cfg, true, false)
	if err != nil {
		return nil, err
	}
	return &Flutterwave{
		client:      newClient(cfg, log.With().Str("provider", "flutterwave").Logger()),
		profile:     profile,
		secretKey:   cfg.SecretKey,
		verifHash:   cfg.WebhookSecret,
		callbackURL: cfg.CallbackURL,
	}, nil
}

func (f *Flutterwave) Name() domain.ProviderName       { return domain.ProviderFlutterwave }
func (f *Flutterwave) Profile() domain.ProviderProfile { return f.profile }

func (f *Flutterwave) headers() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+f.secretKey)
	return h
}

func (f *Flutterwave) Initiate(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error) {
	currency := strings.ToUpper(req.Currency)
	amount, _ := strconv.ParseFloat(majorUnits(req.Amount, currency), 64)

	var (
		path string
		body map[string]any
	)
	switch {
	case req.Direction == domain.IntentDirectionDisburse:
		path = "/v3/transfers"
		body = map[string]any{
			"account_bank":     "MPS",
			"account_number":   msisdn(req.Phone),
			"amount":           amount,
			"currency":         currency,
			"narration":        req.Description,
			"reference":        req.Reference,
			"beneficiary_name": req.Description,
		}
		if currency != "KES" {
			body["account_bank"] = "MTN"
		}
	case flutterwaveChargeTypes[currency] != "" && req.Phone != "":
		path = "/v3/charges?type=" + flutterwaveChargeTypes[currency]
		body = map[string]any{
			"tx_ref":       req.Reference,
			"amount":       amount,
			"currency":     currency,
			"phone_number": msisdn(req.Phone),
			"email":        firstNonEmpty(req.Email, msisdn(req.Phone)+"@customers.invalid"),
		}
		if currency == "GHS" {
			body["network"] = "MTN"
		}
	default:
		path = "/v3/payments"
		body = map[string]any{
			"tx_ref":       req.Reference,
			"amount":       amount,
			"currency":     currency,
			"redirect_url": f.callbackURL,
			"customer": map[string]string{
				"email":       firstNonEmpty(req.Email, msisdn(req.Phone)+"@customers.invalid"),
				"phonenumber": req.Phone,
			},
		}
	}

	var env flutterwaveEnvelope
	status, err := f.doJSON(ctx, http.MethodPost, path, f.headers(), body, &env)
	if err != nil {
		return nil, err
	}
	if status >= 300 || env.Status != "success" {
		return &domain.InitiateResult{Accepted: false, Message: env.Message}, nil
	}

	var tx flutterwaveTransaction
	_ = json.Unmarshal(env.Data, &tx)
	return &domain.InitiateResult{
		Accepted:              true,
		ProviderTransactionID: req.Reference,
		Message:               env.Message,
		CheckoutURL:           tx.Link,
	}, nil
}

func (f *Flutterwave) Poll(ctx context.Context, providerRef string, direction domain.IntentDirection) (*domain.PollResult, error) {
	path := "/v3/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(providerRef)
	if direction == domain.IntentDirectionDisburse {
		path = "/v3/transfers?reference=" + url.QueryEscape(providerRef)
	}

	var env flutterwaveEnvelope
	status, err := f.doJSON(ctx, http.MethodGet, path, f.headers(), nil, &env)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return &domain.PollResult{Status: domain.PollStatusPending, ProviderReference: providerRef}, nil
	}
	if status >= 300 {
		return nil, apperror.ErrProviderUnavailable(fmt.Errorf("verify %s: status=%d %s", providerRef, status, env.Message))
	}

	var tx flutterwaveTransaction
	if direction == domain.IntentDirectionDisburse {
		var list []flutterwaveTransaction
		if err := json.Unmarshal(env.Data, &list); err != nil {
			return nil, apperror.ErrProviderUnavailable(fmt.Errorf("decode transfers: %w", err))
		}
		if len(list) == 0 {
			return &domain.PollResult{Status: domain.PollStatusPending, ProviderReference: providerRef}, nil
		}
		tx = list[0]
	} else if err := json.Unmarshal(env.Data, &tx); err != nil {
		return nil, apperror.ErrProviderUnavailable(fmt.Errorf("decode verify: %w", err))
	}

	return &domain.PollResult{
		Status:            flutterwaveStatus(tx.Status),
		Reason:            firstNonEmpty(tx.CompleteMsg, tx.Processor),
		ProviderReference: providerRef,
		Amount:            minorUnits(tx.Amount, tx.Currency),
		Currency:          tx.Currency,
	}, nil
}

func flutterwaveStatus(s string) domain.PollStatus {
	switch strings.ToLower(s) {
	case "successful":
		return domain.PollStatusSucceeded
	case "failed", "cancelled":
		return domain.PollStatusFailed
	case "reversed":
		return domain.PollStatusReversed
	default:
		return domain.PollStatusPending
	}
}

type flutterwaveWebhook struct {
	Event string                 `json:"event"`
	Data  flutterwaveTransaction `json:"data"`
}

// VerifySignature compares the verif-hash header with the configured
// secret hash.
func (f *Flutterwave) VerifySignature(headers http.Header, body []byte) error {
	return verifySharedSecret(f.verifHash, headers.Get("verif-hash"))
}

// Normalize maps a verified delivery to the internal taxonomy.
func (f *Flutterwave) Normalize(body []byte) (*domain.NormalizedEvent, error) {
	var wh flutterwaveWebhook
	if err := json.Unmarshal(body, &wh); err != nil {
		return nil, apperror.Validation("malformed flutterwave payload")
	}

	status := flutterwaveStatus(wh.Data.Status)
	var (
		typ domain.EventType
		ref string
	)
	switch wh.Event {
	case "charge.completed":
		ref = wh.Data.TxRef
		switch status {
		case domain.PollStatusSucceeded:
			typ = domain.EventChargeSucceeded
		case domain.PollStatusFailed:
			typ = domain.EventChargeFailed
		}
	case "transfer.completed":
		ref = wh.Data.Reference
		switch status {
		case domain.PollStatusSucceeded:
			typ = domain.EventTransferSucceeded
		case domain.PollStatusFailed:
			typ = domain.EventTransferFailed
		case domain.PollStatusReversed:
			typ = domain.EventTransferReversed
		}
	case "refund.completed":
		ref = firstNonEmpty(wh.Data.TxRef, wh.Data.Reference)
		typ = domain.EventRefundProcessed
	}
	if typ == "" {
		return nil, apperror.ErrUnknownEvent()
	}

	return &domain.NormalizedEvent{
		Provider:          domain.ProviderFlutterwave,
		Type:              typ,
		ProviderReference: ref,
		ProviderEventID:   fmt.Sprintf("%s:%d:%s", wh.Event, wh.Data.ID, strings.ToLower(wh.Data.Status)),
		RawType:           wh.Event,
		Amount:            minorUnits(wh.Data.Amount, wh.Data.Currency),
		Currency:          wh.Data.Currency,
		Reason:            firstNonEmpty(wh.Data.CompleteMsg, wh.Data.Processor),
		Source:            "webhook",
		OccurredAt:        time.Now().UTC(),
	}, nil
}
