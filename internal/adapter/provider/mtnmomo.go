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

// MTNMoMo talks to the MTN MoMo collection and disbursement products. The
// intent ID is sent as X-Reference-Id and externalId, so it is also the
// provider reference. Callbacks are unsigned and unreliable; intents are
// reconciled by polling.
type MTNMoMo struct {
	client
	profile         domain.ProviderProfile
	apiUser         string
	apiKey          string
	subscriptionKey string
	targetEnv       string
	callbackURL     string
	callbackToken   string
	tokens          *tokenCache // by product
}

type momoParty struct {
	PartyIDType string `json:"partyIdType"`
	PartyID     string `json:"partyId"`
}

type momoTransaction struct {
	Amount                 string          `json:"amount"`
	Currency               string          `json:"currency"`
	FinancialTransactionID string          `json:"financialTransactionId"`
	ExternalID             string          `json:"externalId"`
	Payer                  *momoParty      `json:"payer,omitempty"`
	Payee                  *momoParty      `json:"payee,omitempty"`
	Status                 string          `json:"status"`
	Reason                 json.RawMessage `json:"reason,omitempty"`
}

// NewMTNMoMo builds the MTN MoMo adapter. SecretKey holds "apiUser:apiKey".
func NewMTNMoMo(cfg config.ProviderConfig, log zerolog.Logger) (*MTNMoMo, error) {
	profile, err := profileFromConfig(domain.ProviderMTNMoMo, cfg, true, true)
	if err != nil {
		return nil, err
	}
	user, key := splitCredentials(cfg.SecretKey)
	return &MTNMoMo{
		client:          newClient(cfg, log.With().Str("provider", "mtn_momo").Logger()),
		profile:         profile,
		apiUser:         user,
		apiKey:          key,
		subscriptionKey: cfg.SubscriptionKey,
		targetEnv:       cfg.TargetEnv,
		callbackURL:     cfg.CallbackURL,
		callbackToken:   cfg.WebhookSecret,
		tokens:          newTokenCache(time.Now),
	}, nil
}

func (m *MTNMoMo) Name() domain.ProviderName       { return domain.ProviderMTNMoMo }
func (m *MTNMoMo) Profile() domain.ProviderProfile { return m.profile }

func momoProduct(direction domain.IntentDirection) string {
	if direction == domain.IntentDirectionDisburse {
		return "disbursement"
	}
	return "collection"
}

func (m *MTNMoMo) token(ctx context.Context, product string) (string, error) {
	return m.tokens.get(ctx, product, func(ctx context.Context) (string, time.Duration, error) {
		h := http.Header{}
		h.Set("Ocp-Apim-Subscription-Key", m.subscriptionKey)
		basicAuthHeader(h, m.apiUser, m.apiKey)

		var out struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int64  `json:"expires_in"`
		}
		status, err := m.doJSON(ctx, http.MethodPost, "/"+product+"/token/", h, nil, &out)
		if err != nil {
			return "", 0, err
		}
		if status >= 300 || out.AccessToken == "" {
			return "", 0, apperror.ErrProviderUnavailable(fmt.Errorf("%s token: status=%d", product, status))
		}
		return out.AccessToken, time.Duration(out.ExpiresIn) * time.Second, nil
	})
}

func (m *MTNMoMo) headers(ctx context.Context, product string) (http.Header, error) {
	tok, err := m.token(ctx, product)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+tok)
	h.Set("Ocp-Apim-Subscription-Key", m.subscriptionKey)
	h.Set("X-Target-Environment", m.targetEnv)
	return h, nil
}

func (m *MTNMoMo) Initiate(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error) {
	product := momoProduct(req.Direction)
	h, err := m.headers(ctx, product)
	if err != nil {
		return nil, err
	}
	h.Set("X-Reference-Id", req.Reference)
	if m.callbackURL != "" {
		h.Set("X-Callback-Url", m.callbackURL)
	}

	party := &momoParty{PartyIDType: "MSISDN", PartyID: msisdn(req.Phone)}
	body := momoTransaction{
		Amount:     majorUnits(req.Amount, req.Currency),
		Currency:   strings.ToUpper(req.Currency),
		ExternalID: req.Reference,
	}
	path := "/collection/v1_0/requesttopay"
	if req.Direction == domain.IntentDirectionDisburse {
		path = "/disbursement/v1_0/transfer"
		body.Payee = party
	} else {
		body.Payer = party
	}
	payload := struct {
		momoTransaction
		PayerMessage string `json:"payerMessage"`
		PayeeNote    string `json:"payeeNote"`
	}{body, req.Description, req.Description}

	var errBody struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	status, err := m.doJSON(ctx, http.MethodPost, path, h, payload, &errBody)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusAccepted:
	case status == http.StatusConflict:
		// same X-Reference-Id already submitted
	default:
		return &domain.InitiateResult{Accepted: false, Message: firstNonEmpty(errBody.Message, errBody.Code, http.StatusText(status))}, nil
	}
	return &domain.InitiateResult{
		Accepted:              true,
		ProviderTransactionID: req.Reference,
		Message:               "awaiting customer approval",
	}, nil
}

func (m *MTNMoMo) Poll(ctx context.Context, providerRef string, direction domain.IntentDirection) (*domain.PollResult, error) {
	product := momoProduct(direction)
	h, err := m.headers(ctx, product)
	if err != nil {
		return nil, err
	}
	path := "/collection/v1_0/requesttopay/" + url.PathEscape(providerRef)
	if direction == domain.IntentDirectionDisburse {
		path = "/disbursement/v1_0/transfer/" + url.PathEscape(providerRef)
	}

	var tx momoTransaction
	status, err := m.doJSON(ctx, http.MethodGet, path, h, nil, &tx)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return &domain.PollResult{Status: domain.PollStatusPending, ProviderReference: providerRef}, nil
	}
	if status >= 300 {
		return nil, apperror.ErrProviderUnavailable(fmt.Errorf("status %s: %d", providerRef, status))
	}
	return &domain.PollResult{
		Status:            momoStatus(tx.Status),
		Reason:            momoReason(tx.Reason),
		ProviderReference: providerRef,
		Amount:            parseMajor(tx.Amount, tx.Currency),
		Currency:          tx.Currency,
	}, nil
}

// VerifySignature checks the shared callback token.
func (m *MTNMoMo) VerifySignature(headers http.Header, body []byte) error {
	return verifySharedSecret(m.callbackToken, headers.Get(CallbackTokenHeader))
}

// Normalize maps a verified delivery. MoMo sends the same document for
// collections and transfers; a payer means a collection.
func (m *MTNMoMo) Normalize(body []byte) (*domain.NormalizedEvent, error) {
	var tx momoTransaction
	if err := json.Unmarshal(body, &tx); err != nil || tx.ExternalID == "" {
		return nil, apperror.Validation("malformed mtn momo callback")
	}

	collect := tx.Payee == nil
	var typ domain.EventType
	switch momoStatus(tx.Status) {
	case domain.PollStatusSucceeded:
		typ = domain.EventTransferSucceeded
		if collect {
			typ = domain.EventChargeSucceeded
		}
	case domain.PollStatusFailed:
		typ = domain.EventTransferFailed
		if collect {
			typ = domain.EventChargeFailed
		}
	default:
		return nil, apperror.ErrUnknownEvent()
	}

	return &domain.NormalizedEvent{
		Provider:          domain.ProviderMTNMoMo,
		Type:              typ,
		ProviderReference: tx.ExternalID,
		ProviderEventID:   tx.ExternalID + ":" + strings.ToUpper(tx.Status),
		RawType:           tx.Status,
		Amount:            parseMajor(tx.Amount, tx.Currency),
		Currency:          tx.Currency,
		Reason:            momoReason(tx.Reason),
		Source:            "webhook",
		OccurredAt:        time.Now().UTC(),
	}, nil
}

func momoStatus(s string) domain.PollStatus {
	switch strings.ToUpper(s) {
	case "SUCCESSFUL":
		return domain.PollStatusSucceeded
	case "FAILED", "REJECTED", "TIMEOUT":
		return domain.PollStatusFailed
	default:
		return domain.PollStatusPending
	}
}

// momoReason accepts both the string and the {code,message} forms.
func momoReason(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return firstNonEmpty(obj.Message, obj.Code)
	}
	return ""
}
