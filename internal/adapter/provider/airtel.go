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

// Airtel talks to Airtel Money collections and disbursements. The intent ID is
// the transaction id and the provider reference. Callbacks carry no direction,
// so they normalize to charge events and the intent decides the side.
type Airtel struct {
	client
	profile       domain.ProviderProfile
	clientID      string
	clientSecret  string
	callbackToken string
	tokens        *tokenCache
}

type airtelMarket struct {
	country string
	dial    string
}

var airtelMarkets = map[string]airtelMarket{
	"UGX": {"UG", "256"},
	"KES": {"KE", "254"},
	"ZMW": {"ZM", "260"},
	"TZS": {"TZ", "255"},
	"RWF": {"RW", "250"},
}

type airtelResponse struct {
	Data struct {
		Transaction struct {
			ID            string `json:"id"`
			Status        string `json:"status"`
			Message       string `json:"message"`
			AirtelMoneyID string `json:"airtel_money_id"`
		} `json:"transaction"`
	} `json:"data"`
	Status struct {
		Code         string `json:"code"`
		Message      string `json:"message"`
		ResponseCode string `json:"response_code"`
		Success      bool   `json:"success"`
	} `json:"status"`
}

// NewAirtel builds the Airtel Money adapter. SecretKey holds
// "clientID:clientSecret".
func NewAirtel(cfg config.ProviderConfig, log zerolog.Logger) (*Airtel, error) {
	profile, err := profileFromConfig(domain.ProviderAirtel, cfg, true, true)
	if err != nil {
		return nil, err
	}
	id, secret := splitCredentials(cfg.SecretKey)
	return &Airtel{
		client:        newClient(cfg, log.With().Str("provider", "airtel").Logger()),
		profile:       profile,
		clientID:      id,
		clientSecret:  secret,
		callbackToken: cfg.WebhookSecret,
		tokens:        newTokenCache(time.Now),
	}, nil
}

func (a *Airtel) Name() domain.ProviderName       { return domain.ProviderAirtel }
func (a *Airtel) Profile() domain.ProviderProfile { return a.profile }

func (a *Airtel) headers(ctx context.Context, currency string) (http.Header, error) {
	tok, err := a.tokens.get(ctx, "oauth", func(ctx context.Context) (string, time.Duration, error) {
		var out struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int64  `json:"expires_in"`
		}
		body := map[string]string{
			"client_id":     a.clientID,
			"client_secret": a.clientSecret,
			"grant_type":    "client_credentials",
		}
		status, err := a.doJSON(ctx, http.MethodPost, "/auth/oauth2/token", nil, body, &out)
		if err != nil {
			return "", 0, err
		}
		if status >= 300 || out.AccessToken == "" {
			return "", 0, apperror.ErrProviderUnavailable(fmt.Errorf("airtel token: status=%d", status))
		}
		return out.AccessToken, time.Duration(out.ExpiresIn) * time.Second, nil
	})
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set("Authorization", "Bearer "+tok)
	if m, ok := airtelMarkets[strings.ToUpper(currency)]; ok {
		h.Set("X-Country", m.country)
		h.Set("X-Currency", strings.ToUpper(currency))
	}
	return h, nil
}

// localNumber strips the market's dialing code; Airtel wants national numbers.
func (a *Airtel) localNumber(phone, currency string) string {
	n := msisdn(phone)
	if m, ok := airtelMarkets[strings.ToUpper(currency)]; ok {
		n = strings.TrimPrefix(n, m.dial)
	}
	return n
}

func (a *Airtel) Initiate(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error) {
	currency := strings.ToUpper(req.Currency)
	market, ok := airtelMarkets[currency]
	if !ok {
		return nil, apperror.ErrInvalidCurrency()
	}
	h, err := a.headers(ctx, currency)
	if err != nil {
		return nil, err
	}

	amount := majorUnits(req.Amount, currency)
	var (
		path string
		body map[string]any
	)
	if req.Direction == domain.IntentDirectionDisburse {
		path = "/standard/v1/disbursements/"
		body = map[string]any{
			"payee":     map[string]string{"msisdn": a.localNumber(req.Phone, currency)},
			"reference": firstNonEmpty(req.Description, req.Reference),
			"transaction": map[string]string{
				"amount": amount,
				"id":     req.Reference,
			},
		}
	} else {
		path = "/merchant/v1/payments/"
		body = map[string]any{
			"reference": firstNonEmpty(req.Description, req.Reference),
			"subscriber": map[string]string{
				"country":  market.country,
				"currency": currency,
				"msisdn":   a.localNumber(req.Phone, currency),
			},
			"transaction": map[string]string{
				"amount":   amount,
				"country":  market.country,
				"currency": currency,
				"id":       req.Reference,
			},
		}
	}

	var resp airtelResponse
	status, err := a.doJSON(ctx, http.MethodPost, path, h, body, &resp)
	if err != nil {
		return nil, err
	}
	if status >= 300 || !resp.Status.Success {
		return &domain.InitiateResult{
			Accepted: false,
			Message:  firstNonEmpty(resp.Status.Message, resp.Status.ResponseCode, http.StatusText(status)),
		}, nil
	}
	return &domain.InitiateResult{
		Accepted:              true,
		ProviderTransactionID: req.Reference,
		Message:               resp.Status.Message,
	}, nil
}

func (a *Airtel) Poll(ctx context.Context, providerRef string, direction domain.IntentDirection) (*domain.PollResult, error) {
	h, err := a.headers(ctx, a.defaultCurrency())
	if err != nil {
		return nil, err
	}
	path := "/standard/v1/payments/" + url.PathEscape(providerRef)
	if direction == domain.IntentDirectionDisburse {
		path = "/standard/v1/disbursements/" + url.PathEscape(providerRef)
	}

	var resp airtelResponse
	status, err := a.doJSON(ctx, http.MethodGet, path, h, nil, &resp)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return &domain.PollResult{Status: domain.PollStatusPending, ProviderReference: providerRef}, nil
	}
	if status >= 300 {
		return nil, apperror.ErrProviderUnavailable(fmt.Errorf("enquiry %s: status=%d", providerRef, status))
	}
	tx := resp.Data.Transaction
	return &domain.PollResult{
		Status:            airtelStatus(tx.Status),
		Reason:            firstNonEmpty(tx.Message, resp.Status.Message),
		ProviderReference: providerRef,
	}, nil
}

func (a *Airtel) defaultCurrency() string {
	if len(a.profile.Currencies) > 0 {
		return a.profile.Currencies[0]
	}
	return ""
}

func airtelStatus(code string) domain.PollStatus {
	switch strings.ToUpper(code) {
	case "TS":
		return domain.PollStatusSucceeded
	case "TF", "TE":
		return domain.PollStatusFailed
	default: // TIP, TA
		return domain.PollStatusPending
	}
}

type airtelCallback struct {
	Transaction struct {
		ID            string `json:"id"`
		Message       string `json:"message"`
		StatusCode    string `json:"status_code"`
		AirtelMoneyID string `json:"airtel_money_id"`
	} `json:"transaction"`
}

// VerifySignature checks the shared callback token.
func (a *Airtel) VerifySignature(headers http.Header, body []byte) error {
	return verifySharedSecret(a.callbackToken, headers.Get(CallbackTokenHeader))
}

// Normalize maps a verified delivery to the internal taxonomy.
func (a *Airtel) Normalize(body []byte) (*domain.NormalizedEvent, error) {
	var cb airtelCallback
	if err := json.Unmarshal(body, &cb); err != nil || cb.Transaction.ID == "" {
		return nil, apperror.Validation("malformed airtel callback")
	}

	var typ domain.EventType
	switch airtelStatus(cb.Transaction.StatusCode) {
	case domain.PollStatusSucceeded:
		typ = domain.EventChargeSucceeded
	case domain.PollStatusFailed:
		typ = domain.EventChargeFailed
	default:
		return nil, apperror.ErrUnknownEvent()
	}

	return &domain.NormalizedEvent{
		Provider:          domain.ProviderAirtel,
		Type:              typ,
		ProviderReference: cb.Transaction.ID,
		ProviderEventID:   cb.Transaction.ID + ":" + strings.ToUpper(cb.Transaction.StatusCode),
		RawType:           cb.Transaction.StatusCode,
		Reason:            cb.Transaction.Message,
		Source:            "webhook",
		OccurredAt:        time.Now().UTC(),
	}, nil
}
