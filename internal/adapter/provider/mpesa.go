package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"payments-ledger/config"
	"payments-ledger/internal/core/domain"
	"payments-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

// MPesa collects KES through Safaricom's STK push. CheckoutRequestID is the
// provider reference. It does not pay out.
type MPesa struct {
	client
	profile        domain.ProviderProfile
	consumerKey    string
	consumerSecret string
	shortCode      string
	passkey        string
	callbackURL    string
	callbackToken  string
	now            func() time.Time
	tokens         *tokenCache
}

// NewMPesa builds the M-Pesa adapter. SecretKey holds
// "consumerKey:consumerSecret" and SubscriptionKey the STK passkey.
func NewMPesa(cfg config.ProviderConfig, log zerolog.Logger) (*MPesa, error) {
	profile, err := profileFromConfig(domain.ProviderMPesa, cfg, false, false)
	if err != nil {
		return nil, err
	}
	key, secret := splitCredentials(cfg.SecretKey)
	return &MPesa{
		client:         newClient(cfg, log.With().Str("provider", "mpesa").Logger()),
		profile:        profile,
		consumerKey:    key,
		consumerSecret: secret,
		shortCode:      cfg.ShortCode,
		passkey:        cfg.SubscriptionKey,
		callbackURL:    cfg.CallbackURL,
		callbackToken:  cfg.WebhookSecret,
		now:            time.Now,
		tokens:         newTokenCache(time.Now),
	}, nil
}

func (m *MPesa) Name() domain.ProviderName       { return domain.ProviderMPesa }
func (m *MPesa) Profile() domain.ProviderProfile { return m.profile }

func (m *MPesa) headers(ctx context.Context) (http.Header, error) {
	tok, err := m.tokens.get(ctx, "oauth", func(ctx context.Context) (string, time.Duration, error) {
		h := basicAuthHeader(http.Header{}, m.consumerKey, m.consumerSecret)
		var out struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   string `json:"expires_in"`
		}
		status, err := m.doJSON(ctx, http.MethodGet, "/oauth/v1/generate?grant_type=client_credentials", h, nil, &out)
		if err != nil {
			return "", 0, err
		}
		if status >= 300 || out.AccessToken == "" {
			return "", 0, apperror.ErrProviderUnavailable(fmt.Errorf("mpesa token: status=%d", status))
		}
		secs, _ := strconv.ParseInt(out.ExpiresIn, 10, 64)
		return out.AccessToken, time.Duration(secs) * time.Second, nil
	})
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+tok)
	return h, nil
}

// password is base64(shortcode + passkey + timestamp), timestamp in
// yyyyMMddHHmmss East Africa time.
func (m *MPesa) password() (string, string) {
	ts := m.now().In(eastAfrica).Format("20060102150405")
	return base64.StdEncoding.EncodeToString([]byte(m.shortCode + m.passkey + ts)), ts
}

var eastAfrica = time.FixedZone("EAT", 3*60*60)

type mpesaResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

func (m *MPesa) Initiate(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error) {
	if req.Direction == domain.IntentDirectionDisburse {
		return nil, apperror.ErrUnsupportedOperation()
	}
	h, err := m.headers(ctx)
	if err != nil {
		return nil, err
	}
	password, ts := m.password()
	phone := msisdn(req.Phone)
	body := map[string]any{
		"BusinessShortCode": m.shortCode,
		"Password":          password,
		"Timestamp":         ts,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            req.Amount / 100, // whole shillings
		"PartyA":            phone,
		"PartyB":            m.shortCode,
		"PhoneNumber":       phone,
		"CallBackURL":       m.callbackURL,
		"AccountReference":  truncateString(req.Reference, 12),
		"TransactionDesc":   firstNonEmpty(truncateString(req.Description, 13), "Payment"),
	}

	var resp mpesaResponse
	status, err := m.doJSON(ctx, http.MethodPost, "/mpesa/stkpush/v1/processrequest", h, body, &resp)
	if err != nil {
		return nil, err
	}
	if status >= 300 || resp.ResponseCode != "0" {
		return &domain.InitiateResult{
			Accepted: false,
			Message:  firstNonEmpty(resp.ErrorMessage, resp.ResponseDescription, http.StatusText(status)),
		}, nil
	}
	return &domain.InitiateResult{
		Accepted:              true,
		ProviderTransactionID: resp.CheckoutRequestID,
		Message:               resp.CustomerMessage,
	}, nil
}

func (m *MPesa) Poll(ctx context.Context, providerRef string, _ domain.IntentDirection) (*domain.PollResult, error) {
	h, err := m.headers(ctx)
	if err != nil {
		return nil, err
	}
	password, ts := m.password()
	body := map[string]string{
		"BusinessShortCode": m.shortCode,
		"Password":          password,
		"Timestamp":         ts,
		"CheckoutRequestID": providerRef,
	}

	var resp mpesaResponse
	status, err := m.doJSON(ctx, http.MethodPost, "/mpesa/stkpushquery/v1/query", h, body, &resp)
	if err != nil {
		return nil, err
	}
	res := &domain.PollResult{ProviderReference: providerRef}
	if status >= 300 || resp.ResultCode == "" {
		// the query answers an error while the push is still being processed
		res.Status = domain.PollStatusPending
		return res, nil
	}
	res.Status, res.Reason = mpesaResult(resp.ResultCode, resp.ResultDesc)
	return res, nil
}

func mpesaResult(code, desc string) (domain.PollStatus, string) {
	if code == "0" {
		return domain.PollStatusSucceeded, ""
	}
	return domain.PollStatusFailed, desc
}

type mpesaCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string          `json:"Name"`
					Value json.RawMessage `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// VerifySignature checks the shared callback token; Safaricom does not sign
// STK callbacks.
func (m *MPesa) VerifySignature(headers http.Header, body []byte) error {
	return verifySharedSecret(m.callbackToken, headers.Get(CallbackTokenHeader))
}

// Normalize maps a verified delivery to the internal taxonomy.
func (m *MPesa) Normalize(body []byte) (*domain.NormalizedEvent, error) {
	var cb mpesaCallback
	if err := json.Unmarshal(body, &cb); err != nil || cb.Body.StkCallback.CheckoutRequestID == "" {
		return nil, apperror.Validation("malformed mpesa callback")
	}
	stk := cb.Body.StkCallback

	ev := &domain.NormalizedEvent{
		Provider:          domain.ProviderMPesa,
		ProviderReference: stk.CheckoutRequestID,
		ProviderEventID:   stk.CheckoutRequestID + ":" + strconv.Itoa(stk.ResultCode),
		RawType:           "stkCallback",
		Currency:          "KES",
		Source:            "webhook",
		OccurredAt:        time.Now().UTC(),
	}
	status, reason := mpesaResult(strconv.Itoa(stk.ResultCode), stk.ResultDesc)
	ev.Reason = reason
	if status == domain.PollStatusSucceeded {
		ev.Type = domain.EventChargeSucceeded
	} else {
		ev.Type = domain.EventChargeFailed
	}
	for _, item := range stk.CallbackMetadata.Item {
		if item.Name == "Amount" {
			var f float64
			if json.Unmarshal(item.Value, &f) == nil {
				ev.Amount = minorUnits(f, "KES")
			}
		}
	}
	return ev, nil
}

func truncateString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
