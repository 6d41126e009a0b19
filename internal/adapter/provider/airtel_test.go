package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"payments-ledger/internal/core/domain"
	"payments-ledger/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAirtel(t *testing.T, mux *http.ServeMux) *Airtel {
	t.Helper()
	mux.HandleFunc("POST /auth/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "client-id", body["client_id"])
		assert.Equal(t, "client_credentials", body["grant_type"])
		_, _ = w.Write([]byte(`{"access_token":"airtel-tok","expires_in":7200}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL)
	cfg.SecretKey = "client-id:client-secret"
	cfg.Currencies = []string{"UGX", "KES"}
	a, err := NewAirtel(cfg, zerolog.Nop())
	require.NoError(t, err)
	return a
}

func TestAirtel_InitiateCollection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /merchant/v1/payments/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer airtel-tok", r.Header.Get("Authorization"))
		assert.Equal(t, "KE", r.Header.Get("X-Country"))
		assert.Equal(t, "KES", r.Header.Get("X-Currency"))

		var body struct {
			Subscriber  map[string]string `json:"subscriber"`
			Transaction map[string]string `json:"transaction"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "712345678", body.Subscriber["msisdn"])
		assert.Equal(t, "10.00", body.Transaction["amount"])
		assert.Equal(t, "intent-1", body.Transaction["id"])

		_, _ = w.Write([]byte(`{"data":{"transaction":{"id":"intent-1","status":"Success."}},"status":{"code":"200","message":"SUCCESS","response_code":"DP00800001006","success":true}}`))
	})
	a := newAirtel(t, mux)

	res, err := a.Initiate(context.Background(), domain.InitiateRequest{
		Reference: "intent-1", Phone: "+254712345678", Amount: 1000, Currency: "KES",
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "intent-1", res.ProviderTransactionID)
}

func TestAirtel_InitiateUnknownMarket(t *testing.T) {
	a := newAirtel(t, http.NewServeMux())

	_, err := a.Initiate(context.Background(), domain.InitiateRequest{Reference: "x", Amount: 1000, Currency: "USD"})
	assert.ErrorIs(t, err, apperror.ErrInvalidCurrency())
}

func TestAirtel_Poll(t *testing.T) {
	tests := []struct {
		code string
		want domain.PollStatus
	}{
		{"TS", domain.PollStatusSucceeded},
		{"TF", domain.PollStatusFailed},
		{"TIP", domain.PollStatusPending},
		{"TA", domain.PollStatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("GET /standard/v1/disbursements/{id}", func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "intent-9", r.PathValue("id"))
				_, _ = w.Write([]byte(`{"data":{"transaction":{"id":"intent-9","status":"` + tt.code + `"}},"status":{"success":true}}`))
			})
			a := newAirtel(t, mux)

			res, err := a.Poll(context.Background(), "intent-9", domain.IntentDirectionDisburse)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)
		})
	}
}

func TestAirtel_Webhook(t *testing.T) {
	a := newAirtel(t, http.NewServeMux())
	h := http.Header{}
	h.Set(CallbackTokenHeader, "whsec")

	ev, err := verifyAndNormalize(a, h, []byte(`{"transaction":{"id":"intent-1","message":"Paid","status_code":"TS","airtel_money_id":"MP1"}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.EventChargeSucceeded, ev.Type)
	assert.Equal(t, "intent-1", ev.ProviderReference)
	assert.Equal(t, "intent-1:TS", ev.ProviderEventID)

	ev, err = verifyAndNormalize(a, h, []byte(`{"transaction":{"id":"intent-2","message":"Insufficient funds","status_code":"TF"}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.EventChargeFailed, ev.Type)
	assert.Equal(t, domain.EventTransferFailed, ev.Type.ForDirection(domain.IntentDirectionDisburse))

	_, err = verifyAndNormalize(a, http.Header{}, []byte(`{}`))
	assert.ErrorIs(t, err, apperror.ErrInvalidSignature())
}
