package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"payments-ledger/config"
	"payments-ledger/internal/core/domain"
	"payments-ledger/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) config.ProviderConfig {
	return config.ProviderConfig{
		Enabled:          true,
		BaseURL:          baseURL,
		SecretKey:        "sk_test",
		WebhookSecret:    "whsec",
		SubscriptionKey:  "sub-key",
		TargetEnv:        "sandbox",
		ShortCode:        "174379",
		Currencies:       []string{"ngn", "GHS"},
		Countries:        []string{"NG"},
		PhonePattern:     `^\+\d{12}$`,
		MinAmount:        100,
		MaxAmount:        1_000_000,
		Timeout:          2 * time.Second,
		SignatureMaxSkew: 5 * time.Minute,
	}
}

func TestClient_DoJSON_MapsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/down":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/slow":
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"declined"}`))
		}
	}))
	defer srv.Close()

	c := newClient(testConfig(srv.URL), zerolog.Nop())

	_, err := c.doJSON(context.Background(), http.MethodGet, "/down", nil, nil, nil)
	assert.ErrorIs(t, err, apperror.ErrProviderUnavailable(nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.doJSON(ctx, http.MethodGet, "/slow", nil, nil, nil)
	assert.ErrorIs(t, err, apperror.ErrProviderTimeout())

	var out struct {
		Message string `json:"message"`
	}
	status, err := c.doJSON(context.Background(), http.MethodPost, "/other", nil, map[string]int{"a": 1}, &out)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "declined", out.Message)
}

func TestClient_Unreachable(t *testing.T) {
	c := newClient(testConfig("http://127.0.0.1:1"), zerolog.Nop())

	_, err := c.doJSON(context.Background(), http.MethodGet, "/", nil, nil, nil)
	assert.ErrorIs(t, err, apperror.ErrProviderUnavailable(nil))
}

func TestProfileFromConfig(t *testing.T) {
	p, err := profileFromConfig(domain.ProviderPaystack, testConfig("http://x"), true, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"NGN", "GHS"}, p.Currencies)
	assert.True(t, p.SupportsCurrency("ngn"))
	assert.True(t, p.PhoneAllowed("+234801234567"))
	assert.False(t, p.PhoneAllowed("0801234567"))
	assert.Equal(t, 2*time.Second, p.Timeout)

	cfg := testConfig("http://x")
	cfg.PhonePattern = "("
	_, err = profileFromConfig(domain.ProviderPaystack, cfg, true, false)
	assert.Error(t, err)
}

func TestAmountConversions(t *testing.T) {
	assert.Equal(t, "150.05", majorUnits(15005, "NGN"))
	assert.Equal(t, "5000", majorUnits(5000, "UGX"))
	assert.Equal(t, int64(15005), minorUnits(150.05, "ngn"))
	assert.Equal(t, int64(5000), minorUnits(5000, "UGX"))
	assert.Equal(t, int64(5000), parseMajor("5000", "UGX"))
	assert.Equal(t, int64(0), parseMajor("n/a", "UGX"))
	assert.Equal(t, "256772123456", msisdn("+256772123456"))
}
