// Package provider holds one adapter per payment provider behind
// ports.PaymentProvider, and the registry that dispatches to them by name.
package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"payments-ledger/config"
	"payments-ledger/internal/core/domain"
	"payments-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

const maxResponseBytes = 1 << 20

// client is the JSON-over-HTTP transport shared by the adapters.
type client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

func newClient(cfg config.ProviderConfig, log zerolog.Logger) client {
	return client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log,
	}
}

// do sends a request and returns the status and body. Transport failures are
// mapped to ProviderTimeout or ProviderUnavailable; 5xx answers are
// ProviderUnavailable. Any other status is returned to the caller to interpret.
func (c client) do(ctx context.Context, method, path string, header http.Header, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return 0, nil, apperror.ErrProviderTimeout()
		}
		return 0, nil, apperror.ErrProviderUnavailable(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(err) {
			return 0, nil, apperror.ErrProviderTimeout()
		}
		return 0, nil, apperror.ErrProviderUnavailable(fmt.Errorf("read response: %w", err))
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Msg("provider call")

	if resp.StatusCode >= 500 {
		return resp.StatusCode, respBody, apperror.ErrProviderUnavailable(
			fmt.Errorf("status=%d body=%s", resp.StatusCode, truncate(respBody, 256)))
	}
	return resp.StatusCode, respBody, nil
}

// doJSON encodes in (when non-nil) as the request body and decodes the answer
// into out (when non-nil and the body is not empty).
func (c client) doJSON(ctx context.Context, method, path string, header http.Header, in, out any) (int, error) {
	if header == nil {
		header = http.Header{}
	}
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
		header.Set("Content-Type", "application/json")
	}
	header.Set("Accept", "application/json")

	status, respBody, err := c.do(ctx, method, path, header, body)
	if err != nil {
		return status, err
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil && status < 300 {
			return status, apperror.ErrProviderUnavailable(fmt.Errorf("decode response: %w", err))
		}
	}
	return status, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// profileFromConfig builds the request envelope of a provider.
func profileFromConfig(name domain.ProviderName, cfg config.ProviderConfig, canDisburse, needsPolling bool) (domain.ProviderProfile, error) {
	p := domain.ProviderProfile{
		Name:         name,
		Countries:    upperAll(cfg.Countries),
		Currencies:   upperAll(cfg.Currencies),
		MinAmount:    cfg.MinAmount,
		MaxAmount:    cfg.MaxAmount,
		CanDisburse:  canDisburse,
		NeedsPolling: needsPolling,
		Timeout:      cfg.Timeout,
	}
	if cfg.PhonePattern != "" {
		re, err := regexp.Compile(cfg.PhonePattern)
		if err != nil {
			return p, fmt.Errorf("%s phone_pattern: %w", name, err)
		}
		p.Phone = re
	}
	return p, nil
}

func upperAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return out
}

// zeroDecimal lists currencies without a minor unit.
var zeroDecimal = map[string]bool{"UGX": true, "XAF": true, "XOF": true, "RWF": true}

// majorUnits renders a minor-unit amount the way providers that take decimal
// strings expect it.
func majorUnits(amount int64, currency string) string {
	if zeroDecimal[strings.ToUpper(currency)] {
		return fmt.Sprintf("%d", amount)
	}
	return fmt.Sprintf("%d.%02d", amount/100, amount%100)
}

// minorUnits converts a decimal provider amount back to minor units.
func minorUnits(major float64, currency string) int64 {
	if zeroDecimal[strings.ToUpper(currency)] {
		return int64(math.Round(major))
	}
	return int64(math.Round(major * 100))
}

// parseMajor parses a decimal amount string into minor units. Unparseable
// input yields zero.
func parseMajor(s, currency string) int64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return minorUnits(f, currency)
}

// basicAuthHeader sets HTTP basic credentials on h and returns it.
func basicAuthHeader(h http.Header, user, pass string) http.Header {
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(user+":"+pass)))
	return h
}

// msisdn strips the leading "+" of an E.164 number.
func msisdn(phone string) string {
	return strings.TrimPrefix(phone, "+")
}

// splitCredentials splits "id:secret" style credentials.
func splitCredentials(s string) (string, string) {
	id, secret, _ := strings.Cut(s, ":")
	return id, secret
}
