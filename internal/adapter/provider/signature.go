package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"payments-ledger/pkg/apperror"
)

// CallbackTokenHeader carries the shared secret of providers that do not sign
// their callbacks. The webhook handler also copies a "token" query parameter
// into it, for providers that can only be given a URL.
const CallbackTokenHeader = "X-Callback-Token"

func signHMACSHA512(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifyHMACSHA512 checks a hex HMAC-SHA512 of the raw body. The header is
// compared as sent; providers emit lowercase hex.
func verifyHMACSHA512(secret string, body []byte, signature string) error {
	if secret == "" || signature == "" {
		return apperror.ErrInvalidSignature()
	}
	expected := signHMACSHA512(secret, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return apperror.ErrInvalidSignature()
	}
	return nil
}

// verifySharedSecret checks a header that must equal the configured secret.
func verifySharedSecret(secret, presented string) error {
	if secret == "" || presented == "" {
		return apperror.ErrInvalidSignature()
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(presented)) != 1 {
		return apperror.ErrInvalidSignature()
	}
	return nil
}

func signTimestamped(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifyTimestamped checks a "t=<unix>,v1=<hex>" header: HMAC-SHA256 over
// "<t>.<body>". Several v1 values may be present during secret rotation. A
// zero tolerance disables the timestamp window.
func verifyTimestamped(secret, header string, body []byte, now time.Time, tolerance time.Duration) error {
	if secret == "" || header == "" {
		return apperror.ErrInvalidSignature()
	}
	ts, sigs, err := parseTimestampedHeader(header)
	if err != nil {
		return apperror.ErrInvalidSignature()
	}
	if tolerance > 0 {
		skew := now.Sub(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > tolerance {
			return apperror.ErrInvalidSignature()
		}
	}
	expected := []byte(signTimestamped(secret, ts, body))
	for _, sig := range sigs {
		if hmac.Equal(expected, []byte(sig)) {
			return nil
		}
	}
	return apperror.ErrInvalidSignature()
}

func parseTimestampedHeader(header string) (int64, []string, error) {
	var (
		ts    int64
		found bool
		sigs  []string
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("bad timestamp: %w", err)
			}
			ts, found = n, true
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if !found || len(sigs) == 0 {
		return 0, nil, fmt.Errorf("incomplete signature header")
	}
	return ts, sigs, nil
}
