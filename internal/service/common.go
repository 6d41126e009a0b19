package service

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"payments-ledger/internal/core/ports"
	"payments-ledger/pkg/apperror"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// normalizeCurrency upper-cases an ISO 4217 code and rejects anything else.
func normalizeCurrency(currency string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(currency))
	if !currencyPattern.MatchString(c) {
		return "", apperror.ErrInvalidCurrency()
	}
	return c, nil
}

// storageErr passes AppErrors through and wraps anything else as a
// persistence failure.
func storageErr(op string, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.ErrPersistence(fmt.Errorf("%s: %w", op, err))
}

type noopMetrics struct{}

func (noopMetrics) WebhookReceived(string, string)   {}
func (noopMetrics) SettlementApplied(string, string) {}
func (noopMetrics) PollerRun(int, int, error)        {}
func (noopMetrics) LedgerOperation(string, string)   {}
func (noopMetrics) LocksExpired(int)                 {}
func (noopMetrics) IdempotencyReplay(string)         {}

func metricsOrNoop(m ports.Metrics) ports.Metrics {
	if m == nil {
		return noopMetrics{}
	}
	return m
}

// resultLabel is the metrics label for an operation outcome.
func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if code := apperror.CodeOf(err); code != "" {
		return code
	}
	return "error"
}
