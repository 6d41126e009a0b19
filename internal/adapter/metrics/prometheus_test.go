package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"payments-ledger/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ ports.Metrics = (*Prometheus)(nil)

func TestPrometheus_Counters(t *testing.T) {
	m := New("wallet_ledger")

	m.WebhookReceived("paystack", "applied")
	m.WebhookReceived("paystack", "applied")
	m.WebhookReceived("stripe", "invalid_signature")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.webhooksTotal.WithLabelValues("paystack", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhooksTotal.WithLabelValues("stripe", "invalid_signature")))

	m.SettlementApplied("poll", "conflict")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.settlementsTotal.WithLabelValues("poll", "conflict")))

	m.LedgerOperation("transfer", "ok")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerOpsTotal.WithLabelValues("transfer", "ok")))

	m.LocksExpired(3)
	m.LocksExpired(0)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.locksExpiredTotal))

	m.IdempotencyReplay("topup")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.idempotencyReplays.WithLabelValues("topup")))
}

func TestPrometheus_PollerRun(t *testing.T) {
	m := New("wallet_ledger")

	m.PollerRun(5, 2, nil)
	m.PollerRun(1, 0, errors.New("provider down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.pollerRunsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pollerRunsTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pollerPolled))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pollerSettledTotal))
}

func TestPrometheus_NilIsNoop(t *testing.T) {
	var m *Prometheus
	assert.NotPanics(t, func() {
		m.WebhookReceived("paystack", "applied")
		m.SettlementApplied("webhook", "applied")
		m.PollerRun(1, 1, nil)
		m.LedgerOperation("credit", "ok")
		m.LocksExpired(1)
		m.IdempotencyReplay("transfer")
	})
	assert.Nil(t, m.Registry())
}

func TestPrometheus_Handler(t *testing.T) {
	m := New("wallet_ledger")
	m.LedgerOperation("debit", "insufficient_balance")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `wallet_ledger_ledger_operations_total{op="debit",result="insufficient_balance"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
