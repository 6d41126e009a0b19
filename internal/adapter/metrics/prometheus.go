// Package metrics exposes the ledger's operational counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus implements ports.Metrics. A nil *Prometheus is a valid no-op.
type Prometheus struct {
	registry *prometheus.Registry

	webhooksTotal      *prometheus.CounterVec
	settlementsTotal   *prometheus.CounterVec
	pollerRunsTotal    *prometheus.CounterVec
	pollerPolled       prometheus.Gauge
	pollerSettledTotal prometheus.Counter
	pollerLastRunUnix  prometheus.Gauge
	ledgerOpsTotal     *prometheus.CounterVec
	locksExpiredTotal  prometheus.Counter
	idempotencyReplays *prometheus.CounterVec
}

// New registers the collectors on a private registry under namespace.
func New(namespace string) *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		webhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "deliveries_total",
				Help:      "Webhook deliveries partitioned by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		),
		settlementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "settlement",
				Name:      "applied_total",
				Help:      "Terminal settlement attempts partitioned by source and outcome.",
			},
			[]string{"source", "outcome"},
		),
		pollerRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "poller",
				Name:      "runs_total",
				Help:      "Reconciliation runs partitioned by result.",
			},
			[]string{"result"},
		),
		pollerPolled: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "poller",
				Name:      "last_polled",
				Help:      "Intents polled in the most recent run.",
			},
		),
		pollerSettledTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "poller",
				Name:      "settled_total",
				Help:      "Intents settled by the poller.",
			},
		),
		pollerLastRunUnix: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "poller",
				Name:      "last_run_unix",
				Help:      "Unix time of the most recent run.",
			},
		),
		ledgerOpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger mutations partitioned by operation and result.",
			},
			[]string{"op", "result"},
		),
		locksExpiredTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "locks_expired_total",
				Help:      "Fund locks released after their expiry.",
			},
		),
		idempotencyReplays: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "idempotency",
				Name:      "replays_total",
				Help:      "Stored responses replayed, by scope.",
			},
			[]string{"scope"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Prometheus) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Prometheus) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Prometheus) WebhookReceived(provider, outcome string) {
	if m == nil {
		return
	}
	m.webhooksTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *Prometheus) SettlementApplied(source, outcome string) {
	if m == nil {
		return
	}
	m.settlementsTotal.WithLabelValues(source, outcome).Inc()
}

func (m *Prometheus) PollerRun(polled, settled int, err error) {
	if m == nil {
		return
	}
	m.pollerLastRunUnix.Set(float64(time.Now().UTC().Unix()))
	m.pollerPolled.Set(float64(polled))
	if err != nil {
		m.pollerRunsTotal.WithLabelValues("error").Inc()
	} else {
		m.pollerRunsTotal.WithLabelValues("success").Inc()
	}
	if settled > 0 {
		m.pollerSettledTotal.Add(float64(settled))
	}
}

func (m *Prometheus) LedgerOperation(op, result string) {
	if m == nil {
		return
	}
	m.ledgerOpsTotal.WithLabelValues(op, result).Inc()
}

func (m *Prometheus) LocksExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.locksExpiredTotal.Add(float64(n))
}

func (m *Prometheus) IdempotencyReplay(scope string) {
	if m == nil {
		return
	}
	m.idempotencyReplays.WithLabelValues(scope).Inc()
}
