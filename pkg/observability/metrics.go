package observability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mcclellann/coopledger/pkg/reconcile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors on a private registry.
// A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	schedules       *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	repayments      prometheus.Counter
	auditRuns       prometheus.Counter
	requests        *prometheus.HistogramVec
}

// NewMetrics registers the service collectors plus the Go runtime and process
// collectors.
func NewMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": serviceName}

	m := &Metrics{
		registry: reg,
		schedules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "coopledger_schedules_computed_total",
			Help:        "Amortization schedules computed, by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "coopledger_reconciliations_total",
			Help:        "Ledger reconciliations, by ledger and outcome.",
			ConstLabels: labels,
		}, []string{"ledger", "outcome"}),
		repayments: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "coopledger_repayments_recorded_total",
			Help:        "Loan repayments recorded.",
			ConstLabels: labels,
		}),
		auditRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "coopledger_audit_runs_total",
			Help:        "Completed ledger audit passes.",
			ConstLabels: labels,
		}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "coopledger_http_request_duration_seconds",
			Help:        "HTTP request latency, by route template, method and status code.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"route", "method", "code"}),
	}

	reg.MustRegister(
		m.schedules,
		m.reconciliations,
		m.repayments,
		m.auditRuns,
		m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ScheduleComputed(kind string) {
	if m == nil {
		return
	}
	m.schedules.WithLabelValues(kind).Inc()
}

// ReconcileOutcome counts a reconciliation of the given ledger ("loan" or
// "savings") by the class of its error.
func (m *Metrics) ReconcileOutcome(ledger string, err error) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(ledger, outcome(err)).Inc()
}

func (m *Metrics) RepaymentRecorded() {
	if m == nil {
		return
	}
	m.repayments.Inc()
}

func (m *Metrics) AuditRun() {
	if m == nil {
		return
	}
	m.auditRuns.Inc()
}

func (m *Metrics) ObserveRequest(route, method string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(code)).Observe(elapsed.Seconds())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, reconcile.ErrLedgerInconsistency):
		return "inconsistent"
	case errors.Is(err, reconcile.ErrUnorderedEvents):
		return "unordered"
	default:
		return "error"
	}
}
