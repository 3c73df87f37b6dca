package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by the ledger and funding counters.
const (
	OutcomeSuccess   = "success"
	OutcomeRejected  = "rejected"
	OutcomeConflict  = "conflict"
	OutcomeDuplicate = "duplicate"
	OutcomeFailure   = "failure"
)

// LedgerMetrics records wallet mutations, processor captures and live sessions.
type LedgerMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	captures   *prometheus.CounterVec
	sessions   prometheus.Gauge
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
// A nil registerer yields a no-op instance.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_operations_total",
		Help: "Wallet ledger operations by kind and outcome.",
	}, []string{"operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_operation_duration_seconds",
		Help:    "Latency of wallet ledger operations including the record store round trip.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	captures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_payment_captures_total",
		Help: "Card captures relayed to the payment processor by outcome.",
	}, []string{"outcome"})
	sessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wallet_active_sessions",
		Help: "Hydrated wallet sessions held in memory.",
	})
	reg.MustRegister(operations, duration, captures, sessions)
	return &LedgerMetrics{
		operations: operations,
		duration:   duration,
		captures:   captures,
		sessions:   sessions,
	}
}

// ObserveOperation counts one ledger operation and records its latency.
func (m *LedgerMetrics) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	if m == nil || m.operations == nil {
		return
	}
	operation = normalizeLabel(operation)
	m.operations.WithLabelValues(operation, normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// IncCapture counts one processor capture attempt.
func (m *LedgerMetrics) IncCapture(outcome string) {
	if m == nil || m.captures == nil {
		return
	}
	m.captures.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// SetActiveSessions publishes the number of live sessions.
func (m *LedgerMetrics) SetActiveSessions(n int) {
	if m == nil || m.sessions == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
