package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Ledger and rewriter metrics.
var (
	LedgerConsumeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_consume_total",
			Help:      "Consumption attempts by tier and outcome",
		},
		[]string{"tier", "outcome"}, // ok, limit_exceeded, insufficient_balance, error
	)

	LedgerUnitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_units_consumed_total",
			Help:      "Units deducted from account balances",
		},
		[]string{"tier", "unit"},
	)

	LedgerRolloversTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_rollovers_total",
			Help:      "Quota rollovers applied",
		},
		[]string{"kind"}, // daily, monthly
	)

	SubscriptionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_expired_total",
			Help:      "Paid subscriptions reverted to the free tier",
		},
	)

	RewriterRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewriter_requests_total",
			Help:      "Rewrite backend calls",
		},
		[]string{"backend", "status"},
	)

	RewriterRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rewriter_request_duration_seconds",
			Help:      "Rewrite backend call duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"backend"},
	)

	RewriterTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewriter_tokens_total",
			Help:      "Tokens reported by the rewrite backend",
		},
		[]string{"backend", "type"},
	)
)

var registerOnce sync.Once

// Register registers the ledger and rewriter metrics. Safe to call repeatedly.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			LedgerConsumeTotal,
			LedgerUnitsTotal,
			LedgerRolloversTotal,
			SubscriptionsExpiredTotal,
			RewriterRequestsTotal,
			RewriterRequestDuration,
			RewriterTokensTotal,
		)
	})
}
