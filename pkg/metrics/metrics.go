package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GateDecisions counts gate evaluations by outcome (ok|email_unverified|tos_not_accepted|suspended).
	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrverify_gate_decisions_total",
			Help: "Total number of access gate evaluations",
		},
		[]string{"reason"},
	)

	// VerificationTokens records token lifecycle events (issued|consumed|expired|invalid).
	VerificationTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrverify_verification_tokens_total",
			Help: "Total number of verification token events",
		},
		[]string{"kind", "event"},
	)

	// QuotaAdmissions counts quota increment attempts by result (admitted|rejected).
	QuotaAdmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrverify_quota_admissions_total",
			Help: "Total number of quota admission checks",
		},
		[]string{"result"},
	)

	// TermsAcceptances counts acceptance ledger writes by result (recorded|stale).
	TermsAcceptances = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrverify_terms_acceptances_total",
			Help: "Total number of terms acceptance attempts",
		},
		[]string{"result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qrverify_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
