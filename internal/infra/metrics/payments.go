package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		paymentsTotal,
		paymentsRevenueTotal,
		webhookSignatureFailures,
		fallbackMatches,
	)
}

var (
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Payments by provider and terminal status (completed/failed).",
		},
		[]string{"provider", "status"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_kopecks_total",
			Help: "Total value of completed payments in kopecks, by provider.",
		},
		[]string{"provider"},
	)

	webhookSignatureFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_signature_failures_total",
			Help: "Inbound notifications rejected for a bad signature.",
		},
		[]string{"provider"},
	)

	fallbackMatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_fallback_matches_total",
			Help: "Notifications matched to an order by amount+time window instead of an id.",
		},
		[]string{"provider", "outcome"},
	)
)

func IncPayment(provider, status string) {
	paymentsTotal.WithLabelValues(norm(provider), norm(status)).Inc()
}

func AddPaymentRevenue(provider string, kopecks int64) {
	paymentsRevenueTotal.WithLabelValues(norm(provider)).Add(float64(kopecks))
}

func IncWebhookSignatureFailure(provider string) {
	webhookSignatureFailures.WithLabelValues(norm(provider)).Inc()
}

func IncFallbackMatch(provider string, matched bool) {
	outcome := "matched"
	if !matched {
		outcome = "unmatched"
	}
	fallbackMatches.WithLabelValues(norm(provider), outcome).Inc()
}
