package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		subscriptionsGranted,
		provisionLatencyMs,
		provisionRetries,
	)
}

var (
	subscriptionsGranted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscriptions_granted_total",
			Help: "Grants created per plan.",
		},
		[]string{"plan"},
	)

	provisionLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provision_calls_latency_ms",
			Help:    "Provisioner RPC latency distribution in milliseconds.",
			Buckets: []float64{25, 50, 100, 200, 400, 800, 1600, 3000, 5000, 10000},
		},
		[]string{"success"},
	)

	provisionRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "provision_retries_total",
			Help: "Self-healing retries for paid orders missing a grant.",
		},
	)
)

func IncSubscriptionGranted(plan string) {
	subscriptionsGranted.WithLabelValues(norm(plan)).Inc()
}

func ObserveProvisionCall(latencyMs int64, success bool) {
	provisionLatencyMs.WithLabelValues(strconv.FormatBool(success)).Observe(float64(latencyMs))
}

func IncProvisionRetry() { provisionRetries.Inc() }
