package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(reconcilerSweeps, reconcilerResolved)
}

var (
	reconcilerSweeps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_reconciler_sweeps_total",
			Help: "Completed reconciler ticks.",
		},
	)

	reconcilerResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconciler_resolved_total",
			Help: "Stale orders resolved by the sweep, by resolution.",
		},
		[]string{"resolution"},
	)
)

func IncReconcilerSweep() { reconcilerSweeps.Inc() }

func IncReconcilerResolved(resolution string) {
	reconcilerResolved.WithLabelValues(norm(resolution)).Inc()
}
