package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.Mutex
	enrolled bool
	pending  []prometheus.Collector
)

// register enqueues collectors from the per-concern init() funcs. Nothing
// touches the default registry until MustRegister runs, so importing this
// package from a test never pollutes global prometheus state.
func register(cs ...prometheus.Collector) {
	mu.Lock()
	pending = append(pending, cs...)
	mu.Unlock()
}

// MustRegister installs every enqueued collector into the default
// registry. Safe to call more than once; only the first call does work.
func MustRegister() {
	mu.Lock()
	defer mu.Unlock()
	if enrolled {
		return
	}
	enrolled = true
	for _, c := range pending {
		prometheus.MustRegister(c)
	}
}

// norm keeps label values in one case so yookassa and YooKassa do not
// split a series.
func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
