package arc

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments a Message emits to. Grounded on
// the teacher's own smtp-server Metrics struct: plain prometheus.Counter/
// Histogram fields built by a constructor, rather than promauto package
// globals, so a caller can register the same Metrics into more than one
// Registry in tests.
type Metrics struct {
	SignTotal       prometheus.Counter
	VerifyTotal     prometheus.Counter
	ChainResults    *prometheus.CounterVec
	DNSLookupTiming prometheus.Histogram
}

// NewMetrics builds an unregistered Metrics. Call MustRegister(reg) (or
// leave it unregistered, in which case the instruments are still safe to
// observe, just invisible to any scrape).
func NewMetrics() *Metrics {
	return &Metrics{
		SignTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arc_sign_total",
			Help: "Total number of ARC seals produced.",
		}),
		VerifyTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arc_verify_total",
			Help: "Total number of ARC chains evaluated.",
		}),
		ChainResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arc_chain_results_total",
			Help: "ARC chain verdicts by result.",
		}, []string{"result"}),
		DNSLookupTiming: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arc_dns_lookup_duration_seconds",
			Help:    "Domain key DNS lookup latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}
}

// MustRegister registers every instrument into reg, panicking on a
// duplicate registration the way promauto itself would.
func (mx *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(mx.SignTotal, mx.VerifyTotal, mx.ChainResults, mx.DNSLookupTiming)
}

// observeChain records one evaluateChain outcome. Safe to call with a nil
// Metrics (a Message with no metrics attached).
func (m *Message) observeChain() {
	if m.metrics == nil {
		return
	}
	m.metrics.VerifyTotal.Inc()
	m.metrics.ChainResults.WithLabelValues(string(m.chainState)).Inc()
}

// observeSeal records one GetSeal call. Safe to call with a nil Metrics.
func (m *Message) observeSeal() {
	if m.metrics == nil {
		return
	}
	m.metrics.SignTotal.Inc()
}

// SetMetrics attaches mx so EOM/GetSeal report to it. Passing nil detaches.
func (m *Message) SetMetrics(mx *Metrics) {
	m.metrics = mx
}
