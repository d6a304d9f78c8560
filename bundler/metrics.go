package bundler

import "github.com/prometheus/client_golang/prometheus"

var (
	bundlesSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bundler",
		Name:      "bundles_submitted_total",
		Help:      "Number of handleOps transactions submitted by the bundler loop.",
	})
	bundlesConfirmed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bundler",
		Name:      "bundles_confirmed_total",
		Help:      "Number of bundles whose transaction reached a confirmed receipt.",
	})
	bundlesFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bundler",
		Name:      "bundles_failed_total",
		Help:      "Number of bundles that failed submission or confirmation.",
	})
	tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bundler",
		Name:      "tick_duration_seconds",
		Help:      "Wall-clock duration of a single bundler loop tick.",
		Buckets:   prometheus.DefBuckets,
	})
	opsPerBundle = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bundler",
		Name:      "ops_per_bundle",
		Help:      "Number of UserOperations packed per submitted bundle.",
		Buckets:   []float64{1, 2, 4, 8, 10, 16, 32},
	})
)

func init() {
	prometheus.MustRegister(bundlesSubmitted, bundlesConfirmed, bundlesFailed, tickDuration, opsPerBundle)
}
