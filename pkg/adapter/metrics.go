package adapter

import "github.com/prometheus/client_golang/prometheus"

var (
	forwardTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kadapter",
			Subsystem: "adapter",
			Name:      "forward_total",
			Help:      "Total number of completed adapter forward passes",
		},
	)

	forwardDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kadapter",
			Subsystem: "adapter",
			Name:      "forward_duration_seconds",
			Help:      "Duration of adapter forward passes in seconds, base model included",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		},
	)

	skipAdditionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kadapter",
			Subsystem: "adapter",
			Name:      "skip_additions_total",
			Help:      "Total cross-layer skip additions applied",
		},
	)

	forwardErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kadapter",
			Subsystem: "adapter",
			Name:      "forward_errors_total",
			Help:      "Failed adapter forward passes by error kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(forwardTotal, forwardDuration, skipAdditionsTotal, forwardErrorsTotal)
}
