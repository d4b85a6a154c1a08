package runner

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics for script executions.
type Metrics struct {
	ExecutionsTotal *prometheus.CounterVec
	Duration        prometheus.Histogram
	OutputBytes     prometheus.Histogram
}

// NewMetrics creates and registers execution metrics on the given registry.
// Returns nil if the registry is nil (metrics disabled).
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runbox",
			Subsystem: "execution",
			Name:      "total",
			Help:      "Script executions by outcome (ok, error, timeout, output_limit).",
		}, []string{"outcome"}),

		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "runbox",
			Subsystem: "execution",
			Name:      "duration_seconds",
			Help:      "Wall-clock execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		OutputBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "runbox",
			Subsystem: "execution",
			Name:      "output_bytes",
			Help:      "Cumulative stdout bytes produced per execution.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		}),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.Duration,
		m.OutputBytes,
	)

	return m
}
