package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the session registry.
type Metrics struct {
	Active   prometheus.Gauge
	Created  prometheus.Counter
	Rejected prometheus.Counter
	Swept    prometheus.Counter
}

// NewMetrics creates and registers registry metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "runbox",
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of live sessions in the registry.",
		}),
		Created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "runbox",
			Subsystem: "session",
			Name:      "created_total",
			Help:      "Total sessions created.",
		}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "runbox",
			Subsystem: "session",
			Name:      "rejected_total",
			Help:      "Total session creations rejected at the concurrency cap.",
		}),
		Swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "runbox",
			Subsystem: "session",
			Name:      "swept_total",
			Help:      "Total never-streamed sessions evicted by the TTL sweep.",
		}),
	}

	reg.MustRegister(
		m.Active,
		m.Created,
		m.Rejected,
		m.Swept,
	)

	return m
}
