package metrics

import (
	"github.com/joe/remotefs/pkg/protocol"
	"github.com/joe/remotefs/pkg/throttle"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var _ throttle.Metrics = (*Throttle)(nil)

// Throttle is the Prometheus implementation of throttle.Metrics.
type Throttle struct {
	limit    *prometheus.GaugeVec
	degraded *prometheus.GaugeVec
	active   *prometheus.GaugeVec
	outcomes *prometheus.CounterVec
}

// NewThrottle creates the throttle collectors on reg.
func NewThrottle(reg prometheus.Registerer) *Throttle {
	return &Throttle{
		limit: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "throttle_limit",
				Help:      "Current concurrency limit per remote resource",
			},
			[]string{"resource", "protocol"},
		),
		degraded: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "throttle_degraded",
				Help:      "1 while a resource's limit is lowered by timeouts",
			},
			[]string{"resource", "protocol"},
		),
		active: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "throttle_active_tasks",
				Help:      "Calls currently holding a permit per remote resource",
			},
			[]string{"resource", "protocol"},
		),
		outcomes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "throttle_calls_total",
				Help:      "Throttled calls by protocol and outcome",
			},
			[]string{"protocol", "outcome"},
		),
	}
}

// ObserveLimit implements throttle.Metrics.
func (m *Throttle) ObserveLimit(key string, proto protocol.Protocol, limit int, degraded bool) {
	m.limit.WithLabelValues(key, proto.String()).Set(float64(limit))

	value := 0.0
	if degraded {
		value = 1
	}

	m.degraded.WithLabelValues(key, proto.String()).Set(value)
}

// ObserveActive implements throttle.Metrics.
func (m *Throttle) ObserveActive(key string, proto protocol.Protocol, active int) {
	m.active.WithLabelValues(key, proto.String()).Set(float64(active))
}

// RecordOutcome implements throttle.Metrics.
func (m *Throttle) RecordOutcome(proto protocol.Protocol, outcome string) {
	m.outcomes.WithLabelValues(proto.String(), outcome).Inc()
}
