package metrics

import (
	"time"

	"github.com/joe/remotefs/pkg/fileops"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var _ fileops.Metrics = (*Operations)(nil)

// Operations is the Prometheus implementation of fileops.Metrics.
type Operations struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	bytes    *prometheus.CounterVec
}

// NewOperations creates the operation collectors on reg.
func NewOperations(reg prometheus.Registerer) *Operations {
	return &Operations{
		total: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "File operations by type and outcome",
			},
			[]string{"operation", "outcome"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of whole file operations",
				Buckets: []float64{
					0.01, // 10ms
					0.1,  // 100ms
					1,    // 1s
					10,   // 10s
					60,   // 1m
					600,  // 10m
				},
			},
			[]string{"operation"},
		),
		bytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transferred_bytes_total",
				Help:      "Bytes copied by transfer route",
			},
			[]string{"route"},
		),
	}
}

// ObserveOperation implements fileops.Metrics.
func (m *Operations) ObserveOperation(op fileops.OperationType, outcome string, elapsed time.Duration) {
	m.total.WithLabelValues(string(op), outcome).Inc()
	m.duration.WithLabelValues(string(op)).Observe(elapsed.Seconds())
}

// AddBytes implements fileops.Metrics.
func (m *Operations) AddBytes(route string, n int64) {
	m.bytes.WithLabelValues(route).Add(float64(n))
}
