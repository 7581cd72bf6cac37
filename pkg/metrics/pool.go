package metrics

import (
	"github.com/joe/remotefs/pkg/pool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pool holds the connection pool collectors. Each pool.Pool gets its own
// labelled view from For.
type Pool struct {
	opened  *prometheus.CounterVec
	evicted *prometheus.CounterVec
	size    *prometheus.GaugeVec
}

// NewPool creates the connection pool collectors on reg.
func NewPool(reg prometheus.Registerer) *Pool {
	return &Pool{
		opened: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_connections_opened_total",
				Help:      "Sessions dialed and authenticated by the connection pool",
			},
			[]string{"pool"},
		),
		evicted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_connections_evicted_total",
				Help:      "Sessions dropped from the pool by reason",
			},
			[]string{"pool", "reason"},
		),
		size: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_connections",
				Help:      "Sessions currently pooled",
			},
			[]string{"pool"},
		),
	}
}

// For returns the pool.Metrics of the pool called name.
func (m *Pool) For(name string) pool.Metrics {
	return &poolView{
		opened:  m.opened.WithLabelValues(name),
		size:    m.size.WithLabelValues(name),
		evicted: m.evicted.MustCurryWith(prometheus.Labels{"pool": name}),
	}
}

type poolView struct {
	opened  prometheus.Counter
	evicted *prometheus.CounterVec
	size    prometheus.Gauge
}

func (v *poolView) ConnectionOpened() {
	v.opened.Inc()
}

func (v *poolView) ConnectionEvicted(reason string) {
	v.evicted.WithLabelValues(reason).Inc()
}

func (v *poolView) SetSize(size int) {
	v.size.Set(float64(size))
}
