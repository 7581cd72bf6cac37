// Package metrics exports throttle, pool and operation observations to
// Prometheus. Every collector is registered on the Registerer it is given,
// so tests and embedders can keep them off the global registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "remotefs"

// Set bundles the collectors of one process.
type Set struct {
	Throttle   *Throttle
	Pool       *Pool
	Operations *Operations
}

// NewSet creates and registers every collector on reg.
func NewSet(reg prometheus.Registerer) *Set {
	return &Set{
		Throttle:   NewThrottle(reg),
		Pool:       NewPool(reg),
		Operations: NewOperations(reg),
	}
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
