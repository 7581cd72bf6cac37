// Package throttle bounds the number of simultaneous requests against each
// remote resource and adapts that bound to the timeouts and successes it
// observes.
//
// Every remote resource (identified by a resource key such as
// "smb://nas:445/photos") starts at its protocol's maximum concurrency.
// Repeated timeouts step the limit down toward the protocol minimum and mark
// the resource degraded; a run of successes steps it back up. Local calls are
// never throttled.
package throttle

import (
	"context"
	"fmt"
	"sync"

	fserrors "github.com/joe/remotefs/pkg/errors"
	"github.com/joe/remotefs/pkg/protocol"
	"github.com/sirupsen/logrus"
)

// Exported constants.
const (
	// DegradeAfterTimeouts is the number of consecutive timeouts that lower the limit by one.
	DegradeAfterTimeouts = 3
	// RestoreAfterSuccesses is the number of consecutive successes that raise the limit by one.
	RestoreAfterSuccesses = 10
)

// Outcome labels passed to Metrics.RecordOutcome.
const (
	OutcomeError   = "error"
	OutcomeSuccess = "success"
	OutcomeTimeout = "timeout"
)

// State is a point-in-time copy of the bookkeeping for one resource key.
type State struct {
	Protocol             protocol.Protocol
	CurrentLimit         int
	ConsecutiveTimeouts  int
	ConsecutiveSuccesses int
	Degraded             bool
	ActiveTasks          int
	// GateSize is the permit count of the live gate. It lags CurrentLimit
	// while tasks are in flight.
	GateSize int
}

// Metrics receives throttle observations. All methods must be safe for
// concurrent use.
type Metrics interface {
	ObserveLimit(key string, proto protocol.Protocol, limit int, degraded bool)
	ObserveActive(key string, proto protocol.Protocol, active int)
	RecordOutcome(proto protocol.Protocol, outcome string)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for limit changes and deferred resizes.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics Metrics) Option {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// Manager is the registry of per-resource throttle state. The zero value is
// not usable; create one with New and share it between clients.
type Manager struct {
	states  sync.Map // resource key -> *resourceState
	logger  logrus.FieldLogger
	metrics Metrics
}

// New creates a Manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		logger:  logrus.StandardLogger(),
		metrics: noopMetrics{},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Do runs fn under the resource's concurrency limit and returns fn's error
// unchanged. It blocks until a permit is available or ctx is done. Local
// calls run fn directly.
func (m *Manager) Do(ctx context.Context, proto protocol.Protocol, key string, fn func(context.Context) error) error {
	if !proto.IsRemote() {
		return fn(ctx)
	}

	st := m.state(proto, key)

	gate, err := st.acquire(ctx)
	if err != nil {
		return fmt.Errorf("waiting for %s permit: %w", key, err)
	}

	m.metrics.ObserveActive(key, proto, st.activeCount())

	defer func() {
		active := st.leave(gate, m.log(st, key))
		m.metrics.ObserveActive(key, proto, active)
	}()

	err = fn(ctx)
	m.record(st, key, err)

	return err
}

// IsDegraded reports whether the resource's limit has been lowered by
// timeouts. Unknown keys and local calls are never degraded.
func (m *Manager) IsDegraded(proto protocol.Protocol, key string) bool {
	if !proto.IsRemote() {
		return false
	}

	value, ok := m.states.Load(key)
	if !ok {
		return false
	}

	st, _ := value.(*resourceState)
	st.mu.Lock()
	defer st.mu.Unlock()

	return st.degraded
}

// ResetState drops all bookkeeping for key. In-flight calls finish against
// the state they started with.
func (m *Manager) ResetState(key string) {
	m.states.Delete(key)
	m.logger.WithField("resource", key).Debug("throttle state reset")
}

// Snapshot returns the current state of key, or false when the key has never
// been used (or was reset).
func (m *Manager) Snapshot(key string) (State, bool) {
	value, ok := m.states.Load(key)
	if !ok {
		return State{}, false
	}

	st, _ := value.(*resourceState)
	st.mu.Lock()
	defer st.mu.Unlock()

	return State{
		Protocol:             st.proto,
		CurrentLimit:         st.limit,
		ConsecutiveTimeouts:  st.timeouts,
		ConsecutiveSuccesses: st.successes,
		Degraded:             st.degraded,
		ActiveTasks:          st.active,
		GateSize:             st.gateSize,
	}, true
}

// Keys returns every resource key that currently has state.
func (m *Manager) Keys() []string {
	var keys []string

	m.states.Range(func(key, _ any) bool {
		keys = append(keys, key.(string)) //nolint:forcetypeassert // only strings are stored

		return true
	})

	return keys
}

func (m *Manager) log(st *resourceState, key string) logrus.FieldLogger {
	return m.logger.WithFields(logrus.Fields{
		"resource": key,
		"protocol": st.proto.String(),
	})
}

func (m *Manager) record(st *resourceState, key string, err error) {
	logger := m.log(st, key)

	switch {
	case err == nil:
		m.metrics.RecordOutcome(st.proto, OutcomeSuccess)

		if limit, changed := st.onSuccess(); changed {
			logger.WithField("limit", limit).Info("throttle limit restored")
			m.metrics.ObserveLimit(key, st.proto, limit, false)
		}
	case fserrors.IsTimeout(err):
		m.metrics.RecordOutcome(st.proto, OutcomeTimeout)

		if limit, changed := st.onTimeout(); changed {
			logger.WithField("limit", limit).Warn("throttle limit degraded after repeated timeouts")
			m.metrics.ObserveLimit(key, st.proto, limit, true)
		}
	default:
		m.metrics.RecordOutcome(st.proto, OutcomeError)
	}
}

func (m *Manager) state(proto protocol.Protocol, key string) *resourceState {
	if value, ok := m.states.Load(key); ok {
		return value.(*resourceState) //nolint:forcetypeassert // only *resourceState is stored
	}

	value, loaded := m.states.LoadOrStore(key, newResourceState(proto))
	st := value.(*resourceState) //nolint:forcetypeassert // only *resourceState is stored

	if !loaded {
		m.log(st, key).WithField("limit", st.limit).Debug("throttle state created")
		m.metrics.ObserveLimit(key, proto, st.limit, false)
	}

	return st
}

type noopMetrics struct{}

func (noopMetrics) ObserveLimit(string, protocol.Protocol, int, bool) {}
func (noopMetrics) ObserveActive(string, protocol.Protocol, int)      {}
func (noopMetrics) RecordOutcome(protocol.Protocol, string)           {}
