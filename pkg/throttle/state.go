package throttle

import (
	"context"
	"sync"

	"github.com/joe/remotefs/pkg/protocol"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// resourceState is the mutable bookkeeping for one resource key. All fields
// are guarded by mu; the gate itself is waited on without holding mu.
type resourceState struct {
	mu           sync.Mutex
	proto        protocol.Protocol
	profile      protocol.Profile
	limit        int
	timeouts     int
	successes    int
	degraded     bool
	active       int
	gate         *semaphore.Weighted
	gateSize     int
	resizeLogged bool
}

func newResourceState(proto protocol.Protocol) *resourceState {
	profile := proto.Profile()

	return &resourceState{
		proto:    proto,
		profile:  profile,
		limit:    profile.MaxConcurrent,
		gate:     semaphore.NewWeighted(int64(profile.MaxConcurrent)),
		gateSize: profile.MaxConcurrent,
	}
}

// acquire takes one permit and registers the caller as active. It returns the
// gate the permit belongs to so the release goes back to the same gate even
// if the live gate is replaced in the meantime.
func (s *resourceState) acquire(ctx context.Context) (*semaphore.Weighted, error) {
	for {
		s.mu.Lock()
		gate := s.gate
		s.mu.Unlock()

		err := gate.Acquire(ctx, 1)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		if gate == s.gate {
			s.active++
			s.mu.Unlock()

			return gate, nil
		}
		s.mu.Unlock()

		// The gate was resized while we waited; retry against the new one.
		gate.Release(1)
	}
}

// leave releases the permit, marks the caller inactive and applies a pending
// resize once the resource is idle. It returns the remaining active count.
func (s *resourceState) leave(gate *semaphore.Weighted, logger logrus.FieldLogger) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	gate.Release(1)

	s.active--
	s.resizeLocked(logger)

	return s.active
}

func (s *resourceState) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.active
}

// resizeLocked recreates the gate with limit permits when nothing is in
// flight, and otherwise leaves the old gate in place until the last task
// leaves.
func (s *resourceState) resizeLocked(logger logrus.FieldLogger) {
	if s.gateSize == s.limit {
		s.resizeLogged = false

		return
	}

	if s.active > 0 {
		if !s.resizeLogged {
			logger.WithFields(logrus.Fields{
				"limit":  s.limit,
				"active": s.active,
			}).Debug("gate resize deferred until resource is idle")

			s.resizeLogged = true
		}

		return
	}

	s.gate = semaphore.NewWeighted(int64(s.limit))
	s.gateSize = s.limit
	s.resizeLogged = false
}

func (s *resourceState) onSuccess() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.timeouts = 0
	s.successes++

	if s.successes < RestoreAfterSuccesses || s.limit >= s.profile.MaxConcurrent {
		return s.limit, false
	}

	s.limit++
	s.successes = 0
	s.degraded = false

	return s.limit, true
}

func (s *resourceState) onTimeout() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.successes = 0
	s.timeouts++

	if s.timeouts < DegradeAfterTimeouts || s.limit <= s.profile.MinConcurrent {
		return s.limit, false
	}

	s.limit--
	s.timeouts = 0
	s.degraded = true

	return s.limit, true
}
