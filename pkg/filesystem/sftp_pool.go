package filesystem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/sftp"
)

// Channel pool errors.
var (
	ErrChannelLimits     = errors.New("invalid SFTP channel limits")
	errChannelPoolClosed = errors.New("SFTP channel pool is closed")
)

// ChannelLimits bounds a ChannelPool. They must satisfy
// 0 < Min <= Initial <= Max.
type ChannelLimits struct {
	Initial int
	Min     int
	Max     int
}

func (l ChannelLimits) validate() error {
	switch {
	case l.Min <= 0:
		return fmt.Errorf("%w: min must be positive, got %d", ErrChannelLimits, l.Min)
	case l.Initial < l.Min:
		return fmt.Errorf("%w: initial %d is below min %d", ErrChannelLimits, l.Initial, l.Min)
	case l.Initial > l.Max:
		return fmt.Errorf("%w: initial %d is above max %d", ErrChannelLimits, l.Initial, l.Max)
	}

	return nil
}

// ChannelPool hands out the SFTP subsystem channels of one SSH connection.
// The buffered channel is the semaphore: a client is either in it or held
// by exactly one caller. The pool follows the throttle limit of its
// resource through Resize, growing at once and shrinking as clients come
// back.
type ChannelPool struct {
	open   func() (*sftp.Client, error)
	idle   chan *sftp.Client
	limits ChannelLimits
	target atomic.Int32
	size   atomic.Int32

	mu     sync.Mutex // guards closed and sends on idle
	closed bool
}

// NewChannelPool opens limits.Initial channels with open.
func NewChannelPool(open func() (*sftp.Client, error), limits ChannelLimits) (*ChannelPool, error) {
	err := limits.validate()
	if err != nil {
		return nil, err
	}

	p := &ChannelPool{
		open:   open,
		idle:   make(chan *sftp.Client, limits.Max),
		limits: limits,
	}

	for i := range limits.Initial {
		client, err := open()
		if err != nil {
			close(p.idle)
			closeClients(p.idle)

			return nil, fmt.Errorf("failed to open SFTP channel %d/%d: %w", i+1, limits.Initial, err)
		}

		p.idle <- client
	}

	p.target.Store(int32(limits.Initial)) //nolint:gosec // bounded by Max
	p.size.Store(int32(limits.Initial))   //nolint:gosec // bounded by Max

	return p, nil
}

// Acquire takes a channel, blocking until one is idle or ctx is done.
func (p *ChannelPool) Acquire(ctx context.Context) (*sftp.Client, error) {
	if p.isClosed() {
		return nil, errChannelPoolClosed
	}

	select {
	case client, ok := <-p.idle:
		if !ok {
			return nil, errChannelPoolClosed
		}

		return client, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for SFTP channel: %w", ctx.Err())
	}
}

// Release gives a channel back. It is closed instead when the pool is
// above its target size or closed.
func (p *ChannelPool) Release(client *sftp.Client) {
	if client == nil {
		return
	}

	if p.shrink() {
		_ = client.Close()

		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		_ = client.Close()

		return
	}

	select {
	case p.idle <- client:
	default:
		p.size.Add(-1)

		_ = client.Close()
	}
}

// Close closes the idle channels and makes later Acquires fail. Held
// channels are closed when released. The SSH connection is left open.
func (p *ChannelPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()

		return nil
	}

	p.closed = true
	close(p.idle)
	p.mu.Unlock()

	err := closeClients(p.idle)

	p.size.Store(0)
	p.target.Store(0)

	return err
}

// Resize sets the target number of channels, clamped to the limits.
func (p *ChannelPool) Resize(target int) {
	clamped := min(max(target, p.limits.Min), p.limits.Max)
	p.target.Store(int32(clamped)) //nolint:gosec // clamped to the limits

	p.grow()
}

// Limits returns the bounds the pool was created with.
func (p *ChannelPool) Limits() ChannelLimits {
	return p.limits
}

// Size returns the number of open channels, idle or held.
func (p *ChannelPool) Size() int {
	return int(p.size.Load())
}

// TargetSize returns the size the pool is converging to.
func (p *ChannelPool) TargetSize() int {
	return int(p.target.Load())
}

// shrink gives up one slot if the pool is above target.
func (p *ChannelPool) shrink() bool {
	for {
		size := p.size.Load()
		if size <= p.target.Load() {
			return false
		}

		if p.size.CompareAndSwap(size, size-1) {
			return true
		}
	}
}

// grow opens channels until the target is reached. A failed open stops
// growth; the next Resize tries again.
func (p *ChannelPool) grow() {
	for {
		size := p.size.Load()
		if size >= p.target.Load() {
			return
		}

		// Reserve the slot first so concurrent resizes do not overshoot.
		if !p.size.CompareAndSwap(size, size+1) {
			continue
		}

		client, err := p.open()
		if err != nil {
			p.size.Add(-1)

			return
		}

		p.Release(client)
	}
}

func (p *ChannelPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.closed
}

// closeClients drains a closed channel, returning the first close error.
func closeClients(clients <-chan *sftp.Client) error {
	var firstErr error

	for client := range clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
