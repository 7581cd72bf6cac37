package filesystem

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/joe/remotefs/pkg/protocol"
	"github.com/joe/remotefs/pkg/throttle"
	"github.com/sirupsen/logrus"
)

// Exported constants.
const (
	// DefaultOpTimeout bounds one metadata call (stat, list, rename, ...).
	DefaultOpTimeout = 30 * time.Second
	// DefaultTransferTimeout bounds one whole-file read or write.
	DefaultTransferTimeout = 10 * time.Minute
	// copyBufferSize is the chunk size used when streaming file contents.
	copyBufferSize = 256 * 1024
)

// Timeouts bounds remote calls. Both values are doubled while the resource
// is degraded.
type Timeouts struct {
	Op       time.Duration
	Transfer time.Duration
}

// DefaultTimeouts returns the default call timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{Op: DefaultOpTimeout, Transfer: DefaultTransferTimeout}
}

// Option configures a remote client.
type Option func(*remote)

// WithLogger sets the client's logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(r *remote) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithThrottle routes the client's calls through m. Without it each client
// gets a private Manager.
func WithThrottle(m *throttle.Manager) Option {
	return func(r *remote) {
		if m != nil {
			r.throttle = m
		}
	}
}

// WithTimeouts overrides the call timeouts. Zero fields keep the defaults.
func WithTimeouts(t Timeouts) Option {
	return func(r *remote) {
		if t.Op > 0 {
			r.timeouts.Op = t.Op
		}

		if t.Transfer > 0 {
			r.timeouts.Transfer = t.Transfer
		}
	}
}

// remote is the resolve, throttle and timeout plumbing shared by the
// protocol clients.
type remote struct {
	proto    protocol.Protocol
	resolver *Resolver
	throttle *throttle.Manager
	timeouts Timeouts
	logger   logrus.FieldLogger
}

func newRemote(proto protocol.Protocol, resolver *Resolver, opts []Option) remote {
	r := remote{
		proto:    proto,
		resolver: resolver,
		timeouts: DefaultTimeouts(),
		logger:   logrus.StandardLogger(),
	}

	for _, opt := range opts {
		opt(&r)
	}

	if r.resolver == nil {
		r.resolver = NewResolver(nil)
	}

	if r.throttle == nil {
		r.throttle = throttle.New(throttle.WithLogger(r.logger))
	}

	return r
}

// Protocol implements Client.
func (r *remote) Protocol() protocol.Protocol {
	return r.proto
}

// ResourceKey implements Client.
func (r *remote) ResourceKey(p string) (string, error) {
	endpoint, err := r.resolve(p)
	if err != nil {
		return "", err
	}

	return endpoint.ResourceKey(), nil
}

func (r *remote) resolve(uri string) (*Endpoint, error) {
	endpoint, err := r.resolver.Resolve(uri)
	if err != nil {
		return nil, err
	}

	if endpoint.Protocol != r.proto {
		return nil, fmt.Errorf("%s client cannot handle %s", r.proto, uri) //nolint:err113 // protocol mismatch is a programming error
	}

	return endpoint, nil
}

// call resolves uri and runs fn under the resource's throttle with a timeout.
// Transfers get the longer timeout.
func (r *remote) call(
	ctx context.Context,
	uri string,
	transfer bool,
	fn func(ctx context.Context, endpoint *Endpoint) error,
) error {
	endpoint, err := r.resolve(uri)
	if err != nil {
		return err
	}

	key := endpoint.ResourceKey()

	return r.throttle.Do(ctx, r.proto, key, func(ctx context.Context) error {
		timeout := r.timeouts.Op
		if transfer {
			timeout = r.timeouts.Transfer
		}

		if r.throttle.IsDegraded(r.proto, key) {
			timeout *= 2
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return fn(ctx, endpoint)
	})
}

// watch runs fn and calls abandon if ctx ends first, so that I/O blocked in
// a library without context support returns. The context error is reported
// in preference to whatever error the interrupted call produced.
func watch(ctx context.Context, abandon func(), fn func() error) error {
	stop := context.AfterFunc(ctx, abandon)
	err := fn()

	if !stop() {
		if err != nil {
			return fmt.Errorf("%w: %w", ctx.Err(), err)
		}

		return ctx.Err()
	}

	return err
}

// copyContext is io.Copy that stops between chunks once ctx is done.
func copyContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyBufferSize)

	return io.CopyBuffer(dst, &contextReader{ctx: ctx, r: src}, buf) //nolint:wrapcheck // callers wrap with the path
}

type contextReader struct {
	ctx context.Context //nolint:containedctx // reader is bound to one copy
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	err := c.ctx.Err()
	if err != nil {
		return 0, err
	}

	return c.r.Read(p) //nolint:wrapcheck // passthrough
}
