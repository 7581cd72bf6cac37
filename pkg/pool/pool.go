// Package pool keeps authenticated sessions to remote servers alive between
// requests, keyed by server, port, share and identity.
//
// Establishing an SMB or SSH session costs several round trips and an
// authentication exchange, so the pool reuses one session per key for as long
// as it stays alive. A global semaphore caps how many callers use pooled
// sessions at once, independent of any per-resource throttling.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	fserrors "github.com/joe/remotefs/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Exported constants.
const (
	// DefaultIdleTimeout is how long an unused session stays pooled.
	DefaultIdleTimeout = 5 * time.Second
	// DefaultMaxConnections caps simultaneous pool users and pooled sessions.
	DefaultMaxConnections = 8
)

// Eviction reasons passed to Metrics.ConnectionEvicted.
const (
	ReasonCapacity = "capacity"
	ReasonClear    = "clear"
	ReasonDead     = "dead"
	ReasonError    = "error"
	ReasonIdle     = "idle"
)

// Key identifies one poolable authenticated session.
type Key struct {
	Server   string
	Port     int
	Share    string
	Username string
	Domain   string
}

// String renders the key for logs with the username masked.
func (k Key) String() string {
	return fmt.Sprintf("%s@%s:%d/%s", fserrors.MaskUser(k.Username), k.Server, k.Port, k.Share)
}

// Info is everything a Dialer needs to open a session for Key.
type Info struct {
	Key

	Password string
}

// Conn is a pooled session. Implementations must allow concurrent use by
// several borrowers.
type Conn interface {
	// Alive reports whether the transport is still connected. It must not
	// perform network I/O.
	Alive() bool
	// Close logs off and closes the transport gracefully.
	Close() error
	// Abandon drops the transport without any protocol exchange.
	Abandon()
}

// Dialer opens a new authenticated session (connect, authenticate and mount
// the share when the protocol has one).
type Dialer interface {
	Dial(ctx context.Context, info Info) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, info Info) (Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, info Info) (Conn, error) {
	return f(ctx, info)
}

// Metrics receives pool observations.
type Metrics interface {
	ConnectionOpened()
	ConnectionEvicted(reason string)
	SetSize(size int)
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		if now != nil {
			p.now = now
		}
	}
}

// WithIdleTimeout sets how long an unused session may stay pooled.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(p *Pool) {
		if timeout > 0 {
			p.idleTimeout = timeout
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMaxConnections caps both simultaneous callers and pooled sessions. A
// session dialed while every pooled one is busy serves its caller and is
// then closed, so the pool never holds more than n.
func WithMaxConnections(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxConns = n
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics Metrics) Option {
	return func(p *Pool) {
		if metrics != nil {
			p.metrics = metrics
		}
	}
}

// Pool is a keyed session pool. Create one per dialer with New.
type Pool struct {
	dialer      Dialer
	sem         *semaphore.Weighted
	maxConns    int
	idleTimeout time.Duration
	now         func() time.Time
	logger      logrus.FieldLogger
	metrics     Metrics

	mu    sync.Mutex // guards slots and open
	slots map[Key]*slot
	open  int
}

// slot is the per-key lock and the session it guards. The lock is held while
// deciding between reuse and create, and across Dial.
type slot struct {
	mu       sync.Mutex
	conn     Conn
	lastUsed time.Time
	inUse    int
}

// New creates a Pool that opens sessions with dialer.
func New(dialer Dialer, opts ...Option) *Pool {
	p := &Pool{
		dialer:      dialer,
		maxConns:    DefaultMaxConnections,
		idleTimeout: DefaultIdleTimeout,
		now:         time.Now,
		logger:      logrus.StandardLogger(),
		metrics:     noopMetrics{},
		slots:       make(map[Key]*slot),
	}

	for _, opt := range opts {
		opt(p)
	}

	p.sem = semaphore.NewWeighted(int64(p.maxConns))

	return p
}

// Do borrows the session for info.Key (creating it if needed) and runs fn on
// it. The session stays pooled afterwards. If fn fails because the session
// broke, the session is evicted, recreated once and fn runs again;
// application errors such as "not found" are returned as they are. fn must
// be safe to run twice; streaming callers use DoOnce.
func (p *Pool) Do(ctx context.Context, info Info, fn func(Conn) error) error {
	return p.run(ctx, info, fn, true)
}

// DoOnce is Do without the second run. A session that breaks inside fn is
// still evicted, so the next call starts on a fresh one.
func (p *Pool) DoOnce(ctx context.Context, info Info, fn func(Conn) error) error {
	return p.run(ctx, info, fn, false)
}

func (p *Pool) run(ctx context.Context, info Info, fn func(Conn) error, retry bool) error {
	err := p.sem.Acquire(ctx, 1)
	if err != nil {
		return fmt.Errorf("waiting for connection slot: %w", err)
	}
	defer p.sem.Release(1)

	l, err := p.checkout(ctx, info)
	if err != nil {
		return err
	}

	err = fn(l.conn)
	if !p.finish(ctx, l, err) || !retry || l.created || ctx.Err() != nil {
		return err
	}

	p.log(info.Key).WithError(err).Debug("pooled connection failed, recreating")

	l, dialErr := p.checkout(ctx, info)
	if dialErr != nil {
		return dialErr
	}

	err = fn(l.conn)
	p.finish(ctx, l, err)

	return err
}

// CleanupIdle closes every session idle longer than the idle timeout. Close
// errors caused by an already-dead transport are expected and only logged at
// debug level.
func (p *Pool) CleanupIdle() int {
	closed := 0

	for key, s := range p.snapshot() {
		s.mu.Lock()

		if s.conn == nil || s.inUse > 0 || p.now().Sub(s.lastUsed) <= p.idleTimeout {
			s.mu.Unlock()

			continue
		}

		conn := s.conn
		s.conn = nil
		p.remove(key, s)
		p.dropped(ReasonIdle)
		s.mu.Unlock()

		p.closeGracefully(key, conn)

		closed++
	}

	return closed
}

// Clear force-closes and drops every session.
func (p *Pool) Clear() {
	p.mu.Lock()
	slots := p.slots
	p.slots = make(map[Key]*slot)
	p.mu.Unlock()

	for key, s := range slots {
		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		s.mu.Unlock()

		if conn == nil {
			continue
		}

		conn.Abandon()
		p.dropped(ReasonClear)
		p.log(key).Debug("connection cleared")
	}
}

// Len returns the number of pooled sessions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.open
}

func (p *Pool) log(key Key) logrus.FieldLogger {
	return p.logger.WithField("key", key.String())
}

// lease is one borrow of a session. An unpooled lease holds a session
// dialed while the pool was full; it is closed when returned.
type lease struct {
	key     Key
	slot    *slot
	conn    Conn
	created bool
	pooled  bool
}

// checkout locks the key's slot and returns a live session for it, dialing
// one when the slot is empty or its session is dead. A pooled lease has its
// slot's borrow count incremented.
func (p *Pool) checkout(ctx context.Context, info Info) (lease, error) {
	s := p.lockSlot(info.Key)
	defer s.mu.Unlock()

	if s.conn != nil {
		if s.conn.Alive() {
			s.inUse++
			s.lastUsed = p.now()

			return lease{key: info.Key, slot: s, conn: s.conn, pooled: true}, nil
		}

		s.conn.Abandon()
		s.conn = nil
		p.dropped(ReasonDead)
		p.log(info.Key).Debug("dropped dead connection")
	}

	full := !p.makeRoom(info.Key)

	conn, err := p.dialer.Dial(ctx, info)
	if err != nil {
		p.remove(info.Key, s)

		return lease{}, p.dialError(info, err)
	}

	p.metrics.ConnectionOpened()

	if full {
		// Waiters on this slot see it removed and start over.
		p.remove(info.Key, s)
		p.log(info.Key).Debug("pool full, connection will not be pooled")

		return lease{key: info.Key, conn: conn, created: true}, nil
	}

	s.conn = conn
	s.inUse++
	s.lastUsed = p.now()

	p.mu.Lock()
	p.open++
	size := p.open
	p.mu.Unlock()

	p.metrics.SetSize(size)
	p.log(info.Key).Debug("connection opened")

	return lease{key: info.Key, slot: s, conn: conn, created: true, pooled: true}, nil
}

// finish returns the lease and evicts its session when err shows the
// session is broken. It reports whether it evicted.
func (p *Pool) finish(ctx context.Context, l lease, err error) bool {
	if !l.pooled {
		p.closeGracefully(l.key, l.conn)
		p.metrics.ConnectionEvicted(ReasonCapacity)

		return err != nil && sessionBroken(ctx, l.conn, err)
	}

	l.slot.mu.Lock()
	l.slot.inUse--
	l.slot.lastUsed = p.now()
	l.slot.mu.Unlock()

	if err == nil || !sessionBroken(ctx, l.conn, err) {
		return false
	}

	p.evict(l.slot, l.conn, ReasonError)

	return true
}

// closeGracefully closes conn, treating timeout and transport errors as the
// expected result of closing an already-dead session.
func (p *Pool) closeGracefully(key Key, conn Conn) {
	err := conn.Close()
	if err == nil {
		return
	}

	logger := p.log(key).WithError(err)

	switch fserrors.Classify(err) {
	case fserrors.KindTimeout, fserrors.KindConnection:
		logger.Debug("idle connection already closed by peer")
	default:
		logger.Warn("failed to close idle connection")
	}
}

func (p *Pool) dialError(info Info, err error) error {
	var authErr *fserrors.AuthError
	if errors.As(err, &authErr) {
		return err
	}

	if fserrors.Classify(err) == fserrors.KindAuth {
		return &fserrors.AuthError{
			Server: fmt.Sprintf("%s:%d", info.Server, info.Port),
			Share:  info.Share,
			User:   info.Username,
			Cause:  err,
		}
	}

	return fmt.Errorf("failed to connect to %s:%d: %w", info.Server, info.Port, err)
}

// dropped records that a pooled session was removed.
func (p *Pool) dropped(reason string) {
	p.mu.Lock()
	p.open--
	size := p.open
	p.mu.Unlock()

	p.metrics.ConnectionEvicted(reason)
	p.metrics.SetSize(size)
}

// evict abandons conn if it is still the key's pooled session.
func (p *Pool) evict(s *slot, conn Conn, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != conn {
		return
	}

	s.conn = nil
	conn.Abandon()
	p.dropped(reason)
}

// lockSlot returns the key's slot locked, creating it if needed. A slot
// removed from the map while we waited for its lock is skipped.
func (p *Pool) lockSlot(key Key) *slot {
	for {
		p.mu.Lock()
		s, ok := p.slots[key]
		if !ok {
			s = &slot{}
			p.slots[key] = s
		}
		p.mu.Unlock()

		s.mu.Lock()

		p.mu.Lock()
		current := p.slots[key]
		p.mu.Unlock()

		if current == s {
			return s
		}

		s.mu.Unlock()
	}
}

// makeRoom runs the quick eviction pass when the pool is full and reports
// whether a new session may be pooled. It never waits on a slot lock and
// never performs network I/O: idle or dead sessions are abandoned, not
// closed.
func (p *Pool) makeRoom(self Key) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.open < p.maxConns {
		return true
	}

	now := p.now()

	var (
		oldestKey  Key
		oldestSlot *slot
		evicted    []string
	)

	for key, s := range p.slots {
		if key == self || !s.mu.TryLock() {
			continue
		}

		reason := ""

		switch {
		case s.conn == nil || s.inUse > 0:
		case !s.conn.Alive():
			reason = ReasonDead
		case now.Sub(s.lastUsed) > p.idleTimeout:
			reason = ReasonIdle
		case oldestSlot == nil || s.lastUsed.Before(oldestSlot.lastUsed):
			oldestKey, oldestSlot = key, s
		}

		if reason != "" {
			s.conn.Abandon()
			s.conn = nil
			p.open--

			delete(p.slots, key)

			evicted = append(evicted, reason)
		}

		s.mu.Unlock()
	}

	if p.open >= p.maxConns && oldestSlot != nil && oldestSlot.mu.TryLock() {
		if oldestSlot.conn != nil && oldestSlot.inUse == 0 {
			oldestSlot.conn.Abandon()
			oldestSlot.conn = nil
			p.open--

			delete(p.slots, oldestKey)

			evicted = append(evicted, ReasonCapacity)
		}

		oldestSlot.mu.Unlock()
	}

	for _, reason := range evicted {
		p.metrics.ConnectionEvicted(reason)
	}

	p.metrics.SetSize(p.open)

	return p.open < p.maxConns
}

// remove deletes the slot from the map if it is still registered for key.
// The caller holds s.mu.
func (p *Pool) remove(key Key, s *slot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.slots[key] == s {
		delete(p.slots, key)
	}
}

func (p *Pool) snapshot() map[Key]*slot {
	p.mu.Lock()
	defer p.mu.Unlock()

	slots := make(map[Key]*slot, len(p.slots))
	for key, s := range p.slots {
		slots[key] = s
	}

	return slots
}

// sessionBroken reports whether err, returned by a callback running on conn,
// means the session itself is unusable. Errors of the caller's own streams
// (a full local disk, a failed reader) leave a live session pooled.
func sessionBroken(ctx context.Context, conn Conn, err error) bool {
	if !conn.Alive() {
		return true
	}

	if ctx.Err() != nil || fserrors.IsApplication(err) {
		return false
	}

	return fserrors.Classify(err) == fserrors.KindConnection
}

type noopMetrics struct{}

func (noopMetrics) ConnectionOpened()        {}
func (noopMetrics) ConnectionEvicted(string) {}
func (noopMetrics) SetSize(int)              {}
