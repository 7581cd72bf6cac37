package filesystem

import (
	"context"
	"fmt"
	"net"
	"os"
	"path"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/hirochachacha/go-smb2"
	"github.com/joe/remotefs/pkg/pool"
)

// smbGuestUser replaces an empty username; go-smb2 has no anonymous login.
const smbGuestUser = "guest"

// SMBDialer opens authenticated SMB sessions for the connection pool and
// mounts the share named in the pool key.
type SMBDialer struct {
	dialer net.Dialer
}

// NewSMBDialer creates an SMBDialer.
func NewSMBDialer() *SMBDialer {
	return &SMBDialer{}
}

// Dial implements pool.Dialer: TCP connect, NTLM session setup and, when the
// key names a share, tree connect.
func (d *SMBDialer) Dial(ctx context.Context, info pool.Info) (pool.Conn, error) {
	addr := net.JoinHostPort(info.Server, strconv.Itoa(info.Port))

	tcpConn, err := d.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("SMB connection to %s failed: %w", addr, err)
	}

	conn := &trackedConn{Conn: tcpConn}

	user := info.Username
	if user == "" {
		user = smbGuestUser
	}

	smbDialer := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     user,
			Password: info.Password,
			Domain:   info.Domain,
		},
	}

	session, err := smbDialer.DialContext(ctx, conn)
	if err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("SMB session setup with %s failed: %w", addr, err)
	}

	smbConn := &smbSession{conn: conn, session: session}

	if info.Share == "" {
		return smbConn, nil
	}

	share, err := session.WithContext(ctx).Mount(info.Share)
	if err != nil {
		smbConn.Abandon()

		return nil, fmt.Errorf("failed to mount share %s on %s: %w", info.Share, addr, err)
	}

	smbConn.share = share

	return smbConn, nil
}

// smbSession is one pooled SMB session and, when the pool key names a share,
// the mounted share. go-smb2 sessions and shares are safe for concurrent use.
type smbSession struct {
	conn    *trackedConn
	session *smb2.Session
	share   *smb2.Share

	// mount replaces the mount round trip of tryShare when set.
	mount func(ctx context.Context, name string) error
}

// tryShare mounts and unmounts name on the session.
func (s *smbSession) tryShare(ctx context.Context, name string) error {
	if s.mount != nil {
		return s.mount(ctx, name)
	}

	share, err := s.session.WithContext(ctx).Mount(name)
	if err != nil {
		return err //nolint:wrapcheck // logged by the caller with the share name
	}

	_ = share.WithContext(ctx).Umount()

	return nil
}

// Abandon drops the TCP connection without logging off.
func (s *smbSession) Abandon() {
	_ = s.conn.Close()
}

// Alive reports whether the transport has not failed or been closed.
func (s *smbSession) Alive() bool {
	return !s.conn.broken.Load()
}

// Close unmounts the share, logs off and closes the transport.
func (s *smbSession) Close() error {
	var firstErr error

	if s.share != nil {
		err := s.share.Umount()
		if err != nil {
			firstErr = err
		}
	}

	err := s.session.Logoff()
	if err != nil && firstErr == nil {
		firstErr = err
	}

	err = s.conn.Close()
	if err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}

// trackedConn remembers whether the connection has failed so the pool can
// check liveness without touching the network.
type trackedConn struct {
	net.Conn

	broken atomic.Bool
}

func (c *trackedConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if err != nil {
		c.broken.Store(true)
	}

	return n, err //nolint:wrapcheck // net.Conn passthrough
}

func (c *trackedConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if err != nil {
		c.broken.Store(true)
	}

	return n, err //nolint:wrapcheck // net.Conn passthrough
}

func (c *trackedConn) Close() error {
	c.broken.Store(true)

	return c.Conn.Close() //nolint:wrapcheck // net.Conn passthrough
}

// shareFS adapts a mounted share to the kr/fs walker.
type shareFS struct {
	share *smb2.Share
}

func (s shareFS) ReadDir(dirname string) ([]os.FileInfo, error) {
	return s.share.ReadDir(dirname) //nolint:wrapcheck // walker reports the path
}

func (s shareFS) Lstat(name string) (os.FileInfo, error) {
	if name == "" {
		return rootInfo{}, nil
	}

	return s.share.Lstat(name) //nolint:wrapcheck // walker reports the path
}

func (s shareFS) Join(elem ...string) string {
	return path.Join(elem...)
}

// rootInfo describes a root directory that cannot be stat'ed by name.
type rootInfo struct{}

func (rootInfo) Name() string       { return "/" }
func (rootInfo) Size() int64        { return 0 }
func (rootInfo) Mode() os.FileMode  { return os.ModeDir | 0o755 }
func (rootInfo) ModTime() time.Time { return time.Time{} }
func (rootInfo) IsDir() bool        { return true }
func (rootInfo) Sys() any           { return nil }
