package filesystem

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joe/remotefs/pkg/pool"
	"github.com/joe/remotefs/pkg/protocol"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// errNoAuthMethods is returned when neither a password, an agent nor a
// default key is available.
var errNoAuthMethods = errors.New(
	"no SSH authentication methods available (tried password, SSH agent and default keys)",
)

// SFTPDialer opens SSH connections for the connection pool. Each pooled
// connection carries its own pool of SFTP channels.
type SFTPDialer struct {
	dialer   net.Dialer
	hostKeys ssh.HostKeyCallback
	keyDir   string
}

// SFTPDialerOption configures an SFTPDialer.
type SFTPDialerOption func(*SFTPDialer)

// WithHostKeyCallback verifies server host keys. Without it host keys are
// not checked.
func WithHostKeyCallback(callback ssh.HostKeyCallback) SFTPDialerOption {
	return func(d *SFTPDialer) {
		d.hostKeys = callback
	}
}

// WithKeyDir looks for default private keys in dir instead of ~/.ssh.
func WithKeyDir(dir string) SFTPDialerOption {
	return func(d *SFTPDialer) {
		d.keyDir = dir
	}
}

// NewSFTPDialer creates an SFTPDialer.
func NewSFTPDialer(opts ...SFTPDialerOption) *SFTPDialer {
	d := &SFTPDialer{
		hostKeys: ssh.InsecureIgnoreHostKey(), //nolint:gosec // opt-in verification via WithHostKeyCallback
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Dial implements pool.Dialer.
func (d *SFTPDialer) Dial(ctx context.Context, info pool.Info) (pool.Conn, error) {
	authMethods := d.authMethods(info.Password)
	if len(authMethods) == 0 {
		return nil, errNoAuthMethods
	}

	config := &ssh.ClientConfig{
		User:            info.Username,
		Auth:            authMethods,
		HostKeyCallback: d.hostKeys,
	}

	addr := net.JoinHostPort(info.Server, strconv.Itoa(info.Port))

	tcpConn, err := d.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("SSH connection failed: %w", err)
	}

	var sshClient *ssh.Client

	// The handshake has no context support; closing the socket unblocks it.
	err = watch(ctx, func() { _ = tcpConn.Close() }, func() error {
		clientConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, config)
		if err != nil {
			return err //nolint:wrapcheck // wrapped below
		}

		sshClient = ssh.NewClient(clientConn, chans, reqs)

		return nil
	})
	if err != nil {
		_ = tcpConn.Close()

		return nil, fmt.Errorf("SSH connection failed: %w", err)
	}

	profile := protocol.SFTP.Profile()

	channels, err := NewChannelPool(
		func() (*sftp.Client, error) {
			return sftp.NewClient(sshClient, sftp.UseConcurrentWrites(true)) //nolint:wrapcheck // wrapped by the pool
		},
		ChannelLimits{Initial: profile.MinConcurrent, Min: profile.MinConcurrent, Max: profile.MaxConcurrent},
	)
	if err != nil {
		_ = sshClient.Close()

		return nil, fmt.Errorf("SFTP session creation failed: %w", err)
	}

	return newSFTPSession(channels, sshClient, sshClient.Wait), nil
}

// authMethods returns SSH authentication methods in priority order:
// 1. Password, when the credentials carry one
// 2. SSH agent
// 3. Default SSH keys
func (d *SFTPDialer) authMethods(password string) []ssh.AuthMethod {
	var authMethods []ssh.AuthMethod

	if password != "" {
		authMethods = append(authMethods, ssh.Password(password))
	}

	if agentAuth := trySSHAgent(); agentAuth != nil {
		authMethods = append(authMethods, agentAuth)
	}

	keyDir := d.keyDir
	if keyDir == "" {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			keyDir = filepath.Join(homeDir, ".ssh")
		}
	}

	if keyDir != "" {
		if signers := loadDefaultKeys(keyDir); len(signers) > 0 {
			authMethods = append(authMethods, ssh.PublicKeys(signers...))
		}
	}

	return authMethods
}

// sftpSession is one pooled SSH connection and its SFTP channels.
type sftpSession struct {
	channels  *ChannelPool
	transport interface{ Close() error }
	done      chan struct{}
}

// newSFTPSession starts watching wait, which returns when the transport
// shuts down.
func newSFTPSession(channels *ChannelPool, transport interface{ Close() error }, wait func() error) *sftpSession {
	s := &sftpSession{
		channels:  channels,
		transport: transport,
		done:      make(chan struct{}),
	}

	go func() {
		_ = wait()

		close(s.done)
	}()

	return s
}

// Abandon drops the transport without closing channels first.
func (s *sftpSession) Abandon() {
	_ = s.transport.Close()
}

// Alive reports whether the SSH transport is still up.
func (s *sftpSession) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Close closes the SFTP channels and then the SSH connection.
func (s *sftpSession) Close() error {
	var firstErr error

	if err := s.channels.Close(); err != nil {
		firstErr = err
	}

	if err := s.transport.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}

// trySSHAgent attempts to connect to the SSH agent.
func trySSHAgent() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil
	}

	agentClient := agent.NewClient(conn)

	return ssh.PublicKeysCallback(agentClient.Signers)
}

// loadDefaultKeys loads the unencrypted default private keys in dir.
func loadDefaultKeys(dir string) []ssh.Signer {
	// Default key files to try (in order)
	keyFiles := []string{"id_ed25519", "id_rsa", "id_ecdsa"}

	var signers []ssh.Signer

	for _, name := range keyFiles {
		keyData, err := os.ReadFile(filepath.Join(dir, name)) //nolint:gosec // fixed names under the key dir
		if err != nil {
			continue
		}

		// Password-protected keys are skipped
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			continue
		}

		signers = append(signers, signer)
	}

	return signers
}
