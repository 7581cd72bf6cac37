package filesystem

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/joe/remotefs/pkg/pool"
	"github.com/pkg/sftp"
)

// memSFTPServer serves one in-memory tree to any number of SFTP channels
// over net.Pipe.
type memSFTPServer struct {
	handlers sftp.Handlers

	mu      sync.Mutex
	servers []*sftp.RequestServer
	dials   int
	done    chan struct{}
	closed  bool
}

func newMemSFTPServer(t *testing.T) *memSFTPServer {
	t.Helper()

	s := &memSFTPServer{handlers: sftp.InMemHandler(), done: make(chan struct{})}
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func (s *memSFTPServer) newClient() (*sftp.Client, error) {
	clientConn, serverConn := net.Pipe()
	server := sftp.NewRequestServer(serverConn, s.handlers)

	s.mu.Lock()
	s.servers = append(s.servers, server)
	s.mu.Unlock()

	go func() { _ = server.Serve() }()

	return sftp.NewClientPipe(clientConn, clientConn)
}

// Close stops every server; it stands in for the SSH transport.
func (s *memSFTPServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	close(s.done)

	for _, server := range s.servers {
		_ = server.Close()
	}

	return nil
}

func (s *memSFTPServer) wait() error {
	<-s.done

	return nil
}

// dialer returns a pool dialer whose sessions talk to this server.
func (s *memSFTPServer) dialer() pool.Dialer {
	return pool.DialerFunc(func(_ context.Context, _ pool.Info) (pool.Conn, error) {
		s.mu.Lock()
		s.dials++
		s.mu.Unlock()

		channels, err := NewChannelPool(s.newClient, ChannelLimits{Initial: 1, Min: 1, Max: 3})
		if err != nil {
			return nil, err
		}

		return newSFTPSession(channels, s, s.wait), nil
	})
}
