package filesystem

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	fserrors "github.com/joe/remotefs/pkg/errors"
	"github.com/joe/remotefs/pkg/pool"
	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers
)

func TestTrackedConn_MarksBrokenOnFailure(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	client, server := net.Pipe()
	conn := &trackedConn{Conn: client}
	session := &smbSession{conn: conn}

	g.Expect(session.Alive()).Should(BeTrue())

	_ = server.Close()

	_, err := conn.Write([]byte("x"))
	g.Expect(err).Should(HaveOccurred())
	g.Expect(session.Alive()).Should(BeFalse(), "a failed write marks the session dead")
}

func TestTrackedConn_AbandonMarksBroken(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer server.Close()

	session := &smbSession{conn: &trackedConn{Conn: client}}
	session.Abandon()

	if session.Alive() {
		t.Error("an abandoned session should not be alive")
	}
}

func TestSMBDialer_ConnectionRefused(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	g.Expect(err).ShouldNot(HaveOccurred())

	addr, ok := listener.Addr().(*net.TCPAddr)
	g.Expect(ok).Should(BeTrue())
	_ = listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = NewSMBDialer().Dial(ctx, pool.Info{Key: pool.Key{Server: "127.0.0.1", Port: addr.Port, Share: "photos"}})
	g.Expect(err).Should(HaveOccurred())

	var authErr *fserrors.AuthError
	g.Expect(errors.As(err, &authErr)).Should(BeFalse(), "a refused connection is not an auth failure")
}

func TestCommonShareNames_AreUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool, len(CommonShareNames))
	for _, name := range CommonShareNames {
		if seen[name] {
			t.Errorf("duplicate share name %q", name)
		}

		seen[name] = true
	}
}

// newShareListingSMBClient returns an SMB client whose sessions answer mount
// attempts with mount instead of a server.
func newShareListingSMBClient(t *testing.T, mount func(ctx context.Context, name string) error) *SMBClient {
	t.Helper()

	connections := pool.New(pool.DialerFunc(func(context.Context, pool.Info) (pool.Conn, error) {
		client, server := net.Pipe()
		t.Cleanup(func() { _ = server.Close() })

		return &smbSession{conn: &trackedConn{Conn: client}, mount: mount}, nil
	}))
	t.Cleanup(connections.Clear)

	return NewSMBClient(NewResolver(nil), connections)
}

func TestSMBClient_ListSharesIsBestEffort(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)

	// "private" exists on the server but is not a common share name.
	mountable := map[string]bool{"Data": true, "Media": true, "private": true}

	var (
		mu     sync.Mutex
		tried []string
	)

	client := newShareListingSMBClient(t, func(_ context.Context, name string) error {
		mu.Lock()
		tried = append(tried, name)
		mu.Unlock()

		if !mountable[name] {
			return errors.New("tree connect failed: STATUS_BAD_NETWORK_NAME")
		}

		return nil
	})

	shares, err := client.ListShares(context.Background(), "nas")

	g.Expect(err).ShouldNot(HaveOccurred(), "unmountable shares are not errors")
	g.Expect(shares).Should(ConsistOf("Data", "Media"))
	g.Expect(shares).ShouldNot(ContainElement("private"), "names outside CommonShareNames are missed")
	g.Expect(tried).Should(Equal(CommonShareNames))
}

func TestSMBClient_ListSharesFindsNothing(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	client := newShareListingSMBClient(t, func(context.Context, string) error {
		return errors.New("STATUS_ACCESS_DENIED")
	})

	shares, err := client.ListShares(context.Background(), "nas")

	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(shares).Should(BeEmpty())
}

func TestSMBClient_ListSharesUnreachableHost(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)

	connections := pool.New(pool.DialerFunc(func(context.Context, pool.Info) (pool.Conn, error) {
		return nil, errors.New("dial tcp 10.0.0.9:445: connection refused")
	}))

	_, err := NewSMBClient(NewResolver(nil), connections).ListShares(context.Background(), "nas")

	g.Expect(err).Should(MatchError(ContainSubstring("failed to list shares on nas")))
	g.Expect(fserrors.Classify(err)).Should(Equal(fserrors.KindConnection))
}
