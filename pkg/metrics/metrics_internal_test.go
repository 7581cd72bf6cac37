//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"

	"github.com/joe/remotefs/pkg/fileops"
	"github.com/joe/remotefs/pkg/filesystem"
	"github.com/joe/remotefs/pkg/pool"
	"github.com/joe/remotefs/pkg/protocol"
	"github.com/joe/remotefs/pkg/throttle"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return logger
}

type nopConn struct{}

func (nopConn) Alive() bool  { return true }
func (nopConn) Close() error { return nil }
func (nopConn) Abandon()     {}

func TestThrottle_FollowsManager(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	m := NewThrottle(prometheus.NewRegistry())
	manager := throttle.New(throttle.WithMetrics(m), throttle.WithLogger(quietLogger()))
	ctx := context.Background()
	key := "sftp://box:22"
	proto := protocol.SFTP.String()

	g.Expect(manager.Do(ctx, protocol.SFTP, key, func(context.Context) error { return nil })).Should(Succeed())
	g.Expect(testutil.ToFloat64(m.limit.WithLabelValues(key, proto))).Should(Equal(3.0))

	for range throttle.DegradeAfterTimeouts {
		_ = manager.Do(ctx, protocol.SFTP, key, func(context.Context) error { return context.DeadlineExceeded })
	}

	g.Expect(testutil.ToFloat64(m.limit.WithLabelValues(key, proto))).Should(Equal(2.0))
	g.Expect(testutil.ToFloat64(m.degraded.WithLabelValues(key, proto))).Should(Equal(1.0))
	g.Expect(testutil.ToFloat64(m.active.WithLabelValues(key, proto))).Should(Equal(0.0))
	g.Expect(testutil.ToFloat64(m.outcomes.WithLabelValues(proto, throttle.OutcomeSuccess))).Should(Equal(1.0))
	g.Expect(testutil.ToFloat64(m.outcomes.WithLabelValues(proto, throttle.OutcomeTimeout))).Should(Equal(3.0))
}

func TestPool_CountsConnections(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	m := NewPool(prometheus.NewRegistry())
	dialer := pool.DialerFunc(func(context.Context, pool.Info) (pool.Conn, error) { return nopConn{}, nil })
	p := pool.New(dialer, pool.WithMetrics(m.For("smb")), pool.WithLogger(quietLogger()))
	info := pool.Info{Key: pool.Key{Server: "nas", Port: 445, Share: "photos"}}

	for range 3 {
		g.Expect(p.Do(context.Background(), info, func(pool.Conn) error { return nil })).Should(Succeed())
	}

	g.Expect(testutil.ToFloat64(m.opened.WithLabelValues("smb"))).Should(Equal(1.0))
	g.Expect(testutil.ToFloat64(m.size.WithLabelValues("smb"))).Should(Equal(1.0))
	g.Expect(testutil.ToFloat64(m.size.WithLabelValues("sftp"))).Should(Equal(0.0))

	p.Clear()

	g.Expect(testutil.ToFloat64(m.evicted.WithLabelValues("smb", pool.ReasonClear))).Should(Equal(1.0))
	g.Expect(testutil.ToFloat64(m.size.WithLabelValues("smb"))).Should(Equal(0.0))
}

func TestOperations_RecordsOrchestrator(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	m := NewOperations(prometheus.NewRegistry())
	smb := filesystem.NewMemoryClient(protocol.SMB, nil, filesystem.WithLogger(quietLogger()))
	local := filesystem.NewMemoryClient(protocol.Local, nil)
	orch := fileops.New(filesystem.NewClients(smb, local),
		fileops.WithMetrics(m), fileops.WithLogger(quietLogger()))

	smb.AddFile("smb://nas/photos/a.jpg", []byte("12345"))

	result := orch.Execute(context.Background(), fileops.Copy{
		Sources:     []filesystem.FileRef{filesystem.MustParseRef("smb://nas/photos/a.jpg")},
		Destination: filesystem.LocalRef{Path: "/backup"},
	})
	g.Expect(result).Should(BeAssignableToTypeOf(fileops.Success{}))

	orch.Execute(context.Background(), fileops.Rename{
		File:    filesystem.MustParseRef("smb://nas/photos/missing.jpg"),
		NewName: "b.jpg",
	})

	g.Expect(testutil.ToFloat64(m.total.WithLabelValues("copy", fileops.OutcomeSuccess))).Should(Equal(1.0))
	g.Expect(testutil.ToFloat64(m.total.WithLabelValues("rename", fileops.OutcomeFailure))).Should(Equal(1.0))
	g.Expect(testutil.ToFloat64(m.bytes.WithLabelValues("download"))).Should(Equal(5.0))
	g.Expect(testutil.CollectAndCount(m.duration)).Should(Equal(2))
}

func TestHandler_ServesRegisteredCollectors(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	reg := prometheus.NewRegistry()
	set := NewSet(reg)

	set.Pool.For("sftp").ConnectionOpened()
	set.Operations.ObserveOperation(fileops.TypeDelete, fileops.OutcomePartial, time.Second)

	server := httptest.NewServer(Handler(reg))
	defer server.Close()

	resp, err := http.Get(server.URL) //nolint:noctx // test server
	g.Expect(err).ShouldNot(HaveOccurred())

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	g.Expect(err).ShouldNot(HaveOccurred())

	text := string(body)
	g.Expect(text).Should(ContainSubstring(`remotefs_pool_connections_opened_total{pool="sftp"} 1`))
	g.Expect(text).Should(ContainSubstring(`remotefs_operations_total{operation="delete",outcome="partial"} 1`))
	g.Expect(strings.Count(text, "# HELP remotefs_")).Should(BeNumerically(">=", 2))
}
