//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package cli_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers
	"github.com/sirupsen/logrus"

	"github.com/joe/remotefs/internal/cli"
	"github.com/joe/remotefs/internal/config"
	"github.com/joe/remotefs/pkg/fileops"
	"github.com/joe/remotefs/pkg/filesystem"
	"github.com/joe/remotefs/pkg/protocol"
)

type fakeShares struct {
	names []string
	err   error
}

func (f fakeShares) ListShares(context.Context, string) ([]string, error) {
	return f.names, f.err
}

type harness struct {
	local  *filesystem.MemoryClient
	smb    *filesystem.MemoryClient
	out    bytes.Buffer
	errOut bytes.Buffer
	runner *cli.Runner
}

func newHarness(shares cli.ShareLister) *harness {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h := &harness{
		local: filesystem.NewMemoryClient(protocol.Local, nil),
		smb:   filesystem.NewMemoryClient(protocol.SMB, nil, filesystem.WithLogger(logger)),
	}

	orch := fileops.New(filesystem.NewClients(h.local, h.smb),
		fileops.WithLogger(logger),
		fileops.WithClock(func() time.Time { return time.UnixMilli(1_700_000_000_000) }),
	)

	h.runner = cli.NewRunner(orch, shares, cli.NewPrinter(&h.out, &h.errOut, false))

	return h
}

func (h *harness) run(t *testing.T, args ...string) int {
	t.Helper()

	cfg, err := config.Parse(args)
	if err != nil {
		t.Fatalf("Parse(%q) error = %v", args, err)
	}

	return h.runner.Run(context.Background(), cfg)
}

func TestRun_CopySucceeds(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	h := newHarness(nil)
	h.smb.AddFile("smb://nas/photos/a.jpg", []byte("12345"))

	g.Expect(h.run(t, "cp", "smb://nas/photos/a.jpg", "/dst")).Should(Equal(cli.ExitOK))

	g.Expect(h.out.String()).Should(ContainSubstring("[ok] copied 1 file\n"))
	g.Expect(h.out.String()).Should(ContainSubstring("  /dst/a.jpg\n"))
	g.Expect(h.local.ReadFile("/dst/a.jpg")).Should(Equal([]byte("12345")))
	g.Expect(h.errOut.String()).Should(BeEmpty())
}

func TestRun_PartialCopyExitsTwo(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	h := newHarness(nil)
	h.smb.AddFile("smb://nas/photos/a.jpg", []byte("a"))

	code := h.run(t, "cp", "smb://nas/photos/a.jpg", "smb://nas/photos/missing.jpg", "/dst")

	g.Expect(code).Should(Equal(cli.ExitPartial))
	g.Expect(h.out.String()).Should(ContainSubstring("copied 1 of 2 files, 1 failed"))
	g.Expect(h.errOut.String()).Should(ContainSubstring("[x] "))
	g.Expect(h.errOut.String()).Should(ContainSubstring("missing.jpg"))
}

func TestRun_FailureExitsOneWithSuggestions(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	h := newHarness(nil)

	g.Expect(h.run(t, "rename", "smb://nas/photos/missing.jpg", "b.jpg")).Should(Equal(cli.ExitFailure))

	g.Expect(h.out.String()).Should(BeEmpty())
	g.Expect(h.errOut.String()).Should(ContainSubstring("kind: not_found"))
	g.Expect(h.errOut.String()).Should(ContainSubstring("  • "))
}

func TestRun_SoftDeleteAndRestore(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	h := newHarness(nil)
	h.smb.AddFile("smb://nas/share/photos/2024/a.jpg", []byte("a"))

	g.Expect(h.run(t, "rm", "--soft", "smb://nas/share/photos/2024/a.jpg")).Should(Equal(cli.ExitOK))
	g.Expect(h.out.String()).Should(ContainSubstring("[ok] trashed 1 file"))
	g.Expect(h.out.String()).Should(ContainSubstring(
		`restore with: remotefs restore --trash "smb://nas/share/photos/.trash_1700000000000" ` +
			`"smb://nas/share/photos/2024/a.jpg"`))
	g.Expect(h.smb.Exists("smb://nas/share/photos/2024/a.jpg")).Should(BeFalse())

	code := h.run(t, "restore", "--trash", "smb://nas/share/photos/.trash_1700000000000",
		"smb://nas/share/photos/2024/a.jpg")

	g.Expect(code).Should(Equal(cli.ExitOK))
	g.Expect(h.out.String()).Should(ContainSubstring("[ok] restored 1 file"))
	g.Expect(h.smb.Exists("smb://nas/share/photos/2024/a.jpg")).Should(BeTrue())
	g.Expect(h.smb.Exists("smb://nas/share/photos/.trash_1700000000000")).Should(BeFalse())
}

func TestRun_HardDeleteHasNoRestoreHint(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	h := newHarness(nil)
	h.smb.AddFile("smb://nas/share/a.jpg", []byte("a"))

	g.Expect(h.run(t, "rm", "smb://nas/share/a.jpg")).Should(Equal(cli.ExitOK))
	g.Expect(h.out.String()).Should(ContainSubstring("[ok] deleted 1 file"))
	g.Expect(h.out.String()).ShouldNot(ContainSubstring("restore with"))
}

func TestRun_Browse(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	h := newHarness(nil)
	h.smb.AddFile("smb://nas/photos/a.jpg", []byte("12345"))
	h.smb.AddFile("smb://nas/photos/2024/b.jpg", []byte("1"))
	h.smb.AddFile("smb://nas/photos/2024/notes.txt", []byte("1"))

	g.Expect(h.run(t, "ls", "--dirs", "smb://nas/photos")).Should(Equal(cli.ExitOK))
	g.Expect(h.out.String()).Should(ContainSubstring("5 B        a.jpg\n"))
	g.Expect(h.out.String()).Should(ContainSubstring("dir        2024/\n"))

	h.out.Reset()

	g.Expect(h.run(t, "scan", "--ext", "jpg", "smb://nas/photos")).Should(Equal(cli.ExitOK))
	g.Expect(h.out.String()).Should(ContainSubstring("2024/b.jpg"))
	g.Expect(h.out.String()).ShouldNot(ContainSubstring("notes.txt"))

	h.out.Reset()

	g.Expect(h.run(t, "count", "smb://nas/photos")).Should(Equal(cli.ExitOK))
	g.Expect(h.out.String()).Should(Equal("3\n"))
}

func TestRun_BrowseMissingDirectory(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	h := newHarness(nil)

	g.Expect(h.run(t, "count", "smb://nas/photos/none")).Should(Equal(cli.ExitFailure))
	g.Expect(h.errOut.String()).Should(ContainSubstring("kind: not_found"))
}

func TestRun_TestConnection(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	h := newHarness(nil)
	h.smb.AddFile("smb://nas/photos/a.jpg", []byte("1"))

	g.Expect(h.run(t, "test", "smb://nas/photos")).Should(Equal(cli.ExitOK))
	g.Expect(h.out.String()).Should(ContainSubstring("[ok] connected to smb://nas/photos over SMB: 1 entries"))
}

func TestRun_Shares(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	h := newHarness(fakeShares{names: []string{"photos", "public"}})

	g.Expect(h.run(t, "shares", "nas")).Should(Equal(cli.ExitOK))
	g.Expect(h.out.String()).Should(Equal("smb://nas/photos\nsmb://nas/public\n"))

	h = newHarness(fakeShares{err: errors.New("connection refused")})

	g.Expect(h.run(t, "shares", "nas")).Should(Equal(cli.ExitFailure))
	g.Expect(h.errOut.String()).Should(ContainSubstring("kind: connection"))
}

func TestRun_NoCommand(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	h := newHarness(nil)

	g.Expect(h.runner.Run(context.Background(), &config.Config{})).Should(Equal(cli.ExitFailure))
	g.Expect(h.errOut.String()).Should(ContainSubstring(config.ErrNoCommand.Error()))
}
