package filesystem

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"

	fserrors "github.com/joe/remotefs/pkg/errors"
	"github.com/joe/remotefs/pkg/pool"
	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers
)

func newTestSFTPClient(t *testing.T) (*SFTPClient, *memSFTPServer) {
	t.Helper()

	server := newMemSFTPServer(t)
	connections := pool.New(server.dialer())
	t.Cleanup(connections.Clear)

	return NewSFTPClient(NewResolver(nil), connections), server
}

func TestSFTPClient_WriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	client, _ := newTestSFTPClient(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("remotefs"), 64*1024)

	g.Expect(client.Mkdir(ctx, "sftp://nas/data/in")).Should(Succeed())

	written, err := client.Write(ctx, "sftp://nas/data/in/blob.bin", bytes.NewReader(payload))
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(written).Should(Equal(int64(len(payload))))

	var buf bytes.Buffer

	read, err := client.Read(ctx, "sftp://nas/data/in/blob.bin", &buf)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(read).Should(Equal(int64(len(payload))))
	g.Expect(buf.Bytes()).Should(Equal(payload))

	info, err := client.Stat(ctx, "sftp://nas/data/in/blob.bin")
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(info.Name).Should(Equal("blob.bin"))
	g.Expect(info.Size).Should(Equal(int64(len(payload))))
	g.Expect(info.Path).Should(Equal("sftp://nas/data/in/blob.bin"))
}

func TestSFTPClient_ListAndWalk(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	client, _ := newTestSFTPClient(t)
	ctx := context.Background()

	g.Expect(client.Mkdir(ctx, "sftp://nas/photos/2024")).Should(Succeed())

	for _, name := range []string{"/photos/a.jpg", "/photos/2024/b.jpg"} {
		_, err := client.Write(ctx, "sftp://nas"+name, strings.NewReader(name))
		g.Expect(err).ShouldNot(HaveOccurred())
	}

	entries, err := client.List(ctx, "sftp://nas/photos")
	g.Expect(err).ShouldNot(HaveOccurred())

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name)
	}

	g.Expect(names).Should(ConsistOf("a.jpg", "2024"))

	files, err := Collect(client.Walk(ctx, "sftp://nas/photos"))
	g.Expect(err).ShouldNot(HaveOccurred())

	rels := make([]string, 0, len(files))
	for _, file := range files {
		rels = append(rels, file.RelativePath)
	}

	g.Expect(rels).Should(ConsistOf("a.jpg", "2024", "2024/b.jpg"))
}

func TestSFTPClient_RenameRemoveAndErrors(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	client, _ := newTestSFTPClient(t)
	ctx := context.Background()

	_, err := client.Write(ctx, "sftp://nas/old.txt", strings.NewReader("x"))
	g.Expect(err).ShouldNot(HaveOccurred())

	g.Expect(client.Rename(ctx, "sftp://nas/old.txt", "sftp://nas/new.txt")).Should(Succeed())

	exists, err := Exists(ctx, client, "sftp://nas/old.txt")
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(exists).Should(BeFalse())

	err = client.Rename(ctx, "sftp://nas/new.txt", "sftp://other/new.txt")
	g.Expect(errors.Is(err, fserrors.ErrUnsupported)).Should(BeTrue(), "cross-server rename: %v", err)

	g.Expect(client.Remove(ctx, "sftp://nas/new.txt")).Should(Succeed())

	_, err = client.Stat(ctx, "sftp://nas/new.txt")
	g.Expect(errors.Is(err, fs.ErrNotExist)).Should(BeTrue(), "stat after remove: %v", err)
}

func TestSFTPClient_ReusesPooledSession(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	client, server := newTestSFTPClient(t)
	ctx := context.Background()

	for range 5 {
		_, err := client.List(ctx, "sftp://nas/")
		g.Expect(err).ShouldNot(HaveOccurred())
	}

	server.mu.Lock()
	dials := server.dials
	server.mu.Unlock()

	g.Expect(dials).Should(Equal(1))
}

func TestSFTPClient_RejectsOtherProtocols(t *testing.T) {
	t.Parallel()

	client, _ := newTestSFTPClient(t)

	_, err := client.Stat(context.Background(), "ftp://nas/file")
	if err == nil {
		t.Error("SFTP client should reject ftp:// URIs")
	}
}
