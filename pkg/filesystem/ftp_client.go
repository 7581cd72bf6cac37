package filesystem

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	fserrors "github.com/joe/remotefs/pkg/errors"
	"github.com/joe/remotefs/pkg/protocol"
	"github.com/jlaffaye/ftp"
	krfs "github.com/kr/fs"
)

// ftpAnonymousUser is the login used when no credentials are stored.
const ftpAnonymousUser = "anonymous"

// FTPClient implements Client for ftp:// URIs. FTP control connections are
// stateful and cheap, so every call logs in, does its work and quits.
type FTPClient struct {
	remote

	dialer net.Dialer
}

// NewFTPClient creates an FTP client.
func NewFTPClient(resolver *Resolver, opts ...Option) *FTPClient {
	return &FTPClient{remote: newRemote(protocol.FTP, resolver, opts)}
}

// List returns the entries of a directory.
func (c *FTPClient) List(ctx context.Context, p string) ([]FileInfo, error) {
	var infos []FileInfo

	err := c.do(ctx, p, false, func(conn *ftp.ServerConn, endpoint *Endpoint) error {
		entries, err := conn.List(endpoint.Path)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", p, err)
		}

		infos = make([]FileInfo, 0, len(entries))
		for _, entry := range entries {
			if entry.Name == "." || entry.Name == ".." {
				continue
			}

			child := path.Join(endpoint.Path, entry.Name)
			infos = append(infos, fromOSInfo(endpoint.URI(child), entry.Name, entryInfo{entry}))
		}

		return nil
	})

	return infos, err
}

// Mkdir creates a directory and any missing parents.
func (c *FTPClient) Mkdir(ctx context.Context, p string) error {
	return c.do(ctx, p, false, func(conn *ftp.ServerConn, endpoint *Endpoint) error {
		current := "/"

		for _, segment := range strings.Split(endpoint.Path, "/") {
			if segment == "" {
				continue
			}

			current = path.Join(current, segment)

			err := conn.MakeDir(current)
			if err == nil {
				continue
			}

			// Servers answer 550 both for "exists" and for real failures.
			info, statErr := lookup(conn, current)
			if statErr != nil || !info.IsDir() {
				return fmt.Errorf("failed to create directory %s: %w", endpoint.URI(current), err)
			}
		}

		return nil
	})
}

// Read streams a file into w.
func (c *FTPClient) Read(ctx context.Context, p string, w io.Writer) (int64, error) {
	var n int64

	err := c.do(ctx, p, true, func(conn *ftp.ServerConn, endpoint *Endpoint) error {
		resp, err := conn.Retr(endpoint.Path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", p, err)
		}
		defer resp.Close()

		if deadline, ok := ctx.Deadline(); ok {
			_ = resp.SetDeadline(deadline)
		}

		n, err = copyContext(ctx, w, resp)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}

		return nil
	})

	return n, err
}

// Remove removes a file.
func (c *FTPClient) Remove(ctx context.Context, p string) error {
	return c.do(ctx, p, false, func(conn *ftp.ServerConn, endpoint *Endpoint) error {
		err := conn.Delete(endpoint.Path)
		if err != nil {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}

		return nil
	})
}

// RemoveDir removes an empty directory.
func (c *FTPClient) RemoveDir(ctx context.Context, p string) error {
	return c.do(ctx, p, false, func(conn *ftp.ServerConn, endpoint *Endpoint) error {
		err := conn.RemoveDir(endpoint.Path)
		if err != nil {
			return fmt.Errorf("failed to remove directory %s: %w", p, err)
		}

		return nil
	})
}

// Rename moves a file on the same server.
func (c *FTPClient) Rename(ctx context.Context, from, to string) error {
	target, err := c.resolve(to)
	if err != nil {
		return err
	}

	return c.do(ctx, from, false, func(conn *ftp.ServerConn, endpoint *Endpoint) error {
		if endpoint.ResourceKey() != target.ResourceKey() {
			return fmt.Errorf("%s and %s are on different servers: %w", from, to, fserrors.ErrUnsupported)
		}

		err := conn.Rename(endpoint.Path, target.Path)
		if err != nil {
			return fmt.Errorf("failed to rename %s to %s: %w", from, to, err)
		}

		return nil
	})
}

// Stat returns file information.
func (c *FTPClient) Stat(ctx context.Context, p string) (FileInfo, error) {
	var info FileInfo

	err := c.do(ctx, p, false, func(conn *ftp.ServerConn, endpoint *Endpoint) error {
		stat, err := lookup(conn, endpoint.Path)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", p, err)
		}

		info = fromOSInfo(endpoint.URI(endpoint.Path), stat.Name(), stat)

		return nil
	})

	return info, err
}

// Walk returns every entry below root, read on one control connection.
func (c *FTPClient) Walk(ctx context.Context, root string) FileScanner {
	var files []FileInfo

	err := c.do(ctx, root, true, func(conn *ftp.ServerConn, endpoint *Endpoint) error {
		walker := krfs.WalkFS(endpoint.Path, ftpFS{conn: conn})
		scanner := newWalkScanner(ctx, walker, endpoint.Path, relativePath, endpoint.URI)

		var err error

		files, err = Collect(scanner)

		return err
	})

	return newSliceScanner(files, err)
}

// Write creates or truncates a file with the contents of r. A failed upload
// removes the partial file.
func (c *FTPClient) Write(ctx context.Context, p string, r io.Reader) (int64, error) {
	var n int64

	err := c.do(ctx, p, true, func(conn *ftp.ServerConn, endpoint *Endpoint) error {
		counter := &countingReader{r: &contextReader{ctx: ctx, r: r}}

		err := conn.Stor(endpoint.Path, counter)
		n = counter.n

		if err != nil {
			if ctx.Err() == nil {
				_ = conn.Delete(endpoint.Path)
			}

			return fmt.Errorf("failed to write %s: %w", p, err)
		}

		return nil
	})

	return n, err
}

// do dials and logs in for p, runs fn and quits. A call that outlives ctx
// closes the sockets, since the ftp package cannot be cancelled.
func (c *FTPClient) do(
	ctx context.Context,
	p string,
	transfer bool,
	fn func(conn *ftp.ServerConn, endpoint *Endpoint) error,
) error {
	return c.call(ctx, p, transfer, func(ctx context.Context, endpoint *Endpoint) error {
		sockets := &socketSet{}

		conn, err := c.login(ctx, endpoint, sockets)
		if err != nil {
			return err
		}

		err = watch(ctx, sockets.closeAll, func() error {
			return fn(conn, endpoint)
		})

		if ctx.Err() == nil {
			_ = conn.Quit()
		}

		sockets.closeAll()

		return fserrors.Normalize(err)
	})
}

func (c *FTPClient) login(ctx context.Context, endpoint *Endpoint, sockets *socketSet) (*ftp.ServerConn, error) {
	addr := net.JoinHostPort(endpoint.Host, strconv.Itoa(endpoint.Port))

	dial := func(network, address string) (net.Conn, error) {
		conn, err := c.dialer.DialContext(ctx, network, address)
		if err != nil {
			return nil, err //nolint:wrapcheck // wrapped by the ftp package
		}

		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetDeadline(deadline)
		}

		sockets.add(conn)

		return conn, nil
	}

	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithDialFunc(dial))
	if err != nil {
		sockets.closeAll()

		return nil, fmt.Errorf("FTP connection to %s failed: %w", addr, err)
	}

	user, password := endpoint.Credentials.Username, endpoint.Credentials.Password
	if user == "" {
		user, password = ftpAnonymousUser, ftpAnonymousUser
	}

	err = conn.Login(user, password)
	if err != nil {
		_ = conn.Quit()

		sockets.closeAll()

		if fserrors.Classify(err) == fserrors.KindAuth {
			return nil, &fserrors.AuthError{Server: addr, User: endpoint.Credentials.Username, Cause: err}
		}

		return nil, fmt.Errorf("FTP login to %s failed: %w", addr, err)
	}

	return conn, nil
}

// lookup stats one path. MLST is tried first; servers without it are asked
// for a listing of the parent.
func lookup(conn *ftp.ServerConn, p string) (os.FileInfo, error) {
	p = path.Clean("/" + p)
	if p == "/" {
		return rootInfo{}, nil
	}

	entry, err := conn.GetEntry(p)
	if err == nil && entry != nil {
		if entry.Name == "" || strings.Contains(entry.Name, "/") {
			entry.Name = path.Base(p)
		}

		return entryInfo{entry}, nil
	}

	entries, listErr := conn.List(path.Dir(p))
	if listErr != nil {
		return nil, fmt.Errorf("listing %s: %w", path.Dir(p), listErr)
	}

	name := path.Base(p)
	for _, entry := range entries {
		if entry.Name == name {
			return entryInfo{entry}, nil
		}
	}

	return nil, &fs.PathError{Op: "stat", Path: p, Err: fs.ErrNotExist}
}

// ftpFS adapts a control connection to the kr/fs walker.
type ftpFS struct {
	conn *ftp.ServerConn
}

func (f ftpFS) ReadDir(dirname string) ([]os.FileInfo, error) {
	entries, err := f.conn.List(dirname)
	if err != nil {
		return nil, err //nolint:wrapcheck // walker reports the path
	}

	infos := make([]os.FileInfo, 0, len(entries))

	for _, entry := range entries {
		if entry.Name == "." || entry.Name == ".." {
			continue
		}

		infos = append(infos, entryInfo{entry})
	}

	return infos, nil
}

func (f ftpFS) Lstat(name string) (os.FileInfo, error) {
	return lookup(f.conn, name)
}

func (f ftpFS) Join(elem ...string) string {
	return path.Join(elem...)
}

// entryInfo exposes an FTP listing entry as os.FileInfo.
type entryInfo struct {
	entry *ftp.Entry
}

func (e entryInfo) Name() string       { return e.entry.Name }
func (e entryInfo) Size() int64        { return int64(e.entry.Size) } //nolint:gosec // file sizes fit
func (e entryInfo) ModTime() time.Time { return e.entry.Time }
func (e entryInfo) IsDir() bool        { return e.entry.Type == ftp.EntryTypeFolder }
func (e entryInfo) Sys() any           { return e.entry }

func (e entryInfo) Mode() os.FileMode {
	if e.IsDir() {
		return os.ModeDir | 0o755 //nolint:mnd // rwxr-xr-x
	}

	if e.entry.Type == ftp.EntryTypeLink {
		return os.ModeSymlink | 0o777 //nolint:mnd // links carry no mode
	}

	return 0o644 //nolint:mnd // rw-r--r--
}

// socketSet remembers the control and data sockets of one login.
type socketSet struct {
	mu    sync.Mutex
	conns []net.Conn
}

func (s *socketSet) add(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conns = append(s.conns, conn)
}

func (s *socketSet) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conn := range s.conns {
		_ = conn.Close()
	}

	s.conns = nil
}

// countingReader counts bytes handed to a writer that does not report them.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)

	return n, err //nolint:wrapcheck // io.Reader passthrough
}
