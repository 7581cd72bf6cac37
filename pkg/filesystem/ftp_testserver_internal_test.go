package filesystem

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	ftpserver "goftp.io/server/core"
)

// memFTPServer is an FTP server on a loopback port whose files live in a
// map. The user is "anonymous" unless the server was created with
// credentials.
type memFTPServer struct {
	addr     *net.TCPAddr
	user     string
	password string

	mu    sync.Mutex
	nodes map[string]*memFTPNode
}

type memFTPNode struct {
	data []byte
	dir  bool
}

var errFTPNotFound = errors.New("no such file or directory")

func newMemFTPServer(t *testing.T, user, password string) *memFTPServer {
	t.Helper()

	if user == "" {
		user = ftpAnonymousUser
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &memFTPServer{
		addr:     listener.Addr().(*net.TCPAddr), //nolint:forcetypeassert // tcp listener
		user:     user,
		password: password,
		nodes:    map[string]*memFTPNode{"/": {dir: true}},
	}

	srv := ftpserver.NewServer(&ftpserver.ServerOpts{
		Name:     "remotefs test",
		Factory:  s,
		Auth:     s,
		Hostname: "127.0.0.1",
		Port:     s.addr.Port,
		Logger:   discardFTPLogger{},
	})

	go func() { _ = srv.Serve(listener) }()

	t.Cleanup(func() { _ = srv.Shutdown() })

	return s
}

// uri returns the ftp:// URI of p on this server.
func (s *memFTPServer) uri(p string) string {
	return "ftp://" + s.addr.String() + p
}

func (s *memFTPServer) has(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.nodes[path.Clean(p)]

	return ok
}

// CheckPasswd implements ftpserver.Auth.
func (s *memFTPServer) CheckPasswd(user, pass string) (bool, error) {
	if user != s.user {
		return false, nil
	}

	return s.user == ftpAnonymousUser || pass == s.password, nil
}

// NewDriver implements ftpserver.DriverFactory.
func (s *memFTPServer) NewDriver() (ftpserver.Driver, error) {
	return &memFTPDriver{server: s}, nil
}

// memFTPDriver serves one control connection.
type memFTPDriver struct {
	server *memFTPServer
}

func (d *memFTPDriver) CheckPasswd(user, pass string) (bool, error) {
	return d.server.CheckPasswd(user, pass)
}

func (d *memFTPDriver) Stat(p string) (ftpserver.FileInfo, error) {
	s := d.server
	s.mu.Lock()
	defer s.mu.Unlock()

	p = path.Clean(p)

	node, ok := s.nodes[p]
	if !ok {
		return nil, errFTPNotFound
	}

	return memFTPInfo{name: path.Base(p), node: node}, nil
}

func (d *memFTPDriver) ChangeDir(p string) error {
	info, err := d.Stat(p)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return errors.New("not a directory") //nolint:err113 // test server
	}

	return nil
}

func (d *memFTPDriver) ListDir(p string, callback func(ftpserver.FileInfo) error) error {
	s := d.server
	s.mu.Lock()

	p = path.Clean(p)

	var infos []ftpserver.FileInfo

	for name, node := range s.nodes {
		if name != "/" && path.Dir(name) == p {
			infos = append(infos, memFTPInfo{name: path.Base(name), node: node})
		}
	}
	s.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })

	for _, info := range infos {
		err := callback(info)
		if err != nil {
			return err
		}
	}

	return nil
}

func (d *memFTPDriver) DeleteDir(p string) error {
	s := d.server
	s.mu.Lock()
	defer s.mu.Unlock()

	p = path.Clean(p)

	node, ok := s.nodes[p]
	if !ok || !node.dir {
		return errFTPNotFound
	}

	for name := range s.nodes {
		if strings.HasPrefix(name, p+"/") {
			return errors.New("directory not empty") //nolint:err113 // test server
		}
	}

	delete(s.nodes, p)

	return nil
}

func (d *memFTPDriver) DeleteFile(p string) error {
	s := d.server
	s.mu.Lock()
	defer s.mu.Unlock()

	p = path.Clean(p)

	node, ok := s.nodes[p]
	if !ok || node.dir {
		return errFTPNotFound
	}

	delete(s.nodes, p)

	return nil
}

func (d *memFTPDriver) Rename(from, to string) error {
	s := d.server
	s.mu.Lock()
	defer s.mu.Unlock()

	from, to = path.Clean(from), path.Clean(to)

	node, ok := s.nodes[from]
	if !ok {
		return errFTPNotFound
	}

	delete(s.nodes, from)
	s.nodes[to] = node

	return nil
}

func (d *memFTPDriver) MakeDir(p string) error {
	s := d.server
	s.mu.Lock()
	defer s.mu.Unlock()

	p = path.Clean(p)

	if _, ok := s.nodes[p]; ok {
		return errors.New("file exists") //nolint:err113 // test server
	}

	parent, ok := s.nodes[path.Dir(p)]
	if !ok || !parent.dir {
		return errFTPNotFound
	}

	s.nodes[p] = &memFTPNode{dir: true}

	return nil
}

func (d *memFTPDriver) GetFile(p string, offset int64) (int64, io.ReadCloser, error) {
	s := d.server
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[path.Clean(p)]
	if !ok || node.dir {
		return 0, nil, errFTPNotFound
	}

	data := bytes.Clone(node.data[min(offset, int64(len(node.data))):])

	return int64(len(data)), io.NopCloser(bytes.NewReader(data)), nil
}

func (d *memFTPDriver) PutFile(p string, data io.Reader, appendData bool) (int64, error) {
	// Read before locking: the client may be slow to send.
	payload, err := io.ReadAll(data)
	if err != nil {
		return 0, err //nolint:wrapcheck // test server
	}

	s := d.server
	s.mu.Lock()
	defer s.mu.Unlock()

	p = path.Clean(p)

	parent, ok := s.nodes[path.Dir(p)]
	if !ok || !parent.dir {
		return 0, errFTPNotFound
	}

	if existing, ok := s.nodes[p]; ok && appendData && !existing.dir {
		payload = append(existing.data, payload...)
	}

	s.nodes[p] = &memFTPNode{data: payload}

	return int64(len(payload)), nil
}

// memFTPInfo describes one node in LIST replies.
type memFTPInfo struct {
	name string
	node *memFTPNode
}

func (i memFTPInfo) Name() string       { return i.name }
func (i memFTPInfo) Size() int64        { return int64(len(i.node.data)) }
func (i memFTPInfo) ModTime() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
func (i memFTPInfo) IsDir() bool        { return i.node.dir }
func (i memFTPInfo) Sys() any           { return nil }
func (i memFTPInfo) Owner() string      { return "remotefs" }
func (i memFTPInfo) Group() string      { return "remotefs" }

func (i memFTPInfo) Mode() os.FileMode {
	if i.node.dir {
		return fs.ModeDir | 0o755 //nolint:mnd // rwxr-xr-x
	}

	return 0o644 //nolint:mnd // rw-r--r--
}

// discardFTPLogger silences the server.
type discardFTPLogger struct{}

func (discardFTPLogger) Print(string, any)                   {}
func (discardFTPLogger) Printf(string, string, ...any)       {}
func (discardFTPLogger) PrintCommand(string, string, string) {}
func (discardFTPLogger) PrintResponse(string, int, string)   {}
