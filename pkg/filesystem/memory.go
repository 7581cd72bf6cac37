package filesystem

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	fserrors "github.com/joe/remotefs/pkg/errors"
	"github.com/joe/remotefs/pkg/protocol"
)

// Op names a Client method for fault injection.
type Op string

// Ops that can be made to fail.
const (
	OpList      Op = "list"
	OpMkdir     Op = "mkdir"
	OpRead      Op = "read"
	OpRemove    Op = "remove"
	OpRemoveDir Op = "rmdir"
	OpRename    Op = "rename"
	OpStat      Op = "stat"
	OpWrite     Op = "write"
)

// MemoryClient is an in-memory Client for any protocol, for tests and dry
// runs. Remote instances resolve URIs and go through the same throttle and
// timeout plumbing as the network clients; errors can be injected per
// operation and path.
type MemoryClient struct {
	remote

	mu     sync.RWMutex
	nodes  map[memKey]*memNode
	faults map[fault]error
}

type memKey struct {
	resource string
	path     string // slash-separated, absolute
}

type memNode struct {
	data    []byte
	modTime time.Time
	isDir   bool
}

type fault struct {
	op  Op
	key memKey
}

// location is a resolved path: where it is stored and how it is shown.
type location struct {
	key     memKey
	display func(p string) string
}

// NewMemoryClient creates an empty in-memory client for proto.
func NewMemoryClient(proto protocol.Protocol, resolver *Resolver, opts ...Option) *MemoryClient {
	return &MemoryClient{
		remote: newRemote(proto, resolver, opts),
		nodes:  make(map[memKey]*memNode),
		faults: make(map[fault]error),
	}
}

// AddDir creates a directory and its parents.
func (c *MemoryClient) AddDir(p string) {
	loc := c.mustLocate(p)

	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.mkdirAllLocked(loc)
}

// AddFile stores a file, creating its parent directories.
func (c *MemoryClient) AddFile(p string, data []byte) {
	loc := c.mustLocate(p)

	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.mkdirAllLocked(loc.parent())
	c.nodes[loc.key] = &memNode{data: append([]byte(nil), data...), modTime: time.Now()}
}

// Fail makes every op on p fail with err until Heal is called.
func (c *MemoryClient) Fail(op Op, p string, err error) {
	loc := c.mustLocate(p)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.faults[fault{op: op, key: loc.key}] = err
}

// Heal removes an injected fault.
func (c *MemoryClient) Heal(op Op, p string) {
	loc := c.mustLocate(p)

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.faults, fault{op: op, key: loc.key})
}

// Exists reports whether p is stored.
func (c *MemoryClient) Exists(p string) bool {
	loc, err := c.locate(p)
	if err != nil {
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.lookupLocked(loc.key)

	return ok
}

// ReadFile returns a copy of a stored file.
func (c *MemoryClient) ReadFile(p string) ([]byte, error) {
	var buf bytes.Buffer

	_, err := c.Read(context.Background(), p, &buf)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Paths returns the resource-qualified path of every stored entry.
func (c *MemoryClient) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	paths := make([]string, 0, len(c.nodes))
	for key := range c.nodes {
		paths = append(paths, key.resource+key.path)
	}

	sort.Strings(paths)

	return paths
}

// ResourceKey implements Client.
func (c *MemoryClient) ResourceKey(p string) (string, error) {
	loc, err := c.locate(p)
	if err != nil {
		return "", err
	}

	return loc.key.resource, nil
}

// CopyWithin implements ServerCopier.
func (c *MemoryClient) CopyWithin(ctx context.Context, from, to string) (int64, error) {
	target, err := c.locate(to)
	if err != nil {
		return 0, err
	}

	var n int64

	err = c.run(ctx, from, true, OpRead, func(_ context.Context, loc location) error {
		if loc.key.resource != target.key.resource {
			return fmt.Errorf("%s and %s are on different resources: %w", from, to, fserrors.ErrUnsupported)
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		src, err := c.fileLocked("copy", loc)
		if err != nil {
			return err
		}

		err = c.checkFaultLocked(OpWrite, target)
		if err != nil {
			return err
		}

		err = c.writableLocked("copy", target)
		if err != nil {
			return err
		}

		c.nodes[target.key] = &memNode{data: append([]byte(nil), src.data...), modTime: time.Now()}
		n = int64(len(src.data))

		return nil
	})

	return n, err
}

// List implements Client.
func (c *MemoryClient) List(ctx context.Context, p string) ([]FileInfo, error) {
	var infos []FileInfo

	err := c.run(ctx, p, false, OpList, func(_ context.Context, loc location) error {
		c.mu.RLock()
		defer c.mu.RUnlock()

		node, ok := c.lookupLocked(loc.key)
		if !ok {
			return pathError("list", loc, fs.ErrNotExist)
		}

		if !node.isDir {
			return pathError("list", loc, errNotDir)
		}

		for _, child := range c.descendantsLocked(loc.key) {
			if path.Dir(child.path) == loc.key.path {
				infos = append(infos, c.infoLocked(loc, child))
			}
		}

		return nil
	})

	return infos, err
}

// Mkdir implements Client.
func (c *MemoryClient) Mkdir(ctx context.Context, p string) error {
	return c.run(ctx, p, false, OpMkdir, func(_ context.Context, loc location) error {
		c.mu.Lock()
		defer c.mu.Unlock()

		return c.mkdirAllLocked(loc)
	})
}

// Read implements Client.
func (c *MemoryClient) Read(ctx context.Context, p string, w io.Writer) (int64, error) {
	var n int64

	err := c.run(ctx, p, true, OpRead, func(ctx context.Context, loc location) error {
		c.mu.RLock()
		node, err := c.fileLocked("read", loc)
		c.mu.RUnlock()

		if err != nil {
			return err
		}

		n, err = copyContext(ctx, w, bytes.NewReader(node.data))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", loc.display(loc.key.path), err)
		}

		return nil
	})

	return n, err
}

// Remove implements Client.
func (c *MemoryClient) Remove(ctx context.Context, p string) error {
	return c.run(ctx, p, false, OpRemove, func(_ context.Context, loc location) error {
		c.mu.Lock()
		defer c.mu.Unlock()

		_, err := c.fileLocked("remove", loc)
		if err != nil {
			return err
		}

		delete(c.nodes, loc.key)

		return nil
	})
}

// RemoveDir implements Client.
func (c *MemoryClient) RemoveDir(ctx context.Context, p string) error {
	return c.run(ctx, p, false, OpRemoveDir, func(_ context.Context, loc location) error {
		c.mu.Lock()
		defer c.mu.Unlock()

		node, ok := c.lookupLocked(loc.key)
		if !ok {
			return pathError("rmdir", loc, fs.ErrNotExist)
		}

		if !node.isDir {
			return pathError("rmdir", loc, errNotDir)
		}

		if len(c.descendantsLocked(loc.key)) > 0 {
			return pathError("rmdir", loc, errDirNotEmpty)
		}

		delete(c.nodes, loc.key)

		return nil
	})
}

// Rename implements Client. Like SFTP servers, it refuses to replace an
// existing target.
func (c *MemoryClient) Rename(ctx context.Context, from, to string) error {
	target, err := c.locate(to)
	if err != nil {
		return err
	}

	return c.run(ctx, from, false, OpRename, func(_ context.Context, loc location) error {
		if loc.key.resource != target.key.resource {
			return fmt.Errorf("%s and %s are on different resources: %w", from, to, fserrors.ErrUnsupported)
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		node, ok := c.lookupLocked(loc.key)
		if !ok {
			return pathError("rename", loc, fs.ErrNotExist)
		}

		err := c.writableLocked("rename", target)
		if err != nil {
			return err
		}

		if node.isDir {
			for _, child := range c.descendantsLocked(loc.key) {
				moved := memKey{resource: child.resource, path: target.key.path + strings.TrimPrefix(child.path, loc.key.path)}
				c.nodes[moved] = c.nodes[child]
				delete(c.nodes, child)
			}
		}

		c.nodes[target.key] = node
		delete(c.nodes, loc.key)

		return nil
	})
}

// Stat implements Client.
func (c *MemoryClient) Stat(ctx context.Context, p string) (FileInfo, error) {
	var info FileInfo

	err := c.run(ctx, p, false, OpStat, func(_ context.Context, loc location) error {
		c.mu.RLock()
		defer c.mu.RUnlock()

		if _, ok := c.lookupLocked(loc.key); !ok {
			return pathError("stat", loc, fs.ErrNotExist)
		}

		info = c.infoLocked(loc, loc.key)
		info.RelativePath = ""

		return nil
	})

	return info, err
}

// Walk implements Client.
func (c *MemoryClient) Walk(ctx context.Context, root string) FileScanner {
	var files []FileInfo

	err := c.run(ctx, root, false, OpList, func(_ context.Context, loc location) error {
		c.mu.RLock()
		defer c.mu.RUnlock()

		node, ok := c.lookupLocked(loc.key)
		if !ok {
			return pathError("walk", loc, fs.ErrNotExist)
		}

		if !node.isDir {
			return nil
		}

		for _, child := range c.descendantsLocked(loc.key) {
			files = append(files, c.infoLocked(loc, child))
		}

		return nil
	})

	return newSliceScanner(files, err)
}

// Write implements Client. The parent directory must exist.
func (c *MemoryClient) Write(ctx context.Context, p string, r io.Reader) (int64, error) {
	var n int64

	err := c.run(ctx, p, true, OpWrite, func(ctx context.Context, loc location) error {
		var buf bytes.Buffer

		copied, err := copyContext(ctx, &buf, r)
		n = copied

		if err != nil {
			return fmt.Errorf("failed to write %s: %w", loc.display(loc.key.path), err)
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		if node, ok := c.lookupLocked(loc.key); ok && node.isDir {
			return pathError("write", loc, errIsDir)
		}

		if err := c.parentDirLocked("write", loc); err != nil {
			return err
		}

		c.nodes[loc.key] = &memNode{data: buf.Bytes(), modTime: time.Now()}

		return nil
	})

	return n, err
}

// run applies the throttle and timeout plumbing for remote protocols and
// checks for injected faults.
func (c *MemoryClient) run(
	ctx context.Context,
	p string,
	transfer bool,
	op Op,
	fn func(ctx context.Context, loc location) error,
) error {
	loc, err := c.locate(p)
	if err != nil {
		return err
	}

	body := func(ctx context.Context) error {
		err := ctx.Err()
		if err != nil {
			return err //nolint:wrapcheck // context error is the outcome
		}

		c.mu.RLock()
		err = c.checkFaultLocked(op, loc)
		c.mu.RUnlock()

		if err != nil {
			return err
		}

		return fn(ctx, loc)
	}

	if !c.proto.IsRemote() {
		return body(ctx)
	}

	return c.call(ctx, p, transfer, func(ctx context.Context, _ *Endpoint) error {
		return body(ctx)
	})
}

func (c *MemoryClient) locate(p string) (location, error) {
	if !c.proto.IsRemote() {
		return location{
			key:     memKey{resource: "local", path: path.Clean("/" + filepath.ToSlash(p))},
			display: func(p string) string { return filepath.FromSlash(p) },
		}, nil
	}

	endpoint, err := c.resolve(p)
	if err != nil {
		return location{}, err
	}

	return location{
		key:     memKey{resource: endpoint.ResourceKey(), path: path.Clean("/" + endpoint.Path)},
		display: endpoint.URI,
	}, nil
}

func (c *MemoryClient) mustLocate(p string) location {
	loc, err := c.locate(p)
	if err != nil {
		panic(fmt.Sprintf("memory client: %v", err))
	}

	return loc
}

func (c *MemoryClient) checkFaultLocked(op Op, loc location) error {
	if err, ok := c.faults[fault{op: op, key: loc.key}]; ok {
		return fmt.Errorf("%s %s: %w", op, loc.display(loc.key.path), err)
	}

	return nil
}

// lookupLocked finds a node. Roots always exist.
func (c *MemoryClient) lookupLocked(key memKey) (*memNode, bool) {
	if key.path == "/" {
		return &memNode{isDir: true}, true
	}

	node, ok := c.nodes[key]

	return node, ok
}

func (c *MemoryClient) fileLocked(op string, loc location) (*memNode, error) {
	node, ok := c.lookupLocked(loc.key)
	if !ok {
		return nil, pathError(op, loc, fs.ErrNotExist)
	}

	if node.isDir {
		return nil, pathError(op, loc, errIsDir)
	}

	return node, nil
}

func (c *MemoryClient) parentDirLocked(op string, loc location) error {
	parent, ok := c.lookupLocked(loc.parent().key)
	if !ok {
		return pathError(op, loc.parent(), fs.ErrNotExist)
	}

	if !parent.isDir {
		return pathError(op, loc.parent(), errNotDir)
	}

	return nil
}

// writableLocked checks that target does not exist and its parent does.
func (c *MemoryClient) writableLocked(op string, target location) error {
	if _, ok := c.lookupLocked(target.key); ok {
		return pathError(op, target, fs.ErrExist)
	}

	return c.parentDirLocked(op, target)
}

func (c *MemoryClient) mkdirAllLocked(loc location) error {
	if loc.key.path == "/" {
		return nil
	}

	err := c.mkdirAllLocked(loc.parent())
	if err != nil {
		return err
	}

	node, ok := c.nodes[loc.key]
	if ok && !node.isDir {
		return pathError("mkdir", loc, errNotDir)
	}

	if !ok {
		c.nodes[loc.key] = &memNode{isDir: true, modTime: time.Now()}
	}

	return nil
}

// descendantsLocked returns every key below dir, sorted by path.
func (c *MemoryClient) descendantsLocked(dir memKey) []memKey {
	prefix := strings.TrimSuffix(dir.path, "/") + "/"

	var keys []memKey

	for key := range c.nodes {
		if key.resource == dir.resource && strings.HasPrefix(key.path, prefix) {
			keys = append(keys, key)
		}
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].path < keys[j].path })

	return keys
}

func (c *MemoryClient) infoLocked(root location, key memKey) FileInfo {
	node, _ := c.lookupLocked(key)

	rel, err := relativePath(root.key.path, key.path)
	if err != nil {
		rel = ""
	}

	return FileInfo{
		Path:         root.display(displayPath(c.proto, key.path)),
		Name:         path.Base(key.path),
		RelativePath: rel,
		Size:         int64(len(node.data)),
		ModTime:      node.modTime,
		IsDir:        node.isDir,
	}
}

func (l location) parent() location {
	return location{
		key:     memKey{resource: l.key.resource, path: path.Dir(l.key.path)},
		display: l.display,
	}
}

// displayPath converts a stored path back to the form Endpoint.URI and the
// local display expect.
func displayPath(proto protocol.Protocol, p string) string {
	if proto == protocol.SMB {
		return strings.TrimPrefix(p, "/")
	}

	return p
}

func pathError(op string, loc location, err error) error {
	return &fs.PathError{Op: op, Path: loc.display(loc.key.path), Err: err}
}
