// Package filesystem resolves protocol URIs and performs file operations
// against local disks and remote SMB, SFTP and FTP servers through one
// Client interface.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joe/remotefs/pkg/protocol"
	krfs "github.com/kr/fs"
)

// Errors for operations on the wrong kind of entry.
var (
	errDirNotEmpty = errors.New("directory not empty")
	errIsDir       = errors.New("is a directory")
	errNotDir      = errors.New("not a directory")
)

// Client performs file operations for one protocol. Remote clients take
// protocol URIs as paths; the local client takes OS paths.
//
// Every method of a remote client resolves its path, waits for a throttle
// permit on the path's resource, and runs under a timeout.
type Client interface {
	Protocol() protocol.Protocol
	// ResourceKey returns the throttle key of the resource holding p. Two
	// paths with the same key can be renamed into each other natively.
	ResourceKey(p string) (string, error)
	Stat(ctx context.Context, p string) (FileInfo, error)
	List(ctx context.Context, p string) ([]FileInfo, error)
	// Walk returns every entry below root, depth first.
	Walk(ctx context.Context, root string) FileScanner
	// Read streams the file at p into w.
	Read(ctx context.Context, p string, w io.Writer) (int64, error)
	// Write creates or truncates the file at p with the contents of r.
	Write(ctx context.Context, p string, r io.Reader) (int64, error)
	// Mkdir creates p and any missing parents.
	Mkdir(ctx context.Context, p string) error
	// Remove deletes a file.
	Remove(ctx context.Context, p string) error
	// RemoveDir deletes an empty directory.
	RemoveDir(ctx context.Context, p string) error
	// Rename moves a file within one resource.
	Rename(ctx context.Context, from, to string) error
}

// ServerCopier is implemented by clients that can copy a file between two
// paths on the same resource without routing the bytes through the caller.
type ServerCopier interface {
	CopyWithin(ctx context.Context, from, to string) (int64, error)
}

// Exists reports whether p exists. Errors other than "not found" are
// returned.
func Exists(ctx context.Context, client Client, p string) (bool, error) {
	_, err := client.Stat(ctx, p)
	if err == nil {
		return true, nil
	}

	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	return false, err
}

// LocalClient implements Client on the local filesystem. It is never
// throttled.
type LocalClient struct{}

// NewLocalClient creates a new LocalClient instance.
func NewLocalClient() *LocalClient {
	return &LocalClient{}
}

// Protocol implements Client.
func (c *LocalClient) Protocol() protocol.Protocol {
	return protocol.Local
}

// ResourceKey implements Client. All local paths share one resource.
func (c *LocalClient) ResourceKey(string) (string, error) {
	return "local", nil
}

// List returns the entries of a directory.
func (c *LocalClient) List(ctx context.Context, p string) ([]FileInfo, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(p)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", p, err)
	}

	infos := make([]FileInfo, 0, len(entries))

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", filepath.Join(p, entry.Name()), err)
		}

		infos = append(infos, fromOSInfo(filepath.Join(p, entry.Name()), entry.Name(), info))
	}

	return infos, nil
}

// Mkdir creates a directory and all necessary parents.
func (c *LocalClient) Mkdir(_ context.Context, p string) error {
	err := os.MkdirAll(p, 0o755) //nolint:mnd // rwxr-xr-x
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", p, err)
	}

	return nil
}

// Read streams a file into w.
func (c *LocalClient) Read(ctx context.Context, p string, w io.Writer) (int64, error) {
	file, err := os.Open(p) //nolint:gosec // caller-chosen path is the point
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", p, err)
	}
	defer file.Close()

	n, err := copyContext(ctx, w, file)
	if err != nil {
		return n, fmt.Errorf("failed to read %s: %w", p, err)
	}

	return n, nil
}

// Remove removes a file.
func (c *LocalClient) Remove(_ context.Context, p string) error {
	info, err := os.Lstat(p)
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", p, err)
	}

	if info.IsDir() {
		return fmt.Errorf("failed to remove %s: %w", p, errIsDir)
	}

	err = os.Remove(p)
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", p, err)
	}

	return nil
}

// RemoveDir removes an empty directory.
func (c *LocalClient) RemoveDir(_ context.Context, p string) error {
	err := os.Remove(p)
	if err != nil {
		return fmt.Errorf("failed to remove directory %s: %w", p, err)
	}

	return nil
}

// Rename moves a file.
func (c *LocalClient) Rename(_ context.Context, from, to string) error {
	err := os.Rename(from, to)
	if err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", from, to, err)
	}

	return nil
}

// Stat returns file information.
func (c *LocalClient) Stat(ctx context.Context, p string) (FileInfo, error) {
	err := ctx.Err()
	if err != nil {
		return FileInfo{}, err
	}

	info, err := os.Stat(p)
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to stat %s: %w", p, err)
	}

	return fromOSInfo(p, info.Name(), info), nil
}

// Walk returns a scanner over the tree below root.
func (c *LocalClient) Walk(ctx context.Context, root string) FileScanner {
	return newWalkScanner(ctx, krfs.Walk(root), root, filepath.Rel, func(p string) string { return p })
}

// Write creates or truncates a file with the contents of r.
func (c *LocalClient) Write(ctx context.Context, p string, r io.Reader) (int64, error) {
	file, err := os.Create(p) //nolint:gosec // caller-chosen path is the point
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", p, err)
	}

	n, err := copyContext(ctx, file, r)
	if err != nil {
		_ = file.Close()

		return n, fmt.Errorf("failed to write %s: %w", p, err)
	}

	err = file.Close()
	if err != nil {
		return n, fmt.Errorf("failed to write %s: %w", p, err)
	}

	return n, nil
}

func fromOSInfo(p, name string, info os.FileInfo) FileInfo {
	return FileInfo{
		Path:    p,
		Name:    name,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}
}
