package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync"

	"github.com/pkg/sftp"
)

// sftpFile is the part of *sftp.File the pooled wrapper uses.
type sftpFile interface {
	io.Reader
	io.Writer
	io.Closer
}

// clientPool abstracts SFTP channel pool operations for testing.
type clientPool interface {
	Acquire(ctx context.Context) (*sftp.Client, error)
	Release(client *sftp.Client)
}

// PooledSFTPFile wraps an sftpFile and releases the SFTP channel it was
// opened on when Close is called, even if closing the file fails.
type PooledSFTPFile struct {
	file   sftpFile
	client *sftp.Client
	pool   clientPool
	mu     sync.Mutex
	closed bool
}

// NewPooledSFTPFile creates a new pooled SFTP file wrapper.
// Returns an error if any parameter is nil.
func NewPooledSFTPFile(file sftpFile, client *sftp.Client, pool clientPool) (*PooledSFTPFile, error) {
	if file == nil {
		return nil, errors.New("file cannot be nil") //nolint:err113 // argument validation
	}

	if client == nil {
		return nil, errors.New("client cannot be nil") //nolint:err113 // argument validation
	}

	if pool == nil {
		return nil, errors.New("pool cannot be nil") //nolint:err113 // argument validation
	}

	return &PooledSFTPFile{
		file:   file,
		client: client,
		pool:   pool,
	}, nil
}

// openPooled acquires a channel, opens a file on it and wraps the file so
// that closing it releases the channel.
func openPooled(
	ctx context.Context,
	pool clientPool,
	open func(*sftp.Client) (*sftp.File, error),
) (*PooledSFTPFile, error) {
	client, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire SFTP client: %w", err)
	}

	file, err := open(client)
	if err != nil {
		pool.Release(client)

		return nil, err
	}

	return &PooledSFTPFile{file: file, client: client, pool: pool}, nil
}

// Read reads up to len(p) bytes into p from the underlying file.
// Returns fs.ErrClosed if the file has been closed.
func (f *PooledSFTPFile) Read(p []byte) (int, error) {
	if f.isClosed() {
		return 0, fs.ErrClosed
	}

	return f.file.Read(p) //nolint:wrapcheck // io.Reader passthrough
}

// Write writes len(p) bytes from p to the underlying file.
// Returns fs.ErrClosed if the file has been closed.
func (f *PooledSFTPFile) Write(p []byte) (int, error) {
	if f.isClosed() {
		return 0, fs.ErrClosed
	}

	return f.file.Write(p) //nolint:wrapcheck // io.Writer passthrough
}

// ReadFrom lets io.Copy hand the whole source to a *sftp.File, which
// pipelines its writes.
func (f *PooledSFTPFile) ReadFrom(r io.Reader) (int64, error) {
	if f.isClosed() {
		return 0, fs.ErrClosed
	}

	if rf, ok := f.file.(io.ReaderFrom); ok {
		return rf.ReadFrom(r) //nolint:wrapcheck // io.ReaderFrom passthrough
	}

	return io.Copy(f.file, r) //nolint:wrapcheck // io.Writer passthrough
}

// Close closes the underlying file and releases the SFTP client back to the
// pool. Close is idempotent.
func (f *PooledSFTPFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}

	f.closed = true

	fileErr := f.file.Close()

	// Always release, or the channel pool runs dry
	f.pool.Release(f.client)

	return fileErr //nolint:wrapcheck // io.Closer passthrough
}

func (f *PooledSFTPFile) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}
