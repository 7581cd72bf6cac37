package filesystem

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	fserrors "github.com/joe/remotefs/pkg/errors"
	"github.com/joe/remotefs/pkg/pool"
	"github.com/joe/remotefs/pkg/protocol"
	"github.com/pkg/sftp"
)

// SFTPClient implements Client for sftp:// URIs. Each pooled SSH
// connection carries a pool of SFTP channels sized to the throttle's
// current limit for the server.
type SFTPClient struct {
	remote

	pool *pool.Pool
}

// NewSFTPClient creates an SFTP client. connections must have been created
// with an SFTPDialer.
func NewSFTPClient(resolver *Resolver, connections *pool.Pool, opts ...Option) *SFTPClient {
	return &SFTPClient{
		remote: newRemote(protocol.SFTP, resolver, opts),
		pool:   connections,
	}
}

// List returns the entries of a directory.
func (c *SFTPClient) List(ctx context.Context, p string) ([]FileInfo, error) {
	var infos []FileInfo

	err := c.do(ctx, p, false, func(_ context.Context, client *sftp.Client, endpoint *Endpoint) error {
		entries, err := client.ReadDir(endpoint.Path)
		if err != nil {
			return fmt.Errorf("failed to list remote directory %s: %w", p, err)
		}

		infos = make([]FileInfo, 0, len(entries))
		for _, entry := range entries {
			child := path.Join(endpoint.Path, entry.Name())
			infos = append(infos, fromOSInfo(endpoint.URI(child), entry.Name(), entry))
		}

		return nil
	})

	return infos, err
}

// Mkdir creates a remote directory and all necessary parents.
func (c *SFTPClient) Mkdir(ctx context.Context, p string) error {
	return c.do(ctx, p, false, func(_ context.Context, client *sftp.Client, endpoint *Endpoint) error {
		err := client.MkdirAll(endpoint.Path)
		if err != nil {
			return fmt.Errorf("failed to create remote directory %s: %w", p, err)
		}

		return nil
	})
}

// Read streams a remote file into w.
func (c *SFTPClient) Read(ctx context.Context, p string, w io.Writer) (int64, error) {
	var n int64

	err := c.withChannels(ctx, p, true, func(ctx context.Context, channels *ChannelPool, endpoint *Endpoint) error {
		file, err := openPooled(ctx, channels, func(client *sftp.Client) (*sftp.File, error) {
			return client.Open(endpoint.Path) //nolint:wrapcheck // wrapped below
		})
		if err != nil {
			return fmt.Errorf("failed to open remote file %s: %w", p, err)
		}
		defer file.Close()

		n, err = copyContext(ctx, w, file)
		if err != nil {
			return fmt.Errorf("failed to read remote file %s: %w", p, err)
		}

		return nil
	})

	return n, err
}

// Remove removes a remote file.
func (c *SFTPClient) Remove(ctx context.Context, p string) error {
	return c.do(ctx, p, false, func(_ context.Context, client *sftp.Client, endpoint *Endpoint) error {
		info, err := client.Lstat(endpoint.Path)
		if err == nil && info.IsDir() {
			return fmt.Errorf("failed to remove remote file %s: %w", p, errIsDir)
		}

		err = client.Remove(endpoint.Path)
		if err != nil {
			return fmt.Errorf("failed to remove remote file %s: %w", p, err)
		}

		return nil
	})
}

// RemoveDir removes an empty remote directory.
func (c *SFTPClient) RemoveDir(ctx context.Context, p string) error {
	return c.do(ctx, p, false, func(_ context.Context, client *sftp.Client, endpoint *Endpoint) error {
		err := client.RemoveDirectory(endpoint.Path)
		if err != nil {
			return fmt.Errorf("failed to remove remote directory %s: %w", p, err)
		}

		return nil
	})
}

// Rename moves a file on the same server.
func (c *SFTPClient) Rename(ctx context.Context, from, to string) error {
	target, err := c.resolve(to)
	if err != nil {
		return err
	}

	return c.do(ctx, from, false, func(_ context.Context, client *sftp.Client, endpoint *Endpoint) error {
		if endpoint.ResourceKey() != target.ResourceKey() {
			return fmt.Errorf("%s and %s are on different servers: %w", from, to, fserrors.ErrUnsupported)
		}

		err := client.Rename(endpoint.Path, target.Path)
		if err != nil {
			return fmt.Errorf("failed to rename %s to %s: %w", from, to, err)
		}

		return nil
	})
}

// Stat returns file information for a remote file.
func (c *SFTPClient) Stat(ctx context.Context, p string) (FileInfo, error) {
	var info FileInfo

	err := c.do(ctx, p, false, func(_ context.Context, client *sftp.Client, endpoint *Endpoint) error {
		stat, err := client.Stat(endpoint.Path)
		if err != nil {
			return fmt.Errorf("failed to stat remote file %s: %w", p, err)
		}

		name := path.Base(endpoint.Path)
		info = fromOSInfo(endpoint.URI(endpoint.Path), name, stat)

		return nil
	})

	return info, err
}

// Walk returns every entry below root. The tree is read on one channel
// and replayed from memory.
func (c *SFTPClient) Walk(ctx context.Context, root string) FileScanner {
	var files []FileInfo

	err := c.do(ctx, root, true, func(ctx context.Context, client *sftp.Client, endpoint *Endpoint) error {
		scanner := newWalkScanner(ctx, client.Walk(endpoint.Path), endpoint.Path, relativePath, endpoint.URI)

		var err error

		files, err = Collect(scanner)

		return err
	})

	return newSliceScanner(files, err)
}

// Write creates or truncates a remote file with the contents of r. A failed
// upload removes the partial file.
func (c *SFTPClient) Write(ctx context.Context, p string, r io.Reader) (int64, error) {
	var n int64

	err := c.withChannels(ctx, p, true, func(ctx context.Context, channels *ChannelPool, endpoint *Endpoint) error {
		file, err := openPooled(ctx, channels, func(client *sftp.Client) (*sftp.File, error) {
			return client.OpenFile(endpoint.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC) //nolint:wrapcheck // wrapped below
		})
		if err != nil {
			return fmt.Errorf("failed to create remote file %s: %w", p, err)
		}

		n, err = copyContext(ctx, file, r)
		if err != nil {
			_ = file.Close()

			// Concurrent writes can leave holes; drop the partial file.
			client, acquireErr := channels.Acquire(ctx)
			if acquireErr == nil {
				_ = client.Remove(endpoint.Path)
				channels.Release(client)
			}

			return fmt.Errorf("failed to write remote file %s: %w", p, err)
		}

		err = file.Close()
		if err != nil {
			return fmt.Errorf("failed to write remote file %s: %w", p, err)
		}

		return nil
	})

	return n, err
}

// do runs fn on one SFTP channel of the pooled connection for p.
func (c *SFTPClient) do(
	ctx context.Context,
	p string,
	transfer bool,
	fn func(ctx context.Context, client *sftp.Client, endpoint *Endpoint) error,
) error {
	return c.withChannels(ctx, p, transfer, func(ctx context.Context, channels *ChannelPool, endpoint *Endpoint) error {
		client, err := channels.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("failed to acquire SFTP client: %w", err)
		}
		defer channels.Release(client)

		return fn(ctx, client, endpoint)
	})
}

// withChannels runs fn with the channel pool of the pooled connection for
// p. Transfers are not rerun on a fresh connection. The channel pool follows the throttle's limit for the server. A call
// that outlives ctx abandons the connection, because pkg/sftp requests
// cannot be cancelled.
func (c *SFTPClient) withChannels(
	ctx context.Context,
	p string,
	transfer bool,
	fn func(ctx context.Context, channels *ChannelPool, endpoint *Endpoint) error,
) error {
	borrow := c.pool.Do
	if transfer {
		borrow = c.pool.DoOnce
	}

	return c.call(ctx, p, transfer, func(ctx context.Context, endpoint *Endpoint) error {
		return borrow(ctx, endpoint.PoolInfo(), func(conn pool.Conn) error {
			session, ok := conn.(*sftpSession)
			if !ok {
				return fmt.Errorf("unexpected SFTP connection type %T", conn) //nolint:err113 // pool misconfiguration
			}

			if state, ok := c.throttle.Snapshot(endpoint.ResourceKey()); ok {
				session.channels.Resize(state.CurrentLimit)
			}

			return fserrors.Normalize(watch(ctx, session.Abandon, func() error {
				return fn(ctx, session.channels, endpoint)
			}))
		})
	})
}
