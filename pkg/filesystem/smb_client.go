package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/hirochachacha/go-smb2"
	fserrors "github.com/joe/remotefs/pkg/errors"
	"github.com/joe/remotefs/pkg/pool"
	"github.com/joe/remotefs/pkg/protocol"
	krfs "github.com/kr/fs"
	"github.com/sirupsen/logrus"
)

// CommonShareNames are the share names ListShares tries. The list is a
// guess: shares with other names are not found.
//
//nolint:gochecknoglobals // read-only share name list
var CommonShareNames = []string{
	"Backup",
	"Data",
	"Documents",
	"Downloads",
	"Files",
	"Home",
	"homes",
	"Media",
	"Movies",
	"Multimedia",
	"Music",
	"Photos",
	"Pictures",
	"Public",
	"Share",
	"Shared",
	"Storage",
	"Users",
	"Videos",
}

// SMBClient implements Client for smb:// URIs. Sessions come from a shared
// connection pool keyed by server, share and identity.
type SMBClient struct {
	remote

	pool *pool.Pool
}

// NewSMBClient creates an SMB client. connections must have been created
// with an SMBDialer.
func NewSMBClient(resolver *Resolver, connections *pool.Pool, opts ...Option) *SMBClient {
	return &SMBClient{
		remote: newRemote(protocol.SMB, resolver, opts),
		pool:   connections,
	}
}

// CopyWithin copies a file to another path on the same share. go-smb2 uses a
// server-side copy when both files are on one tree.
func (c *SMBClient) CopyWithin(ctx context.Context, from, to string) (int64, error) {
	target, err := c.sameShare(from, to)
	if err != nil {
		return 0, err
	}

	var copied int64

	err = c.do(ctx, from, true, func(_ context.Context, share *smb2.Share, endpoint *Endpoint) error {
		src, err := share.Open(endpoint.Path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", from, err)
		}
		defer src.Close()

		dst, err := share.OpenFile(target.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644) //nolint:mnd // rw-r--r--
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", to, err)
		}

		copied, err = dst.ReadFrom(src)
		if err != nil {
			_ = dst.Close()
			_ = share.Remove(target.Path)

			return fmt.Errorf("failed to copy %s to %s: %w", from, to, err)
		}

		return dst.Close() //nolint:wrapcheck // normalized by do
	})

	return copied, err
}

// List returns the entries of a directory.
func (c *SMBClient) List(ctx context.Context, p string) ([]FileInfo, error) {
	var infos []FileInfo

	err := c.do(ctx, p, false, func(_ context.Context, share *smb2.Share, endpoint *Endpoint) error {
		entries, err := share.ReadDir(endpoint.Path)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", p, err)
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

// ListShares tries host for the names in CommonShareNames and returns the
// ones that can be mounted. It is best effort: a share with any other name
// is missed, and every attempt is a round trip.
func (c *SMBClient) ListShares(ctx context.Context, host string) ([]string, error) {
	endpoint, err := c.resolve("smb://" + host + "/IPC$")
	if err != nil {
		return nil, err
	}

	info := endpoint.PoolInfo()
	info.Share = ""

	// Attempts share the host's session; throttle them as one resource.
	key := strings.TrimSuffix(endpoint.ResourceKey(), "IPC$")

	var found []string

	err = c.throttle.Do(ctx, protocol.SMB, key, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.timeouts.Op)
		defer cancel()

		return c.pool.Do(ctx, info, func(conn pool.Conn) error {
			session, ok := conn.(*smbSession)
			if !ok {
				return fmt.Errorf("unexpected SMB connection type %T", conn) //nolint:err113 // pool misconfiguration
			}

			found = found[:0]

			for _, name := range CommonShareNames {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				err := session.tryShare(ctx, name)
				if err != nil {
					c.logger.WithFields(logrus.Fields{"share": name, "host": host}).
						WithError(err).Debug("share not mountable")

					continue
				}

				found = append(found, name)
			}

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list shares on %s: %w", host, err)
	}

	return found, nil
}

// Mkdir creates a directory and any missing parents.
func (c *SMBClient) Mkdir(ctx context.Context, p string) error {
	return c.do(ctx, p, false, func(_ context.Context, share *smb2.Share, endpoint *Endpoint) error {
		current := ""

		for _, segment := range strings.Split(endpoint.Path, "/") {
			if segment == "" {
				continue
			}

			current = path.Join(current, segment)

			err := share.Mkdir(current, 0o755) //nolint:mnd // rwxr-xr-x
			if err != nil && !errors.Is(fserrors.Normalize(err), fs.ErrExist) {
				return fmt.Errorf("failed to create directory %s: %w", endpoint.URI(current), err)
			}
		}

		return nil
	})
}

// Read streams a file into w.
func (c *SMBClient) Read(ctx context.Context, p string, w io.Writer) (int64, error) {
	var n int64

	err := c.do(ctx, p, true, func(ctx context.Context, share *smb2.Share, endpoint *Endpoint) error {
		file, err := share.Open(endpoint.Path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", p, err)
		}
		defer file.Close()

		n, err = copyContext(ctx, w, file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}

		return nil
	})

	return n, err
}

// Remove removes a file.
func (c *SMBClient) Remove(ctx context.Context, p string) error {
	return c.do(ctx, p, false, func(_ context.Context, share *smb2.Share, endpoint *Endpoint) error {
		err := share.Remove(endpoint.Path)
		if err != nil {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}

		return nil
	})
}

// RemoveDir removes an empty directory.
func (c *SMBClient) RemoveDir(ctx context.Context, p string) error {
	return c.do(ctx, p, false, func(_ context.Context, share *smb2.Share, endpoint *Endpoint) error {
		if endpoint.Path == "" {
			return fmt.Errorf("refusing to remove share root %s: %w", p, fserrors.ErrUnsupported)
		}

		err := share.Remove(endpoint.Path)
		if err != nil {
			return fmt.Errorf("failed to remove directory %s: %w", p, err)
		}

		return nil
	})
}

// Rename moves a file within one share.
func (c *SMBClient) Rename(ctx context.Context, from, to string) error {
	target, err := c.sameShare(from, to)
	if err != nil {
		return err
	}

	return c.do(ctx, from, false, func(_ context.Context, share *smb2.Share, endpoint *Endpoint) error {
		err := share.Rename(endpoint.Path, target.Path)
		if err != nil {
			return fmt.Errorf("failed to rename %s to %s: %w", from, to, err)
		}

		return nil
	})
}

// Stat returns file information.
func (c *SMBClient) Stat(ctx context.Context, p string) (FileInfo, error) {
	var info FileInfo

	err := c.do(ctx, p, false, func(_ context.Context, share *smb2.Share, endpoint *Endpoint) error {
		if endpoint.Path == "" {
			info = FileInfo{Path: endpoint.Root(), Name: endpoint.Share, IsDir: true}

			return nil
		}

		stat, err := share.Stat(endpoint.Path)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", p, err)
		}

		info = fromOSInfo(endpoint.URI(endpoint.Path), stat.Name(), stat)

		return nil
	})

	return info, err
}

// Walk returns every entry below root. The tree is read while one session
// is held and replayed from memory.
func (c *SMBClient) Walk(ctx context.Context, root string) FileScanner {
	var files []FileInfo

	err := c.do(ctx, root, true, func(ctx context.Context, share *smb2.Share, endpoint *Endpoint) error {
		walker := krfs.WalkFS(endpoint.Path, shareFS{share: share})
		scanner := newWalkScanner(ctx, walker, endpoint.Path, relativePath, endpoint.URI)

		var err error

		files, err = Collect(scanner)

		return err
	})

	return newSliceScanner(files, err)
}

// Write creates or truncates a file with the contents of r. A failed upload
// removes the partial file.
func (c *SMBClient) Write(ctx context.Context, p string, r io.Reader) (int64, error) {
	var n int64

	err := c.do(ctx, p, true, func(ctx context.Context, share *smb2.Share, endpoint *Endpoint) error {
		file, err := share.OpenFile(endpoint.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644) //nolint:mnd // rw-r--r--
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", p, err)
		}

		n, err = copyContext(ctx, file, r)
		if err == nil {
			err = file.Close()
		} else {
			_ = file.Close()
		}

		if err != nil {
			removeErr := share.Remove(endpoint.Path)
			if removeErr != nil {
				c.logger.WithField("path", p).WithError(removeErr).Debug("failed to remove partial upload")
			}

			return fmt.Errorf("failed to write %s: %w", p, err)
		}

		return nil
	})

	return n, err
}

// do runs fn on the pooled share for p with the resolved endpoint.
// Transfers consume caller streams, so they run once even when the session
// breaks.
func (c *SMBClient) do(
	ctx context.Context,
	p string,
	transfer bool,
	fn func(ctx context.Context, share *smb2.Share, endpoint *Endpoint) error,
) error {
	borrow := c.pool.Do
	if transfer {
		borrow = c.pool.DoOnce
	}

	return c.call(ctx, p, transfer, func(ctx context.Context, endpoint *Endpoint) error {
		return borrow(ctx, endpoint.PoolInfo(), func(conn pool.Conn) error {
			session, ok := conn.(*smbSession)
			if !ok || session.share == nil {
				return fmt.Errorf("unexpected SMB connection type %T", conn) //nolint:err113 // pool misconfiguration
			}

			return fserrors.Normalize(fn(ctx, session.share.WithContext(ctx), endpoint))
		})
	})
}

// sameShare resolves to and checks that it is on the same share as from.
func (c *SMBClient) sameShare(from, to string) (*Endpoint, error) {
	source, err := c.resolve(from)
	if err != nil {
		return nil, err
	}

	target, err := c.resolve(to)
	if err != nil {
		return nil, err
	}

	if source.ResourceKey() != target.ResourceKey() {
		return nil, fmt.Errorf("%s and %s are on different shares: %w", from, to, fserrors.ErrUnsupported)
	}

	return target, nil
}
