package fileops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	fserrors "github.com/joe/remotefs/pkg/errors"
	"github.com/joe/remotefs/pkg/filesystem"
	"github.com/sirupsen/logrus"
)

// route is how bytes travel from a source to a destination.
type route string

// Routes, also used as the metrics label for transferred bytes.
const (
	routeLocal    route = "local"
	routeDownload route = "download"
	routeUpload   route = "upload"
	// routeNative stays on one resource: server-side copy or rename.
	routeNative route = "native"
	// routeStream is the same protocol between two resources.
	routeStream route = "stream"
	// routeRelay buffers the whole file in memory between two protocols.
	routeRelay route = "relay"
)

// errTransferAborted stops the reading side of a stream whose writing side
// failed.
var errTransferAborted = errors.New("transfer aborted")

func classify(src, dst endpoint) route {
	srcProto, dstProto := src.client.Protocol(), dst.client.Protocol()

	switch {
	case !srcProto.IsRemote() && !dstProto.IsRemote():
		return routeLocal
	case !dstProto.IsRemote():
		return routeDownload
	case !srcProto.IsRemote():
		return routeUpload
	case srcProto != dstProto:
		return routeRelay
	case src.key == dst.key:
		return routeNative
	default:
		return routeStream
	}
}

// transferAll copies or moves every source into destination.
//
//nolint:funlen // one loop with undo bookkeeping
func (o *Orchestrator) transferAll(
	ctx context.Context,
	id string,
	op OperationType,
	sources []filesystem.FileRef,
	destination filesystem.FileRef,
	overwrite bool,
	track *tracker,
	logger logrus.FieldLogger,
) Result {
	if len(sources) == 0 {
		return o.failure(ErrNoSources, "")
	}

	if destination == nil {
		return o.failure(fmt.Errorf("%w: no destination given", fserrors.ErrUnresolvable), "")
	}

	b := newBatch(len(sources))
	undo := &UndoOperation{ID: id, Type: op, DestinationFolder: destination}

	for _, source := range sources {
		name := filesystem.Name(source)
		if !validName(name) {
			b.fail(source, fmt.Errorf("%s: %w %q", source, ErrInvalidName, name))

			continue
		}

		target := filesystem.Join(destination, name)

		src, err := o.open(source)
		if err != nil {
			b.fail(source, err)

			continue
		}

		dst, err := o.open(target)
		if err != nil {
			b.fail(source, err)

			continue
		}

		fileLogger := logger.WithFields(logrus.Fields{"source": source.String(), "target": target.String()})

		if op == TypeMove {
			err = o.move(ctx, src, dst, overwrite, track, fileLogger)
		} else {
			_, err = o.copy(ctx, src, dst, overwrite, track)
		}

		if err != nil {
			fileLogger.WithError(err).Warn("file failed")
			b.fail(source, err)

			continue
		}

		fileLogger.Debug("file done")
		track.fileDone(target.String(), false)
		b.succeed(target)

		undo.SourceFiles = append(undo.SourceFiles, source)
		undo.CopiedFiles = append(undo.CopiedFiles, target)
	}

	return o.result(b, op, undo)
}

// copy copies one file. The destination's parent is created first. A failed
// transfer removes whatever reached the destination.
func (o *Orchestrator) copy(ctx context.Context, src, dst endpoint, overwrite bool, track *tracker) (int64, error) {
	via := classify(src, dst)
	if via == routeLocal {
		return 0, fmt.Errorf("%s: %w", src.ref, ErrLocalCopy)
	}

	if filesystem.SameLocation(src.ref, dst.ref) {
		return 0, fmt.Errorf("%s is already in the destination: %w", src.ref, fserrors.ErrUnsupported)
	}

	info, err := src.client.Stat(ctx, src.path)
	if err != nil {
		return 0, err //nolint:wrapcheck // clients name the path
	}

	if info.IsDir {
		return 0, fmt.Errorf("%s is a directory: %w", src.ref, fserrors.ErrUnsupported)
	}

	exists, err := o.prepareTarget(ctx, dst, overwrite)
	if err != nil {
		return 0, err
	}

	var n int64

	switch via {
	case routeNative:
		copier, ok := src.client.(filesystem.ServerCopier)
		if !ok {
			n, err = relay(ctx, src, dst, track)

			break
		}

		if exists {
			err = dst.client.Remove(ctx, dst.path)
			if err != nil {
				return 0, fmt.Errorf("failed to replace %s: %w", dst.ref, err)
			}
		}

		n, err = copier.CopyWithin(ctx, src.path, dst.path)
		if err == nil {
			track.add(n, dst.ref.String())
		}
	case routeRelay:
		n, err = relay(ctx, src, dst, track)
	default:
		n, err = stream(ctx, src, dst, track)
	}

	if err != nil {
		// The client may have left a partial file even after ctx ended.
		_ = dst.client.Remove(context.WithoutCancel(ctx), dst.path)

		return n, err
	}

	o.metrics.AddBytes(string(via), n)

	return n, nil
}

// move moves one file. On one resource it is a rename; otherwise the file is
// copied and the source deleted afterwards. When that delete fails the file
// counts as failed and the complete copy is kept.
func (o *Orchestrator) move(
	ctx context.Context,
	src, dst endpoint,
	overwrite bool,
	track *tracker,
	logger logrus.FieldLogger,
) error {
	via := classify(src, dst)

	switch via {
	case routeLocal:
		return fmt.Errorf("%s: %w", src.ref, ErrLocalCopy)
	case routeNative:
		if filesystem.SameLocation(src.ref, dst.ref) {
			return fmt.Errorf("%s is already in the destination: %w", src.ref, fserrors.ErrUnsupported)
		}

		exists, err := o.prepareTarget(ctx, dst, overwrite)
		if err != nil {
			return err
		}

		if exists {
			err = dst.client.Remove(ctx, dst.path)
			if err != nil {
				return fmt.Errorf("failed to replace %s: %w", dst.ref, err)
			}
		}

		return src.client.Rename(ctx, src.path, dst.path) //nolint:wrapcheck // clients name both paths
	case routeDownload, routeUpload, routeStream, routeRelay:
	}

	_, err := o.copy(ctx, src, dst, overwrite, track)
	if err != nil {
		return err
	}

	err = src.client.Remove(ctx, src.path)
	if err == nil {
		return nil
	}

	logger.WithError(err).Warn("copied but could not delete the source")

	if via == routeUpload {
		return fmt.Errorf("uploaded %s to %s but the local file could not be deleted: %w", src.ref, dst.ref, err)
	}

	return fmt.Errorf("copied %s to %s but the source could not be deleted; the copy was kept: %w", src.ref, dst.ref, err)
}

// prepareTarget refuses an existing target unless overwrite is set and makes
// sure the target's directory exists. It reports whether the target exists.
func (o *Orchestrator) prepareTarget(ctx context.Context, dst endpoint, overwrite bool) (bool, error) {
	exists, err := filesystem.Exists(ctx, dst.client, dst.path)
	if err != nil {
		return false, err //nolint:wrapcheck // clients name the path
	}

	if exists && !overwrite {
		return true, fmt.Errorf("%s: %w", dst.ref, fserrors.ErrAlreadyExists)
	}

	parent := filesystem.Parent(dst.ref)

	err = dst.client.Mkdir(ctx, filesystem.RefPath(parent))
	if err != nil {
		return exists, fmt.Errorf("failed to create destination directory %s: %w", parent, err)
	}

	return exists, nil
}

// stream pipes the source into the destination while both calls run.
func stream(ctx context.Context, src, dst endpoint, track *tracker) (int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reader, writer := io.Pipe()
	readErr := make(chan error, 1)

	go func() {
		_, err := src.client.Read(ctx, src.path, writer)
		_ = writer.CloseWithError(err)
		readErr <- err
	}()

	n, err := dst.client.Write(ctx, dst.path, &progressReader{r: reader, track: track, label: dst.ref.String()})
	_ = reader.CloseWithError(errTransferAborted)

	srcErr := <-readErr
	if srcErr != nil && !errors.Is(srcErr, errTransferAborted) {
		return n, srcErr
	}

	return n, err //nolint:wrapcheck // clients name the path
}

// relay downloads the whole file into memory and uploads it. The two calls
// never overlap, so a resource at a limit of one cannot deadlock.
func relay(ctx context.Context, src, dst endpoint, track *tracker) (int64, error) {
	var buf bytes.Buffer

	_, err := src.client.Read(ctx, src.path, &buf)
	if err != nil {
		return 0, err //nolint:wrapcheck // clients name the path
	}

	return dst.client.Write(ctx, dst.path, &progressReader{r: &buf, track: track, label: dst.ref.String()}) //nolint:wrapcheck,lll // clients name the path
}

// progressReader reports bytes as the destination consumes them.
type progressReader struct {
	r     io.Reader
	track *tracker
	label string
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.track.add(int64(n), p.label)
	}

	return n, err //nolint:wrapcheck // io.Reader passthrough
}
