package fileops

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strconv"

	"github.com/joe/remotefs/pkg/filesystem"
	"github.com/sirupsen/logrus"
)

// delete removes or trashes every file. A soft delete creates one trash
// directory for the whole batch next to the first file's parent. If that
// fails the batch is deleted permanently.
func (o *Orchestrator) delete(
	ctx context.Context,
	id string,
	op Delete,
	track *tracker,
	logger logrus.FieldLogger,
) Result {
	if len(op.Files) == 0 {
		return o.failure(ErrNoSources, "")
	}

	b := newBatch(len(op.Files))
	undo := &UndoOperation{ID: id, Type: TypeDelete}
	soft := op.SoftDelete

	var trash filesystem.FileRef

	for _, ref := range op.Files {
		target, err := o.open(ref)
		if err != nil {
			b.fail(ref, err)

			continue
		}

		if soft && trash == nil {
			trash, err = o.makeTrash(ctx, target)
			if err != nil {
				logger.WithError(err).Warn("could not create trash directory; deleting permanently")

				soft = false
			} else {
				undo.CopiedFiles = append(undo.CopiedFiles, trash)
				logger.WithField("trash", trash.String()).Debug("trash directory created")
			}
		}

		if soft {
			err = renameTo(ctx, target, trashed(target.ref, trash))
		} else {
			err = o.removeTree(ctx, target)
		}

		if err != nil {
			logger.WithError(err).WithField("file", ref.String()).Warn("delete failed")
			b.fail(ref, err)

			continue
		}

		track.fileDone(ref.String(), true)
		b.succeed(ref)

		if soft {
			undo.CopiedFiles = append(undo.CopiedFiles, ref)
		}
	}

	// Only the trash itself is recorded: nothing was moved into it.
	if trash != nil && len(undo.CopiedFiles) == 1 {
		o.dropTrash(ctx, trash, logger)
		undo.CopiedFiles = nil
	}

	return o.result(b, TypeDelete, undo)
}

// dropTrash removes an empty trash directory, best effort.
func (o *Orchestrator) dropTrash(ctx context.Context, trash filesystem.FileRef, logger logrus.FieldLogger) {
	target, err := o.open(trash)
	if err == nil {
		err = target.client.RemoveDir(ctx, target.path)
	}

	if err != nil {
		logger.WithError(err).WithField("trash", trash.String()).Warn("could not remove empty trash directory")
	}
}

// makeTrash creates ".trash_<epochMillis>" beside the parent of target,
// never above the root of target's endpoint.
func (o *Orchestrator) makeTrash(ctx context.Context, target endpoint) (filesystem.FileRef, error) {
	name := TrashPrefix + strconv.FormatInt(o.now().UnixMilli(), 10)
	trash := filesystem.Join(filesystem.Parent(filesystem.Parent(target.ref)), name)

	err := target.client.Mkdir(ctx, filesystem.RefPath(trash))
	if err != nil {
		return nil, fmt.Errorf("failed to create trash directory %s: %w", trash, err)
	}

	return trash, nil
}

// trashed is where ref goes inside trash. Files on another protocol than
// the trash cannot be renamed into it; the client rejects the path.
func trashed(ref, trash filesystem.FileRef) filesystem.FileRef {
	return filesystem.Join(trash, filesystem.Name(ref))
}

// removeTree deletes a file, or a directory with everything below it.
func (o *Orchestrator) removeTree(ctx context.Context, target endpoint) error {
	info, err := target.client.Stat(ctx, target.path)
	if err != nil {
		return err //nolint:wrapcheck // clients name the path
	}

	if !info.IsDir {
		return target.client.Remove(ctx, target.path) //nolint:wrapcheck // clients name the path
	}

	entries, err := filesystem.Collect(target.client.Walk(ctx, target.path))
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", target.ref, err)
	}

	// Deepest first, so directories are empty when their turn comes.
	sort.SliceStable(entries, func(i, j int) bool {
		return len(entries[i].Path) > len(entries[j].Path)
	})

	for _, entry := range entries {
		if entry.IsDir {
			err = target.client.RemoveDir(ctx, entry.Path)
		} else {
			err = target.client.Remove(ctx, entry.Path)
		}

		if err != nil {
			return err //nolint:wrapcheck // clients name the path
		}
	}

	err = target.client.RemoveDir(ctx, target.path)
	if err != nil {
		return err //nolint:wrapcheck // clients name the path
	}

	return nil
}

// errNotInTrash is reported for originals whose file is gone from the trash.
func errNotInTrash(original, trash filesystem.FileRef) error {
	return fmt.Errorf("%s is not in %s: %w", filesystem.Name(original), trash, fs.ErrNotExist)
}
