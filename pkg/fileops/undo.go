package fileops

import (
	"context"
	"fmt"

	fserrors "github.com/joe/remotefs/pkg/errors"
	"github.com/joe/remotefs/pkg/filesystem"
	"github.com/sirupsen/logrus"
)

// Undo reverses a finished operation. Permanent deletes cannot be undone
// and always yield a Failure wrapping fserrors.ErrNotUndoable.
func (o *Orchestrator) Undo(ctx context.Context, u *UndoOperation) Result {
	track := newTracker(Progress{}, o.now)
	defer track.complete()

	if !u.Undoable() {
		if u != nil && u.Type == TypeDelete {
			return o.failure(fserrors.ErrNotUndoable, "")
		}

		return o.failure(fmt.Errorf("%w: nothing to undo", fserrors.ErrUnsupported), "")
	}

	start := o.now()
	logger := o.logger.WithFields(logrus.Fields{"op": "undo_" + string(u.Type), "op_id": u.ID})

	var result Result

	switch u.Type {
	case TypeCopy:
		result = o.undoCopy(ctx, u)
	case TypeMove:
		result = o.undoMove(ctx, u, track, logger)
	case TypeRename:
		result = o.undoRename(ctx, u)
	case TypeDelete:
		result = o.restore(ctx, u, logger)
	default:
		result = o.failure(fmt.Errorf("%w: undo of %q", fserrors.ErrUnsupported, u.Type), "")
	}

	outcome := outcomeOf(result)
	o.metrics.ObserveOperation("undo_"+u.Type, outcome, o.now().Sub(start))
	logger.WithField("outcome", outcome).Info("undo finished")

	return result
}

func (o *Orchestrator) undoCopy(ctx context.Context, u *UndoOperation) Result {
	b := newBatch(len(u.CopiedFiles))

	for _, ref := range u.CopiedFiles {
		target, err := o.open(ref)
		if err == nil {
			err = target.client.Remove(ctx, target.path)
		}

		if err != nil {
			b.fail(ref, err)

			continue
		}

		b.succeed(ref)
	}

	return o.result(b, TypeCopy, nil)
}

func (o *Orchestrator) undoMove(ctx context.Context, u *UndoOperation, track *tracker, logger logrus.FieldLogger) Result {
	if len(u.SourceFiles) != len(u.CopiedFiles) {
		return o.failure(fmt.Errorf("%w: %d sources for %d moved files",
			fserrors.ErrUnsupported, len(u.SourceFiles), len(u.CopiedFiles)), "")
	}

	b := newBatch(len(u.CopiedFiles))

	for i, moved := range u.CopiedFiles {
		original := u.SourceFiles[i]

		src, err := o.open(moved)
		if err != nil {
			b.fail(moved, err)

			continue
		}

		dst, err := o.open(original)
		if err != nil {
			b.fail(moved, err)

			continue
		}

		err = o.move(ctx, src, dst, false, track, logger.WithField("source", moved.String()))
		if err != nil {
			b.fail(moved, err)

			continue
		}

		b.succeed(original)
	}

	return o.result(b, TypeMove, nil)
}

func (o *Orchestrator) undoRename(ctx context.Context, u *UndoOperation) Result {
	if len(u.OldNames) == 0 || !validName(u.OldNames[0]) {
		return o.failure(fmt.Errorf("%w: no previous name recorded", ErrInvalidName), "")
	}

	renamed := u.CopiedFiles[0]

	src, err := o.open(renamed)
	if err != nil {
		return o.failure(err, renamed.String())
	}

	original := filesystem.Join(filesystem.Parent(renamed), u.OldNames[0])

	err = renameTo(ctx, src, original)
	if err != nil {
		return o.failure(err, renamed.String())
	}

	return Success{Count: 1, Operation: TypeRename, ResultingPaths: []filesystem.FileRef{original}}
}

// restore moves trashed files back to their original paths, matching them
// by name, and removes the trash directory once it is empty.
func (o *Orchestrator) restore(ctx context.Context, u *UndoOperation, logger logrus.FieldLogger) Result {
	trash, originals := u.CopiedFiles[0], u.CopiedFiles[1:]

	dir, err := o.open(trash)
	if err != nil {
		return o.failure(err, trash.String())
	}

	entries, err := dir.client.List(ctx, dir.path)
	if err != nil {
		return o.failure(err, trash.String())
	}

	inTrash := make(map[string]bool, len(entries))
	for _, entry := range entries {
		inTrash[entry.Name] = true
	}

	b := newBatch(len(originals))

	for _, original := range originals {
		name := filesystem.Name(original)
		if !inTrash[name] {
			b.fail(original, errNotInTrash(original, trash))

			continue
		}

		// Only the first original with a given name was trashed under it.
		delete(inTrash, name)

		src, err := o.open(filesystem.Join(trash, name))
		if err == nil {
			err = renameTo(ctx, src, original)
		}

		if err != nil {
			b.fail(original, err)

			continue
		}

		b.succeed(original)
	}

	remaining, err := dir.client.List(ctx, dir.path)
	if err == nil && len(remaining) == 0 {
		err = dir.client.RemoveDir(ctx, dir.path)
	}

	if err != nil {
		logger.WithError(err).WithField("trash", trash.String()).Warn("trash directory kept")
	}

	return o.result(b, TypeDelete, nil)
}
