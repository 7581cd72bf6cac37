package fileops

import (
	"context"
	"fmt"

	fserrors "github.com/joe/remotefs/pkg/errors"
	"github.com/joe/remotefs/pkg/filesystem"
	"github.com/sirupsen/logrus"
)

func (o *Orchestrator) rename(
	ctx context.Context,
	id string,
	op Rename,
	track *tracker,
	logger logrus.FieldLogger,
) Result {
	if !validName(op.NewName) {
		return o.failure(fmt.Errorf("%w %q", ErrInvalidName, op.NewName), "")
	}

	src, err := o.open(op.File)
	if err != nil {
		return o.failure(err, refString(op.File))
	}

	target := filesystem.Join(filesystem.Parent(op.File), op.NewName)

	err = renameTo(ctx, src, target)
	if err != nil {
		logger.WithError(err).Warn("rename failed")

		return o.failure(err, op.File.String())
	}

	track.fileDone(target.String(), true)

	return Success{
		Count:          1,
		Operation:      TypeRename,
		ResultingPaths: []filesystem.FileRef{target},
		Undo: &UndoOperation{
			ID:          id,
			Type:        TypeRename,
			SourceFiles: []filesystem.FileRef{op.File},
			CopiedFiles: []filesystem.FileRef{target},
			OldNames:    []string{filesystem.Name(op.File)},
		},
	}
}

// renameTo renames src to target on the same client. An existing target is
// never replaced.
func renameTo(ctx context.Context, src endpoint, target filesystem.FileRef) error {
	targetPath := filesystem.RefPath(target)

	exists, err := filesystem.Exists(ctx, src.client, targetPath)
	if err != nil {
		return err //nolint:wrapcheck // clients name the path
	}

	if exists {
		return fmt.Errorf("cannot rename %s: %s %w", src.ref, target, fserrors.ErrAlreadyExists)
	}

	return src.client.Rename(ctx, src.path, targetPath) //nolint:wrapcheck // clients name both paths
}

func refString(ref filesystem.FileRef) string {
	if ref == nil {
		return ""
	}

	return ref.String()
}
