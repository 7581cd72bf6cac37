package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/joe/remotefs/internal/config"
	"github.com/joe/remotefs/pkg/fileops"
	"github.com/joe/remotefs/pkg/filesystem"
)

// ShareLister lists the shares of an SMB host.
type ShareLister interface {
	ListShares(ctx context.Context, host string) ([]string, error)
}

// Runner executes parsed commands.
type Runner struct {
	orch    *fileops.Orchestrator
	shares  ShareLister
	printer *Printer
}

// NewRunner creates a Runner.
func NewRunner(orch *fileops.Orchestrator, shares ShareLister, printer *Printer) *Runner {
	return &Runner{orch: orch, shares: shares, printer: printer}
}

// Run executes the command cfg selects and returns the process exit code.
func (r *Runner) Run(ctx context.Context, cfg *config.Config) int {
	switch {
	case cfg.List != nil:
		return r.list(ctx, cfg.List, false)
	case cfg.Scan != nil:
		return r.list(ctx, cfg.Scan, true)
	case cfg.Count != nil:
		return r.count(ctx, cfg.Count)
	case cfg.Copy != nil:
		return r.execute(ctx, "copied", fileops.Copy{
			Sources: cfg.Copy.Sources, Destination: cfg.Copy.Destination, Overwrite: cfg.Overwrite,
		})
	case cfg.Move != nil:
		return r.execute(ctx, "moved", fileops.Move{
			Sources: cfg.Move.Sources, Destination: cfg.Move.Destination, Overwrite: cfg.Overwrite,
		})
	case cfg.Rename != nil:
		return r.execute(ctx, "renamed", fileops.Rename{File: cfg.Rename.Ref, NewName: cfg.Rename.Name})
	case cfg.Remove != nil:
		verb := "deleted"
		if cfg.Remove.Soft {
			verb = "trashed"
		}

		return r.execute(ctx, verb, fileops.Delete{Files: cfg.Remove.Refs, SoftDelete: cfg.Remove.Soft})
	case cfg.Restore != nil:
		return r.restore(ctx, cfg.Restore)
	case cfg.Test != nil:
		return r.test(ctx, cfg.Test)
	case cfg.Shares != nil:
		return r.listShares(ctx, cfg.Shares)
	default:
		r.printer.PrintError(config.ErrNoCommand)

		return ExitFailure
	}
}

func (r *Runner) execute(ctx context.Context, verb string, op fileops.Operation) int {
	result := r.orch.ExecuteWithProgress(ctx, op, r.progress(op.Type()))
	code := r.printer.PrintResult(verb, result)

	var undo *fileops.UndoOperation

	switch res := result.(type) {
	case fileops.Success:
		undo = res.Undo
	case fileops.PartialSuccess:
		undo = res.Undo
	}

	if hint := describeUndo(undo); hint != "" {
		r.printer.printf("%s\n", r.printer.render(DimStyle(), hint))
	}

	return code
}

func (r *Runner) restore(ctx context.Context, cmd *config.RestoreCmd) int {
	copied := make([]filesystem.FileRef, 0, len(cmd.Refs)+1)
	copied = append(copied, cmd.TrashRef)
	copied = append(copied, cmd.Refs...)

	result := r.orch.Undo(ctx, &fileops.UndoOperation{
		Type:        fileops.TypeDelete,
		SourceFiles: cmd.Refs,
		CopiedFiles: copied,
	})

	return r.printer.PrintResult("restored", result)
}

func (r *Runner) list(ctx context.Context, cmd *config.BrowseCmd, recursive bool) int {
	var (
		entries []filesystem.FileInfo
		err     error
	)

	if recursive {
		entries, err = r.orch.Scan(ctx, cmd.Ref, cmd.Filter())
	} else {
		entries, err = r.orch.List(ctx, cmd.Ref, cmd.Filter())
	}

	r.printer.printEntries(entries, recursive)

	if err != nil {
		r.printer.PrintError(err)

		return ExitFailure
	}

	return ExitOK
}

func (r *Runner) count(ctx context.Context, cmd *config.BrowseCmd) int {
	var report fileops.CountProgressCallback
	if r.printer.styled {
		report = func(path string, count int) {
			r.printer.errorf("\r%s %d %s", r.printer.render(LabelStyle(), "counting"), count, path)
		}
	}

	count, err := r.orch.CountWithProgress(ctx, cmd.Ref, cmd.Filter(), report)
	if report != nil && count >= 10 { //nolint:mnd // progress starts at the tenth match
		r.printer.errorf("\n")
	}

	if err != nil {
		r.printer.PrintError(err)

		return ExitFailure
	}

	r.printer.printf("%d\n", count)

	return ExitOK
}

func (r *Runner) test(ctx context.Context, cmd *config.TestCmd) int {
	msg, err := r.orch.TestConnection(ctx, cmd.Ref)
	if err != nil {
		r.printer.PrintError(err)

		return ExitFailure
	}

	r.printer.printf("%s %s\n", r.printer.render(SuccessStyle(), r.printer.SuccessSymbol()), msg)

	return ExitOK
}

func (r *Runner) listShares(ctx context.Context, cmd *config.SharesCmd) int {
	shares, err := r.shares.ListShares(ctx, cmd.Host)
	if err != nil {
		r.printer.PrintError(err)

		return ExitFailure
	}

	for _, share := range shares {
		r.printer.printf("smb://%s/%s\n", cmd.Host, share)
	}

	return ExitOK
}

// progress reports transfers in bytes and other operations in files. It
// only draws on terminals.
func (r *Runner) progress(op fileops.OperationType) fileops.Progress {
	if !r.printer.styled {
		return fileops.Progress{}
	}

	format := func(done int64) string { return fmt.Sprintf("%d %s", done, files(int(done))) }
	if op == fileops.TypeCopy || op == fileops.TypeMove {
		format = FormatBytes
	}

	return fileops.Progress{
		OnProgress: func(done int64, label string) {
			r.printer.errorf("\r\033[K%s %s", r.printer.render(LabelStyle(), format(done)), label)
		},
		OnComplete: func(total int64, elapsed time.Duration) {
			r.printer.errorf("\r\033[K%s in %s\n", format(total), FormatDuration(elapsed))
		},
	}
}
