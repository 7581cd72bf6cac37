package cli

import (
	"errors"
	"fmt"
	"strings"

	fserrors "github.com/joe/remotefs/pkg/errors"
	"github.com/joe/remotefs/pkg/fileops"
	"github.com/joe/remotefs/pkg/filesystem"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitPartial = 2
)

// ExitCode maps a result to the process exit code.
func ExitCode(result fileops.Result) int {
	switch result.(type) {
	case fileops.Success:
		return ExitOK
	case fileops.PartialSuccess:
		return ExitPartial
	default:
		return ExitFailure
	}
}

// PrintResult summarises result on the output stream, or on the
// diagnostics stream for a Failure, and returns its exit code. verb is the
// past tense of the operation, e.g. "copied".
func (p *Printer) PrintResult(verb string, result fileops.Result) int {
	switch r := result.(type) {
	case fileops.Success:
		p.printf("%s %s %d %s\n", p.render(SuccessStyle(), p.SuccessSymbol()), verb, r.Count, files(r.Count))
		p.printPaths(r.ResultingPaths)
	case fileops.PartialSuccess:
		p.printf("%s %s %d of %d %s, %d failed\n",
			p.render(WarningStyle(), p.WarningSymbol()), verb,
			r.Succeeded, r.Succeeded+r.Failed, files(r.Succeeded+r.Failed), r.Failed)
		p.printPaths(r.ResultingPaths)
		p.printErrorList(r.ErrorMessages)
	case fileops.Failure:
		p.PrintError(r)
	}

	return ExitCode(result)
}

// PrintError writes err, its kind and any suggestions to the diagnostics
// stream.
func (p *Printer) PrintError(err error) {
	var (
		failure    fileops.Failure
		actionable fserrors.ActionableError
	)

	switch {
	case errors.As(err, &failure):
		actionable = fserrors.NewActionableError(failure.Err, failure.Kind, failure.Suggestions, "")
	case errors.As(err, &actionable):
	default:
		actionable = fserrors.NewActionableError(err, fserrors.Classify(err), nil, "")
	}

	p.errorf("%s %s\n", p.render(ErrorStyle(), p.ErrorSymbol()), err.Error())
	p.errorf("  %s\n", p.render(DimStyle(), "kind: "+string(actionable.Kind())))

	suggestions := fserrors.FormatSuggestions(actionable)
	if suggestions != "" {
		p.errorf("%s\n", suggestions)
	}
}

func (p *Printer) printPaths(refs []filesystem.FileRef) {
	for _, ref := range refs {
		p.printf("  %s\n", ref)
	}
}

// printErrorList writes at most ErrorLimit messages and a count of the rest.
func (p *Printer) printErrorList(messages []string) {
	for i, msg := range messages {
		if i >= ErrorLimit {
			p.errorf("... and %d more error(s)\n", len(messages)-ErrorLimit)

			break
		}

		p.errorf("  %s %s\n", p.render(ErrorStyle(), p.ErrorSymbol()), msg)
	}
}

// printEntries writes one line per entry: kind, size and path.
func (p *Printer) printEntries(entries []filesystem.FileInfo, relative bool) {
	for _, entry := range entries {
		name := entry.Name
		if relative && entry.RelativePath != "" {
			name = entry.RelativePath
		}

		if entry.IsDir {
			p.printf("%-*s %s\n", StatusWidth, "dir", p.render(DirStyle(), name+"/"))

			continue
		}

		p.printf("%-*s %s\n", StatusWidth, FormatBytes(entry.Size), name)
	}
}

func files(n int) string {
	if n == 1 {
		return "file"
	}

	return "files"
}

func describeUndo(u *fileops.UndoOperation) string {
	if !u.Undoable() || u.Type != fileops.TypeDelete {
		return ""
	}

	originals := make([]string, 0, len(u.CopiedFiles)-1)
	for _, ref := range u.CopiedFiles[1:] {
		originals = append(originals, fmt.Sprintf("%q", ref.String()))
	}

	return fmt.Sprintf("restore with: remotefs restore --trash %q %s",
		u.CopiedFiles[0].String(), strings.Join(originals, " "))
}
