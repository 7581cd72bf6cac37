// Package fileops runs copy, move, rename and delete operations over any
// combination of local and remote (SMB, SFTP, FTP) files and reports each
// batch as a Success, PartialSuccess or Failure.
package fileops

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// Exported constants.
const (
	// ProgressInterval is how many bytes pass between two byte-progress
	// reports.
	ProgressInterval = 1024 * 1024
	// TrashPrefix starts the name of every soft-delete directory.
	TrashPrefix = ".trash_"
)

// Exported variables.
var (
	ErrInvalidName = errors.New("invalid file name")
	ErrLocalCopy   = errors.New("local to local transfers are not handled here")
	ErrNoSources   = errors.New("operation has no files")
)

// Progress receives reports for one Execute. Either function may be nil.
// Calls never overlap but may come from a transfer goroutine.
type Progress struct {
	// OnProgress gets the bytes moved so far (files handled so far for
	// rename and delete) and the path being worked on.
	OnProgress func(done int64, label string)
	// OnComplete is called exactly once when the operation ends.
	OnComplete func(total int64, elapsed time.Duration)
}

// tracker rate-limits byte progress to one report per ProgressInterval and
// adds one report per finished file.
type tracker struct {
	progress Progress
	start    time.Time
	now      func() time.Time

	mu       sync.Mutex
	done     int64
	reported int64
	finished bool
}

func newTracker(progress Progress, now func() time.Time) *tracker {
	return &tracker{progress: progress, start: now(), now: now}
}

func (t *tracker) add(n int64, label string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.done += n
	if t.done-t.reported < ProgressInterval {
		return
	}

	t.reported = t.done
	t.report(label)
}

// fileDone reports a finished file, or one more handled file when count is
// set.
func (t *tracker) fileDone(label string, count bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if count {
		t.done++
	}

	t.reported = t.done
	t.report(label)
}

func (t *tracker) complete() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		return
	}

	t.finished = true

	if t.progress.OnComplete != nil {
		t.progress.OnComplete(t.done, t.now().Sub(t.start))
	}
}

func (t *tracker) report(label string) {
	if t.progress.OnProgress != nil {
		t.progress.OnProgress(t.done, label)
	}
}

// validName reports whether name can be used as a single path element.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
