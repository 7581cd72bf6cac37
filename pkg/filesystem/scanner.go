package filesystem

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"
)

// FileScanner is an iterator over files in a directory tree.
// It provides a simple Next pattern for traversing directory contents.
type FileScanner interface {
	// Next advances to the next file and returns its info.
	// Returns (FileInfo{}, false) when done or on error.
	// Check Err() after Next() returns false to distinguish between end-of-scan and error.
	Next() (FileInfo, bool)

	// Err returns any error that occurred during scanning.
	// Should be checked after Next() returns false.
	Err() error
}

// FileInfo contains metadata about a file.
type FileInfo struct {
	// Path is the full path: a protocol URI for remote files.
	Path string

	// Name is the last path element.
	Name string

	// RelativePath is the path relative to the scan root. Empty outside scans.
	RelativePath string

	// Size is the file size in bytes
	Size int64

	// ModTime is the modification time
	ModTime time.Time

	// IsDir indicates if this is a directory
	IsDir bool
}

// Collect drains a scanner.
func Collect(scanner FileScanner) ([]FileInfo, error) {
	var infos []FileInfo

	for {
		info, ok := scanner.Next()
		if !ok {
			break
		}

		infos = append(infos, info)
	}

	return infos, scanner.Err()
}

// stepper is the walking interface shared by kr/fs and pkg/sftp walkers.
type stepper interface {
	Step() bool
	Err() error
	Stat() os.FileInfo
	Path() string
}

// walkScanner adapts a walker to FileScanner, one step per Next.
type walkScanner struct {
	ctx    context.Context //nolint:containedctx // iterator is bound to one walk
	walker stepper
	root   string
	rel    func(root, target string) (string, error)
	toPath func(string) string
	err    error
	done   bool
}

func newWalkScanner(
	ctx context.Context,
	walker stepper,
	root string,
	rel func(root, target string) (string, error),
	toPath func(string) string,
) *walkScanner {
	return &walkScanner{
		ctx:    ctx,
		walker: walker,
		root:   root,
		rel:    rel,
		toPath: toPath,
	}
}

// Err returns any error that occurred during scanning.
func (s *walkScanner) Err() error {
	return s.err
}

// Next advances to the next file and returns its info.
func (s *walkScanner) Next() (FileInfo, bool) {
	for !s.done {
		err := s.ctx.Err()
		if err != nil {
			s.fail(err)

			break
		}

		if !s.walker.Step() {
			s.done = true

			break
		}

		err = s.walker.Err()
		if err != nil {
			s.fail(fmt.Errorf("error scanning %s: %w", s.walker.Path(), err))

			break
		}

		fullPath := s.walker.Path()

		// Skip the root directory itself
		relPath, err := s.rel(s.root, fullPath)
		if err != nil {
			s.fail(fmt.Errorf("failed to get relative path for %s: %w", fullPath, err))

			break
		}

		if relPath == "." {
			continue
		}

		stat := s.walker.Stat()

		return FileInfo{
			Path:         s.toPath(fullPath),
			Name:         stat.Name(),
			RelativePath: relPath,
			Size:         stat.Size(),
			ModTime:      stat.ModTime(),
			IsDir:        stat.IsDir(),
		}, true
	}

	return FileInfo{}, false
}

func (s *walkScanner) fail(err error) {
	s.err = err
	s.done = true
}

// sliceScanner replays entries collected while a remote session was held.
type sliceScanner struct {
	files []FileInfo
	index int
	err   error
}

func newSliceScanner(files []FileInfo, err error) *sliceScanner {
	return &sliceScanner{files: files, index: -1, err: err}
}

// Err returns any error that occurred during scanning.
func (s *sliceScanner) Err() error {
	return s.err
}

// Next advances to the next file and returns its info.
func (s *sliceScanner) Next() (FileInfo, bool) {
	s.index++
	if s.index >= len(s.files) {
		return FileInfo{}, false
	}

	return s.files[s.index], true
}

// relativePath computes the relative path from root to target.
// Uses path package (not filepath) since remote paths always use forward slashes.
func relativePath(root, target string) (string, error) {
	// Clean both paths
	root = path.Clean("/" + root)
	target = path.Clean("/" + target)

	if root == target {
		return ".", nil
	}

	// Ensure root ends with /
	if root != "/" {
		root += "/"
	}

	if len(target) < len(root) || target[:len(root)] != root {
		return "", fmt.Errorf("target %s is not under root %s", target, root) //nolint:err113,lll // Path validation error with actual paths
	}

	return target[len(root):], nil
}
