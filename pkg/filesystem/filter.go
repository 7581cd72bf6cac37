package filesystem

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter selects entries for List, Scan and Count. The zero Filter matches
// every file; directories only match when IncludeDirs is set.
type Filter struct {
	// Pattern is a case-insensitive doublestar glob matched against the
	// path relative to the scan root (the name for listings).
	Pattern string
	// Extensions are accepted file extensions, with or without the dot.
	Extensions []string
	// MinSize and MaxSize bound file sizes in bytes. Zero means no bound.
	MinSize int64
	MaxSize int64
	// IncludeDirs also passes directories through the pattern check.
	IncludeDirs bool
}

// Validate reports a malformed pattern.
func (f Filter) Validate() error {
	if f.Pattern != "" && !doublestar.ValidatePattern(strings.ToLower(f.Pattern)) {
		return doublestar.ErrBadPattern
	}

	return nil
}

// Match reports whether info passes the filter.
func (f Filter) Match(info FileInfo) bool {
	if info.IsDir {
		return f.IncludeDirs && f.matchPattern(info)
	}

	if len(f.Extensions) > 0 && !f.matchExtension(info.Name) {
		return false
	}

	if f.MinSize > 0 && info.Size < f.MinSize {
		return false
	}

	if f.MaxSize > 0 && info.Size > f.MaxSize {
		return false
	}

	return f.matchPattern(info)
}

func (f Filter) matchExtension(name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	if ext == "" {
		return false
	}

	for _, want := range f.Extensions {
		if strings.TrimPrefix(strings.ToLower(want), ".") == ext {
			return true
		}
	}

	return false
}

func (f Filter) matchPattern(info FileInfo) bool {
	if f.Pattern == "" {
		return true
	}

	target := info.RelativePath
	if target == "" {
		target = info.Name
	}

	// Invalid patterns match nothing
	matched, err := doublestar.Match(strings.ToLower(f.Pattern), strings.ToLower(target))

	return err == nil && matched
}

// FilterScanner yields only the entries of scanner that pass filter.
func FilterScanner(scanner FileScanner, filter Filter) FileScanner {
	return &filteredScanner{scanner: scanner, filter: filter}
}

type filteredScanner struct {
	scanner FileScanner
	filter  Filter
}

func (s *filteredScanner) Err() error {
	return s.scanner.Err()
}

func (s *filteredScanner) Next() (FileInfo, bool) {
	for {
		info, ok := s.scanner.Next()
		if !ok {
			return FileInfo{}, false
		}

		if s.filter.Match(info) {
			return info, true
		}
	}
}
