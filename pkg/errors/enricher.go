package errors

import (
	"errors"
	"regexp"
	"strings"
)

// Enricher enriches standard errors with a kind and actionable suggestions.
type Enricher interface {
	Enrich(err error, affectedPath string) ActionableError
}

// NewEnricher creates a new Enricher with the default suggestion generator.
func NewEnricher() Enricher {
	return &enricher{
		generator: NewSuggestionGenerator(),
	}
}

// unexported variables.
var (
	//nolint:gochecknoglobals // Compiled regexes shared across all enricher instances
	pathExtractionPatterns = []*regexp.Regexp{
		// protocol URIs anywhere in the message
		regexp.MustCompile(`((?:smb|sftp|ftp)://[^\s:]+(?::\d+)?[^\s:]*)`),
		// "op /abs/path: description"
		regexp.MustCompile(`\b\w+\s+([./][^\s:]+):`),
		// Windows paths with backslashes
		regexp.MustCompile(`\b\w+\s+([A-Za-z]:\\[^\s:]+):`),
	}
)

// enricher is the concrete implementation of Enricher.
type enricher struct {
	generator SuggestionGenerator
}

// Enrich takes an error and enriches it with kind and actionable suggestions.
// If the error is already an ActionableError, it is returned unchanged.
// If affectedPath is empty, attempts to extract a path from the error message.
func (e *enricher) Enrich(err error, affectedPath string) ActionableError {
	var actionableErr ActionableError
	if errors.As(err, &actionableErr) {
		return actionableErr
	}

	if affectedPath == "" && err != nil {
		affectedPath = extractPath(err.Error())
	}

	kind := Classify(err)

	return NewActionableError(
		err,
		kind,
		e.generator.Generate(kind, affectedPath),
		affectedPath,
	)
}

// extractPath attempts to extract a file path or protocol URI from an error
// message. Returns empty string if none is found.
func extractPath(errorMsg string) string {
	for _, pattern := range pathExtractionPatterns {
		if matches := pattern.FindStringSubmatch(errorMsg); len(matches) > 1 {
			path := strings.TrimSpace(matches[1])
			if path != "" {
				return path
			}
		}
	}

	return ""
}
