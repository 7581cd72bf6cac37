// Package errors classifies failures of remote file operations and enriches
// them with actionable suggestions.
//
// Every error that crosses the public surface of the orchestrator is mapped to
// a Kind. The Kind drives two things: the adaptive throttle only reacts to
// KindTimeout, and the suggestions shown to a user depend on it.
//
// Basic Usage:
//
//	enricher := errors.NewEnricher()
//	_, err := client.Stat(ctx, "smb://nas/photos/2024")
//	if err != nil {
//	    actionable := enricher.Enrich(err, "smb://nas/photos/2024")
//	    fmt.Println(actionable.Error())
//	    fmt.Println(errors.FormatSuggestions(actionable))
//	}
//
// Kinds are derived from the wrap chain first (context deadlines, fs.ErrNotExist,
// *AuthError, ...) and fall back to case-insensitive message patterns for
// libraries that only report text.
package errors

import "strings"

// Exported constants.
const (
	KindAlreadyExists Kind = "already_exists"
	KindAuth          Kind = "auth"
	KindConnection    Kind = "connection"
	KindNotFound      Kind = "not_found"
	KindPartial       Kind = "partial"
	KindPermission    Kind = "permission"
	KindResolution    Kind = "resolution"
	KindTimeout       Kind = "timeout"
	KindUnknown       Kind = "unknown"
	KindUnsupported   Kind = "unsupported"
)

// ActionableError represents an error with actionable suggestions for the user.
type ActionableError interface {
	error
	OriginalError() string
	Kind() Kind
	Suggestions() []string
	AffectedPath() string
	Unwrap() error
}

// NewActionableError creates a new ActionableError with the given details.
func NewActionableError(
	cause error,
	kind Kind,
	suggestions []string,
	affectedPath string,
) ActionableError {
	return &actionableError{
		cause:        cause,
		kind:         kind,
		suggestions:  suggestions,
		affectedPath: affectedPath,
	}
}

// Kind is the class of a failure.
type Kind string

// FormatSuggestions formats the suggestions from an ActionableError as a bulleted list.
// Returns empty string if the error is nil or has no suggestions.
func FormatSuggestions(err error) string {
	if err == nil {
		return ""
	}

	actionable, ok := err.(ActionableError)
	if !ok {
		return ""
	}

	suggestions := actionable.Suggestions()
	if len(suggestions) == 0 {
		return ""
	}

	var builder strings.Builder
	for i, suggestion := range suggestions {
		if i > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString("  • ")
		builder.WriteString(suggestion)
	}

	return builder.String()
}

// actionableError is the concrete implementation of ActionableError.
type actionableError struct {
	cause        error
	kind         Kind
	suggestions  []string
	affectedPath string
}

// AffectedPath returns the path affected by this error.
func (e *actionableError) AffectedPath() string {
	return e.affectedPath
}

// Error implements the error interface.
func (e *actionableError) Error() string {
	return e.OriginalError()
}

// Kind returns the error kind.
func (e *actionableError) Kind() Kind {
	return e.kind
}

// OriginalError returns the original error message.
func (e *actionableError) OriginalError() string {
	if e.cause == nil {
		return string(e.kind)
	}

	return e.cause.Error()
}

// Suggestions returns the list of actionable suggestions.
func (e *actionableError) Suggestions() []string {
	return e.suggestions
}

// Unwrap exposes the original error to errors.Is and errors.As.
func (e *actionableError) Unwrap() error {
	return e.cause
}
