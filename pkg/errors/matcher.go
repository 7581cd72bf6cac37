package errors

import "strings"

// PatternMatcher matches error messages to kinds using string patterns.
type PatternMatcher interface {
	Match(errorMsg string) Kind
}

// NewPatternMatcher creates a new PatternMatcher with predefined patterns.
func NewPatternMatcher() PatternMatcher {
	return &patternMatcher{
		// Checked in order: "authentication timeout" is a timeout, not an auth failure.
		patterns: []kindPatterns{
			{KindTimeout, []string{
				"timeout",
				"timed out",
				"deadline exceeded",
			}},
			{KindAuth, []string{
				"logon failure",
				"authentication failed",
				"unable to authenticate",
				"login incorrect",
				"530 ",
				"logon_failure",
				"logon is invalid",
				"access_denied during session setup",
			}},
			{KindPermission, []string{
				"permission denied",
				"access denied",
				"access is denied",
				"operation not permitted",
				"status_access_denied",
			}},
			{KindNotFound, []string{
				"no such file or directory",
				"file not found",
				"does not exist",
				"object_name_not_found",
				"object_path_not_found",
				"object name is not found",
				"550 ",
			}},
			{KindAlreadyExists, []string{
				"already exists",
				"file exists",
				"object_name_collision",
				"object name already exists",
			}},
			{KindConnection, []string{
				"connection refused",
				"connection reset",
				"broken pipe",
				"no route to host",
				"network is unreachable",
				"use of closed network connection",
				"eof",
			}},
		},
	}
}

type kindPatterns struct {
	kind     Kind
	patterns []string
}

// patternMatcher is the concrete implementation of PatternMatcher.
type patternMatcher struct {
	patterns []kindPatterns
}

// Match returns the error kind based on pattern matching.
func (m *patternMatcher) Match(errorMsg string) Kind {
	lowerMsg := strings.ToLower(errorMsg)

	for _, group := range m.patterns {
		for _, pattern := range group.patterns {
			if strings.Contains(lowerMsg, pattern) {
				return group.kind
			}
		}
	}

	return KindUnknown
}
