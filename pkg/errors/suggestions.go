package errors

import "fmt"

// SuggestionGenerator generates actionable suggestions based on error kind.
type SuggestionGenerator interface {
	Generate(kind Kind, affectedPath string) []string
}

// NewSuggestionGenerator creates a new SuggestionGenerator.
func NewSuggestionGenerator() SuggestionGenerator {
	return &suggestionGenerator{}
}

// suggestionGenerator is the concrete implementation of SuggestionGenerator.
type suggestionGenerator struct{}

// Generate returns actionable suggestions based on the error kind and affected path.
//
//nolint:cyclop // one branch per kind
func (g *suggestionGenerator) Generate(kind Kind, affectedPath string) []string {
	switch kind {
	case KindTimeout:
		return g.generateTimeoutSuggestions(affectedPath)
	case KindAuth:
		return g.generateAuthSuggestions(affectedPath)
	case KindResolution:
		return g.generateResolutionSuggestions(affectedPath)
	case KindNotFound:
		return g.generateNotFoundSuggestions(affectedPath)
	case KindAlreadyExists:
		return g.generateAlreadyExistsSuggestions(affectedPath)
	case KindPermission:
		return g.generatePermissionSuggestions(affectedPath)
	case KindConnection:
		return g.generateConnectionSuggestions(affectedPath)
	case KindUnsupported:
		return []string{"This operation is not available for the selected source and destination"}
	case KindPartial:
		return []string{"Review the per-file errors and retry the files that failed"}
	case KindUnknown:
		return g.generateUnknownSuggestions(affectedPath)
	default:
		return g.generateUnknownSuggestions(affectedPath)
	}
}

func (g *suggestionGenerator) generateAlreadyExistsSuggestions(path string) []string {
	suggestions := []string{"Choose a different name or enable overwrite"}

	if path != "" {
		suggestions = append(suggestions, "Remove or rename the existing entry: "+path)
	}

	return suggestions
}

func (g *suggestionGenerator) generateAuthSuggestions(path string) []string {
	suggestions := []string{
		"Verify the username, password and domain stored for this server",
		"Check that the account is not locked or expired on the server",
	}

	if path != "" {
		suggestions = append(suggestions, "Confirm the account may access "+path)
	}

	return suggestions
}

func (g *suggestionGenerator) generateConnectionSuggestions(path string) []string {
	suggestions := []string{
		"Check that the server is online and reachable from this device",
		"Verify the port is open and not blocked by a firewall",
	}

	if path != "" {
		suggestions = append(suggestions, fmt.Sprintf("Try 'remotefs test %s'", path))
	}

	return suggestions
}

func (g *suggestionGenerator) generateNotFoundSuggestions(path string) []string {
	suggestions := []string{
		"Verify the path exists and is spelled correctly",
	}

	if path != "" {
		suggestions = append(suggestions, "Check if the path exists: "+path)
		suggestions = append(suggestions, "Refresh the listing, the entry may have been moved or deleted")
	} else {
		suggestions = append(suggestions, "Ensure all parent directories exist")
	}

	return suggestions
}

func (g *suggestionGenerator) generatePermissionSuggestions(path string) []string {
	suggestions := []string{
		"Ensure the account has read/write permissions for the files and directories",
	}

	if path != "" {
		suggestions = append(suggestions, "Check the share or directory ACLs for "+path)
	} else {
		suggestions = append(suggestions, "Check the share or directory ACLs on the server")
	}

	return suggestions
}

func (g *suggestionGenerator) generateResolutionSuggestions(path string) []string {
	suggestions := []string{
		"Use the form smb://host[:port]/share/path, sftp://host[:port]/path or ftp://host[:port]/path",
	}

	if path != "" {
		suggestions = append(suggestions, "Check the host and share name in "+path)
	}

	return suggestions
}

func (g *suggestionGenerator) generateTimeoutSuggestions(path string) []string {
	suggestions := []string{
		"The server is slow or overloaded, retry in a moment",
		"Concurrency against this server is reduced automatically after repeated timeouts",
	}

	if path != "" {
		suggestions = append(suggestions, "Check the network path to "+path)
	}

	return suggestions
}

func (g *suggestionGenerator) generateUnknownSuggestions(path string) []string {
	suggestions := []string{
		"Check the error message for more details",
		"Verify the server is reachable and the credentials are valid",
	}

	if path != "" {
		suggestions = append(suggestions, "Verify the path is accessible: "+path)
	}

	return suggestions
}
