// Package protocol identifies the file-access protocols the module speaks and
// the concurrency bounds each protocol class is allowed against one server.
package protocol

import "strings"

// Protocol is a file-access protocol class.
type Protocol int

// Exported constants.
const (
	Local Protocol = iota
	SMB
	SFTP
	FTP
	Cloud
)

// Profile bounds the number of simultaneous requests against one remote
// resource of a protocol class.
type Profile struct {
	MaxConcurrent int
	MinConcurrent int
}

// FromScheme maps a URI scheme ("smb", "sftp", "ftp") to its Protocol.
// The lookup is case-insensitive. Unknown schemes report false.
func FromScheme(scheme string) (Protocol, bool) {
	switch strings.ToLower(scheme) {
	case "smb":
		return SMB, true
	case "sftp":
		return SFTP, true
	case "ftp":
		return FTP, true
	case "file", "":
		return Local, true
	default:
		return Local, false
	}
}

// All returns every protocol class, in declaration order.
func All() []Protocol {
	return []Protocol{Local, SMB, SFTP, FTP, Cloud}
}

// DefaultPort returns the well-known TCP port of the protocol, or 0 when the
// protocol has none.
func (p Protocol) DefaultPort() int {
	switch p {
	case SMB:
		return 445 //nolint:mnd // SMB over TCP
	case SFTP:
		return 22 //nolint:mnd // SSH
	case FTP:
		return 21 //nolint:mnd // FTP control channel
	case Local, Cloud:
		return 0
	default:
		return 0
	}
}

// IsRemote reports whether calls for this protocol leave the process.
func (p Protocol) IsRemote() bool {
	return p != Local
}

// Profile returns the concurrency bounds of the protocol class.
func (p Protocol) Profile() Profile {
	switch p {
	case Local:
		return Profile{MaxConcurrent: 24, MinConcurrent: 24} //nolint:mnd // local disk
	case SMB:
		return Profile{MaxConcurrent: 6, MinConcurrent: 2} //nolint:mnd // SMB servers tolerate a handful of requests
	case SFTP:
		return Profile{MaxConcurrent: 3, MinConcurrent: 1} //nolint:mnd // one SSH channel per request
	case FTP:
		return Profile{MaxConcurrent: 3, MinConcurrent: 1} //nolint:mnd // FTP servers cap logins per IP
	case Cloud:
		return Profile{MaxConcurrent: 8, MinConcurrent: 3} //nolint:mnd // HTTP APIs
	default:
		return Profile{MaxConcurrent: 1, MinConcurrent: 1}
	}
}

// Scheme returns the URI scheme of the protocol ("" for Local).
func (p Protocol) Scheme() string {
	switch p {
	case SMB:
		return "smb"
	case SFTP:
		return "sftp"
	case FTP:
		return "ftp"
	case Cloud:
		return "cloud"
	case Local:
		return ""
	default:
		return ""
	}
}

// String returns the display name of the protocol.
func (p Protocol) String() string {
	switch p {
	case Local:
		return "LOCAL"
	case SMB:
		return "SMB"
	case SFTP:
		return "SFTP"
	case FTP:
		return "FTP"
	case Cloud:
		return "CLOUD"
	default:
		return "UNKNOWN"
	}
}
