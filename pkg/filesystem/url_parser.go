package filesystem

import (
	"fmt"
	"net"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joe/remotefs/pkg/credentials"
	fserrors "github.com/joe/remotefs/pkg/errors"
	"github.com/joe/remotefs/pkg/pool"
	"github.com/joe/remotefs/pkg/protocol"
)

// Endpoint is a resolved remote location: where to connect, as whom, and
// which path on the server the URI named.
type Endpoint struct {
	Protocol protocol.Protocol
	Host     string
	Port     int
	// User is the username written in the URI (sftp://user@host/...), if any.
	// It is kept when building sibling URIs.
	User string
	// Share is the SMB share name; empty for other protocols.
	Share string
	// Path is the in-share path without a leading slash for SMB ("" is the
	// share root) and an absolute slash path for SFTP and FTP.
	Path        string
	Credentials credentials.Credentials
}

// ResourceKey identifies the remote resource for throttling:
// smb://host:port/share, sftp://host:port or ftp://host:port.
func (e *Endpoint) ResourceKey() string {
	key := fmt.Sprintf("%s://%s:%d", e.Protocol.Scheme(), hostPort(e.Host), e.Port)
	if e.Protocol == protocol.SMB {
		key += "/" + e.Share
	}

	return key
}

// PoolInfo returns the connection pool key and secret for this endpoint.
func (e *Endpoint) PoolInfo() pool.Info {
	return pool.Info{
		Key: pool.Key{
			Server:   e.Host,
			Port:     e.Port,
			Share:    e.Share,
			Username: e.Credentials.Username,
			Domain:   e.Credentials.Domain,
		},
		Password: e.Credentials.Password,
	}
}

// URI builds the URI of another path on the same endpoint. p is interpreted
// like Endpoint.Path.
func (e *Endpoint) URI(p string) string {
	var sb strings.Builder

	sb.WriteString(e.Protocol.Scheme())
	sb.WriteString("://")

	if e.User != "" {
		sb.WriteString(e.User)
		sb.WriteString("@")
	}

	sb.WriteString(hostPort(e.Host))

	if e.Port != e.Protocol.DefaultPort() {
		sb.WriteString(":")
		sb.WriteString(strconv.Itoa(e.Port))
	}

	if e.Protocol == protocol.SMB {
		sb.WriteString("/")
		sb.WriteString(e.Share)

		if p = strings.Trim(p, "/"); p != "" {
			sb.WriteString("/")
			sb.WriteString(p)
		}

		return sb.String()
	}

	sb.WriteString(path.Clean("/" + p))

	return sb.String()
}

// Root returns the URI of the endpoint's root: the share for SMB, "/"
// otherwise.
func (e *Endpoint) Root() string {
	return e.URI("")
}

// Resolver turns protocol URIs into Endpoints, looking up credentials in a
// Store.
type Resolver struct {
	store credentials.Store
}

// NewResolver creates a Resolver. A nil store resolves everything as
// anonymous.
func NewResolver(store credentials.Store) *Resolver {
	if store == nil {
		store = credentials.NewMemoryStore()
	}

	return &Resolver{store: store}
}

// Resolve parses uri. Malformed input (unknown scheme, missing host, or an
// SMB URI without a share) fails with an error wrapping
// fserrors.ErrUnresolvable before any network call is made. A credential
// miss is not an error: the endpoint is anonymous.
//
// Accepted forms:
//   - smb://host[:port]/share/path/in/share
//   - sftp://[user@]host[:port]/absolute/path
//   - ftp://[user@]host[:port]/absolute/path
//
// Single-slash variants such as smb:/host/share are normalized first.
//
//nolint:cyclop // one branch per URI component
func (r *Resolver) Resolve(uri string) (*Endpoint, error) {
	parts, err := splitURI(uri)
	if err != nil {
		return nil, err
	}

	endpoint := &Endpoint{
		Protocol: parts.proto,
		Host:     parts.host,
		User:     parts.user,
	}

	switch parts.proto {
	case protocol.SMB:
		share, rest, _ := strings.Cut(parts.path, "/")
		if share == "" {
			return nil, fmt.Errorf("%w: %s: missing share name", fserrors.ErrUnresolvable, uri)
		}

		endpoint.Share = share
		endpoint.Path = strings.TrimPrefix(path.Clean("/"+rest), "/")

		creds, _ := r.store.LookupShare(parts.host, share)
		endpoint.Credentials = creds

		switch {
		case parts.port != 0:
			endpoint.Port = parts.port
		case creds.Port != 0:
			endpoint.Port = creds.Port
		default:
			endpoint.Port = protocol.SMB.DefaultPort()
		}
	case protocol.SFTP, protocol.FTP:
		endpoint.Port = parts.port
		if endpoint.Port == 0 {
			endpoint.Port = parts.proto.DefaultPort()
		}

		endpoint.Path = path.Clean("/" + parts.path)

		creds, _ := r.store.LookupServer(parts.proto, parts.host, endpoint.Port)
		endpoint.Credentials = creds
	case protocol.Local, protocol.Cloud:
		return nil, fmt.Errorf("%w: %s: not a remote URI", fserrors.ErrUnresolvable, uri)
	}

	if parts.user != "" && parts.user != endpoint.Credentials.Username {
		endpoint.Credentials = credentials.Credentials{
			Username: parts.user,
			Domain:   endpoint.Credentials.Domain,
			Port:     endpoint.Credentials.Port,
		}
	}

	return endpoint, nil
}

// uriParts is a protocol URI split into its components.
type uriParts struct {
	proto protocol.Protocol
	user  string
	host  string
	port  int
	// path is the remainder after the authority with no leading slash.
	path string
	// prefix is everything up to and including the authority.
	prefix string
}

func splitURI(uri string) (uriParts, error) {
	scheme, rest, ok := strings.Cut(uri, ":")
	if !ok {
		return uriParts{}, fmt.Errorf("%w: %s: missing scheme", fserrors.ErrUnresolvable, uri)
	}

	proto, known := protocol.FromScheme(scheme)
	if !known || !proto.IsRemote() {
		return uriParts{}, fmt.Errorf("%w: %s: unsupported scheme %q", fserrors.ErrUnresolvable, uri, scheme)
	}

	// smb:/host/share and smb://host/share are both accepted.
	rest = strings.TrimPrefix(rest, "/")
	rest = strings.TrimPrefix(rest, "/")

	authority, remainder, _ := strings.Cut(rest, "/")

	parts := uriParts{
		proto:  proto,
		path:   strings.TrimPrefix(remainder, "/"),
		prefix: strings.ToLower(scheme) + "://" + authority,
	}

	if user, hostport, found := strings.Cut(authority, "@"); found {
		parts.user = user
		authority = hostport
	}

	host := authority

	if strings.Contains(authority, ":") {
		h, p, err := net.SplitHostPort(authority)
		if err != nil {
			return uriParts{}, fmt.Errorf("%w: %s: %w", fserrors.ErrUnresolvable, uri, err)
		}

		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return uriParts{}, fmt.Errorf("%w: %s: invalid port %q", fserrors.ErrUnresolvable, uri, p)
		}

		host = h
		parts.port = port
	}

	if host == "" {
		return uriParts{}, fmt.Errorf("%w: %s: missing host", fserrors.ErrUnresolvable, uri)
	}

	parts.host = host

	return parts, nil
}

func hostPort(host string) string {
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}

	return host
}

// FileRef names a file either on the local disk or behind a protocol URI.
// The two cases are LocalRef and RemoteRef; code that needs to tell them
// apart uses a type switch.
type FileRef interface {
	String() string
	isFileRef()
}

// LocalRef is a file on the local filesystem.
type LocalRef struct {
	Path string
}

// RemoteRef is a file reached through a remote protocol.
type RemoteRef struct {
	Protocol protocol.Protocol
	URI      string
}

func (LocalRef) isFileRef()  {}
func (RemoteRef) isFileRef() {}

// String returns the local path.
func (r LocalRef) String() string { return r.Path }

// String returns the URI.
func (r RemoteRef) String() string { return r.URI }

// ParseRef classifies s as a local path or a remote URI. Strings without a
// scheme, and file:// URIs, are local. Unknown schemes are unresolvable.
func ParseRef(s string) (FileRef, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty path", fserrors.ErrUnresolvable)
	}

	if after, ok := strings.CutPrefix(s, "file://"); ok {
		return LocalRef{Path: filepath.Clean(after)}, nil
	}

	scheme, rest, found := strings.Cut(s, ":")
	// A one-letter "scheme" is a Windows drive; "notes:v2.txt" is a file name.
	if !found || len(scheme) < 2 || strings.ContainsAny(scheme, `/\.`) || !strings.HasPrefix(rest, "/") {
		return LocalRef{Path: filepath.Clean(s)}, nil
	}

	proto, known := protocol.FromScheme(scheme)
	if !known || !proto.IsRemote() {
		return nil, fmt.Errorf("%w: %s: unsupported scheme %q", fserrors.ErrUnresolvable, s, scheme)
	}

	_, err := splitURI(s)
	if err != nil {
		return nil, err
	}

	return RemoteRef{Protocol: proto, URI: s}, nil
}

// MustParseRef is ParseRef for literals known to be valid. It panics on
// error.
func MustParseRef(s string) FileRef {
	ref, err := ParseRef(s)
	if err != nil {
		panic(err)
	}

	return ref
}

// RefProtocol returns the protocol a reference is reached through.
func RefProtocol(ref FileRef) protocol.Protocol {
	switch r := ref.(type) {
	case RemoteRef:
		return r.Protocol
	default:
		return protocol.Local
	}
}

// RefPath returns the path a Client for the reference expects: the OS path
// for local files, the URI otherwise.
func RefPath(ref FileRef) string {
	switch r := ref.(type) {
	case LocalRef:
		return r.Path
	case RemoteRef:
		return r.URI
	default:
		return ""
	}
}

// Name returns the last element of the reference's path.
func Name(ref FileRef) string {
	switch r := ref.(type) {
	case LocalRef:
		return filepath.Base(r.Path)
	case RemoteRef:
		parts, err := splitURI(r.URI)
		if err != nil || parts.path == "" {
			return ""
		}

		return path.Base(parts.path)
	default:
		return ""
	}
}

// Join returns the reference for name inside dir.
func Join(dir FileRef, name string) FileRef {
	switch r := dir.(type) {
	case LocalRef:
		return LocalRef{Path: filepath.Join(r.Path, name)}
	case RemoteRef:
		return RemoteRef{Protocol: r.Protocol, URI: strings.TrimSuffix(r.URI, "/") + "/" + name}
	default:
		return dir
	}
}

// Parent returns the directory containing ref. The parent of a root (the
// share for SMB, "/" otherwise) is the root itself.
func Parent(ref FileRef) FileRef {
	switch r := ref.(type) {
	case LocalRef:
		return LocalRef{Path: filepath.Dir(r.Path)}
	case RemoteRef:
		parts, err := splitURI(r.URI)
		if err != nil {
			return ref
		}

		p := strings.Trim(parts.path, "/")
		floor := ""

		if parts.proto == protocol.SMB {
			share, _, _ := strings.Cut(p, "/")
			floor = share
		}

		if p == floor {
			return RemoteRef{Protocol: r.Protocol, URI: joinURI(parts.prefix, p)}
		}

		parent := path.Dir(p)
		if parent == "." || len(parent) < len(floor) {
			parent = floor
		}

		return RemoteRef{Protocol: r.Protocol, URI: joinURI(parts.prefix, parent)}
	default:
		return ref
	}
}

// SameLocation reports whether two references name the same file.
func SameLocation(a, b FileRef) bool {
	switch ra := a.(type) {
	case LocalRef:
		rb, ok := b.(LocalRef)

		return ok && filepath.Clean(ra.Path) == filepath.Clean(rb.Path)
	case RemoteRef:
		rb, ok := b.(RemoteRef)
		if !ok || ra.Protocol != rb.Protocol {
			return false
		}

		pa, errA := splitURI(ra.URI)
		pb, errB := splitURI(rb.URI)

		return errA == nil && errB == nil &&
			strings.EqualFold(pa.host, pb.host) && pa.port == pb.port &&
			path.Clean("/"+pa.path) == path.Clean("/"+pb.path)
	default:
		return false
	}
}

func joinURI(prefix, p string) string {
	if p == "" {
		return prefix + "/"
	}

	return prefix + "/" + p
}
