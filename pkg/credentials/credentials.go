// Package credentials defines the lookup contract the path resolver uses to
// find authentication material for a remote endpoint.
package credentials

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/joe/remotefs/pkg/protocol"
	"gopkg.in/yaml.v3"
)

// Credentials for one remote endpoint. The zero value means anonymous access.
type Credentials struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Domain   string `yaml:"domain,omitempty"`
	Port     int    `yaml:"port,omitempty"`
}

// Anonymous reports whether no username is set.
func (c Credentials) Anonymous() bool {
	return c.Username == ""
}

// Store looks up credentials. A miss returns false and is never an error.
type Store interface {
	LookupShare(host, share string) (Credentials, bool)
	LookupServer(proto protocol.Protocol, host string, port int) (Credentials, bool)
}

// MemoryStore is a Store backed by maps. It is safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	shares   map[string]Credentials
	servers  map[string]Credentials
	fallback *Credentials
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		shares:  make(map[string]Credentials),
		servers: make(map[string]Credentials),
	}
}

// AddShare registers credentials for an SMB share.
func (s *MemoryStore) AddShare(host, share string, creds Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shares[shareKey(host, share)] = creds
}

// AddServer registers credentials for an SFTP or FTP server.
// A port of 0 matches any port on that host.
func (s *MemoryStore) AddServer(proto protocol.Protocol, host string, port int, creds Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.servers[serverKey(proto, host, port)] = creds
}

// SetFallback sets credentials returned when nothing more specific matches.
func (s *MemoryStore) SetFallback(creds Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fallback = &creds
}

// LookupShare implements Store.
func (s *MemoryStore) LookupShare(host, share string) (Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if creds, ok := s.shares[shareKey(host, share)]; ok {
		return creds, true
	}

	// Host-wide SMB entry.
	if creds, ok := s.shares[shareKey(host, "")]; ok {
		return creds, true
	}

	return s.fallbackLocked()
}

// LookupServer implements Store.
func (s *MemoryStore) LookupServer(proto protocol.Protocol, host string, port int) (Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if creds, ok := s.servers[serverKey(proto, host, port)]; ok {
		return creds, true
	}

	if creds, ok := s.servers[serverKey(proto, host, 0)]; ok {
		return creds, true
	}

	return s.fallbackLocked()
}

func (s *MemoryStore) fallbackLocked() (Credentials, bool) {
	if s.fallback == nil {
		return Credentials{}, false
	}

	return *s.fallback, true
}

// File is the on-disk layout read by LoadFile.
type File struct {
	Default *Credentials  `yaml:"default,omitempty"`
	Shares  []ShareEntry  `yaml:"shares"`
	Servers []ServerEntry `yaml:"servers"`
}

// ShareEntry is one SMB share in a credentials file. An empty share applies
// to every share on the host.
type ShareEntry struct {
	Host        string `yaml:"host"`
	Share       string `yaml:"share"`
	Credentials `yaml:",inline"`
}

// ServerEntry is one SFTP or FTP server in a credentials file.
type ServerEntry struct {
	Protocol    string `yaml:"protocol"`
	Host        string `yaml:"host"`
	Credentials `yaml:",inline"`
}

// LoadFile reads a YAML credentials file into a MemoryStore.
func LoadFile(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the user's own flag
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes YAML credentials into a MemoryStore.
func Parse(data []byte) (*MemoryStore, error) {
	var file File

	err := yaml.Unmarshal(data, &file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	store := NewMemoryStore()

	if file.Default != nil {
		store.SetFallback(*file.Default)
	}

	for i, entry := range file.Shares {
		if entry.Host == "" {
			return nil, fmt.Errorf("shares[%d]: host is required", i)
		}

		store.AddShare(entry.Host, entry.Share, entry.Credentials)
	}

	for i, entry := range file.Servers {
		if entry.Host == "" {
			return nil, fmt.Errorf("servers[%d]: host is required", i)
		}

		proto, ok := protocol.FromScheme(entry.Protocol)
		if !ok || !proto.IsRemote() || proto == protocol.SMB {
			return nil, fmt.Errorf("servers[%d]: unsupported protocol %q", i, entry.Protocol)
		}

		store.AddServer(proto, entry.Host, entry.Port, entry.Credentials)
	}

	return store, nil
}

func shareKey(host, share string) string {
	return strings.ToLower(host) + "/" + strings.ToLower(share)
}

func serverKey(proto protocol.Protocol, host string, port int) string {
	return fmt.Sprintf("%s://%s:%d", proto.Scheme(), strings.ToLower(host), port)
}
