package filesystem

import (
	"errors"
	"fmt"

	"github.com/joe/remotefs/pkg/protocol"
)

// ErrNoClient is returned when no client is registered for a protocol.
var ErrNoClient = errors.New("no client registered for protocol")

// Clients maps protocols to the Client that serves them.
type Clients struct {
	byProtocol map[protocol.Protocol]Client
}

// NewClients creates a registry. The local protocol is served by a
// LocalClient unless one of clients replaces it.
func NewClients(clients ...Client) *Clients {
	registry := &Clients{byProtocol: map[protocol.Protocol]Client{
		protocol.Local: NewLocalClient(),
	}}

	for _, client := range clients {
		registry.Register(client)
	}

	return registry
}

// Register adds or replaces the client for its protocol.
func (c *Clients) Register(client Client) {
	c.byProtocol[client.Protocol()] = client
}

// For returns the client for proto.
func (c *Clients) For(proto protocol.Protocol) (Client, error) {
	client, ok := c.byProtocol[proto]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoClient, proto)
	}

	return client, nil
}

// ForRef returns the client for ref and the path to pass to it.
func (c *Clients) ForRef(ref FileRef) (Client, string, error) {
	client, err := c.For(RefProtocol(ref))
	if err != nil {
		return nil, "", err
	}

	return client, RefPath(ref), nil
}
