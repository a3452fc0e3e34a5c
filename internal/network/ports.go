package network

import (
	"context"
	"net/netip"
	"strings"
)

// Provider abstracts the container-networking backend.
// Production: adapter/docker.Provider (wrapping the Docker Engine API)
// Testing: adapter/fake.Provider
type Provider interface {
	// Get returns the named network or an error wrapping ErrNotFound.
	Get(ctx context.Context, name string) (Handle, error)
	Create(ctx context.Context, params CreateParams) (Handle, error)
}

// Handle is a live network resource in the provider. Attributes is served
// from a local cache that only Reload refreshes.
type Handle interface {
	Reload(ctx context.Context) error
	Attributes() Attributes
	Connect(ctx context.Context, c ContainerRef, aliases []string, ipv4 netip.Addr) error
	// Disconnect accepts a container name or ID. With force the provider
	// must not require the container to still exist.
	Disconnect(ctx context.Context, container string, force bool) error
	Remove(ctx context.Context) error
}

// Attributes is a snapshot of a network's provider-side state.
type Attributes struct {
	ID         string
	Name       string
	EnableIPv6 bool
	// Containers maps container ID to endpoint.
	Containers map[string]Endpoint
}

// Endpoint is one container's membership in a network.
type Endpoint struct {
	Name string
	IPv4 netip.Prefix
	IPv6 netip.Prefix
}

// ContainerRef identifies a container in the runtime. ID is preferred for
// connect calls when set.
type ContainerRef struct {
	ID   string
	Name string
}

// Target returns the identifier handed to the provider.
func (c ContainerRef) Target() string {
	if c.ID != "" {
		return c.ID
	}
	return c.CanonicalName()
}

// CanonicalName strips the leading slash the Docker API puts on names.
func (c ContainerRef) CanonicalName() string {
	return strings.TrimPrefix(c.Name, "/")
}

func (c ContainerRef) String() string {
	if n := c.CanonicalName(); n != "" {
		return n
	}
	return c.ID
}
