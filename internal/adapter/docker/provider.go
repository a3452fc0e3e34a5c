// Package docker implements network.Provider on top of the Docker Engine API.
package docker

import (
	"context"
	"fmt"
	"maps"
	"net/netip"

	"hassnet/internal/network"

	"github.com/containerd/errdefs"
	dockernetwork "github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
)

var (
	_ network.Provider = (*Provider)(nil)
	_ network.Handle   = (*Network)(nil)
)

// NewClient creates a Docker client from the environment. A non-empty host
// overrides DOCKER_HOST.
func NewClient(host string) (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return cli, nil
}

// Provider implements network.Provider using the Docker network API.
// It adds no locking; the Docker client is safe for concurrent use.
type Provider struct {
	cli client.NetworkAPIClient
}

func NewProvider(cli client.NetworkAPIClient) *Provider {
	return &Provider{cli: cli}
}

func (p *Provider) Get(ctx context.Context, name string) (network.Handle, error) {
	nw, err := p.cli.NetworkInspect(ctx, name, dockernetwork.InspectOptions{})
	if err != nil {
		return nil, wrapErr("inspect network", name, err)
	}
	return &Network{cli: p.cli, id: nw.ID, attrs: attributesOf(nw)}, nil
}

func (p *Provider) Create(ctx context.Context, params network.CreateParams) (network.Handle, error) {
	resp, err := p.cli.NetworkCreate(ctx, params.Name, createOptions(params))
	if err != nil {
		return nil, wrapErr("create network", params.Name, err)
	}
	nw := &Network{cli: p.cli, id: resp.ID}
	if err := nw.Reload(ctx); err != nil {
		return nil, err
	}
	return nw, nil
}

// Network is a Docker network addressed by ID.
type Network struct {
	cli   client.NetworkAPIClient
	id    string
	attrs network.Attributes
}

func (n *Network) ID() string { return n.id }

func (n *Network) Reload(ctx context.Context) error {
	nw, err := n.cli.NetworkInspect(ctx, n.id, dockernetwork.InspectOptions{})
	if err != nil {
		return wrapErr("inspect network", n.id, err)
	}
	n.attrs = attributesOf(nw)
	return nil
}

func (n *Network) Attributes() network.Attributes {
	return n.attrs
}

func (n *Network) Connect(ctx context.Context, c network.ContainerRef, aliases []string, ipv4 netip.Addr) error {
	settings := &dockernetwork.EndpointSettings{Aliases: aliases}
	if ipv4.IsValid() {
		settings.IPAMConfig = &dockernetwork.EndpointIPAMConfig{IPv4Address: ipv4.String()}
	}
	if err := n.cli.NetworkConnect(ctx, n.id, c.Target(), settings); err != nil {
		return wrapErr("connect container", c.String(), err)
	}
	return nil
}

func (n *Network) Disconnect(ctx context.Context, container string, force bool) error {
	if err := n.cli.NetworkDisconnect(ctx, n.id, container, force); err != nil {
		return wrapErr("disconnect container", container, err)
	}
	return nil
}

func (n *Network) Remove(ctx context.Context) error {
	if err := n.cli.NetworkRemove(ctx, n.id); err != nil {
		return wrapErr("remove network", n.attrs.Name, err)
	}
	return nil
}

// wrapErr keeps the Docker error and marks not-found errors with
// network.ErrNotFound so callers never need errdefs.
func wrapErr(op, subject string, err error) error {
	if errdefs.IsNotFound(err) {
		return fmt.Errorf("%s %q: %w: %w", op, subject, network.ErrNotFound, err)
	}
	return fmt.Errorf("%s %q: %w", op, subject, err)
}

func createOptions(params network.CreateParams) dockernetwork.CreateOptions {
	enableIPv6 := params.EnableIPv6
	ipam := &dockernetwork.IPAM{Driver: "default"}
	for _, pool := range params.Pools {
		// The daemon rejects IPv6 pools on a network without IPv6.
		if pool.Subnet.Addr().Is6() && !enableIPv6 {
			continue
		}
		cfg := dockernetwork.IPAMConfig{Subnet: pool.Subnet.String()}
		if pool.Gateway.IsValid() {
			cfg.Gateway = pool.Gateway.String()
		}
		if pool.Range.IsValid() {
			cfg.IPRange = pool.Range.String()
		}
		ipam.Config = append(ipam.Config, cfg)
	}

	return dockernetwork.CreateOptions{
		Driver:     params.Driver,
		EnableIPv6: &enableIPv6,
		IPAM:       ipam,
		Options:    maps.Clone(params.Options),
	}
}

func attributesOf(nw dockernetwork.Inspect) network.Attributes {
	containers := make(map[string]network.Endpoint, len(nw.Containers))
	for id, ep := range nw.Containers {
		containers[id] = network.Endpoint{
			Name: ep.Name,
			IPv4: parsePrefix(ep.IPv4Address),
			IPv6: parsePrefix(ep.IPv6Address),
		}
	}
	return network.Attributes{
		ID:         nw.ID,
		Name:       nw.Name,
		EnableIPv6: nw.EnableIPv6,
		Containers: containers,
	}
}

func parsePrefix(s string) netip.Prefix {
	if s == "" {
		return netip.Prefix{}
	}
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}
	}
	return p
}
