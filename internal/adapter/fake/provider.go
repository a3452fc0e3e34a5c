package fake

import (
	"context"
	"fmt"
	"maps"
	"net/netip"
	"slices"
	"sync"

	"hassnet/internal/adapter/fake/fault"
	"hassnet/internal/network"
)

// Fault points evaluated by Provider and its networks.
const (
	FaultGet        = "Get"
	FaultCreate     = "Create"
	FaultReload     = "Reload"
	FaultConnect    = "Connect"
	FaultDisconnect = "Disconnect"
	FaultRemove     = "Remove"
)

var (
	_ network.Provider = (*Provider)(nil)
	_ network.Handle   = (*Network)(nil)
)

type networkState struct {
	id         string
	name       string
	params     network.CreateParams
	enableIPv6 bool
	endpoints  map[string]network.Endpoint
}

// Provider is an in-memory network.Provider. Like the real backend it
// rejects a connect whose container name is already a member, and it
// refuses to remove a network that still has endpoints.
type Provider struct {
	CallRecorder
	Faults *fault.Injector

	mu       sync.Mutex
	networks map[string]*networkState
	nextID   int
}

func NewProvider() *Provider {
	return &Provider{
		Faults:   fault.NewInjector(),
		networks: make(map[string]*networkState),
	}
}

// AddNetwork seeds an existing network and returns its ID.
func (p *Provider) AddNetwork(name string, enableIPv6 bool) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.newStateLocked(name)
	st.enableIPv6 = enableIPv6
	return st.id
}

// AddEndpoint seeds a membership entry, as left behind by a container the
// runtime removed without tearing down its endpoint.
func (p *Provider) AddEndpoint(networkName, containerID, containerName string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.networks[networkName]
	if !ok {
		panic(fmt.Sprintf("fake: AddEndpoint on unknown network %q", networkName))
	}
	st.endpoints[containerID] = network.Endpoint{Name: containerName}
}

// Endpoints returns the live membership of the named network.
func (p *Provider) Endpoints(networkName string) map[string]network.Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.networks[networkName]
	if !ok {
		return nil
	}
	return maps.Clone(st.endpoints)
}

// Exists reports whether the named network exists and its dual-stack flag.
func (p *Provider) Exists(networkName string) (exists, enableIPv6 bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.networks[networkName]
	if !ok {
		return false, false
	}
	return true, st.enableIPv6
}

// LastCreate returns the parameters of the most recent Create call.
func (p *Provider) LastCreate() (network.CreateParams, bool) {
	calls := p.Calls("Create")
	if len(calls) == 0 {
		return network.CreateParams{}, false
	}
	return calls[len(calls)-1].Args[0].(network.CreateParams), true
}

func (p *Provider) Get(_ context.Context, name string) (network.Handle, error) {
	p.record("Get", name)
	if err := p.Faults.Eval(FaultGet, name); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.networks[name]
	if !ok {
		return nil, fmt.Errorf("network %q: %w", name, network.ErrNotFound)
	}
	return &Network{p: p, name: name, id: st.id, attrs: attributesOf(st)}, nil
}

func (p *Provider) Create(_ context.Context, params network.CreateParams) (network.Handle, error) {
	p.record("Create", params)
	if err := p.Faults.Eval(FaultCreate, params); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.networks[params.Name]; ok {
		return nil, fmt.Errorf("network with name %s already exists", params.Name)
	}
	st := p.newStateLocked(params.Name)
	st.params = params
	st.enableIPv6 = params.EnableIPv6
	return &Network{p: p, name: st.name, id: st.id, attrs: attributesOf(st)}, nil
}

func (p *Provider) newStateLocked(name string) *networkState {
	p.nextID++
	st := &networkState{
		id:        fmt.Sprintf("net%d", p.nextID),
		name:      name,
		endpoints: make(map[string]network.Endpoint),
	}
	p.networks[name] = st
	return st
}

// lookupLocked finds the network the handle refers to. A network that was
// removed and recreated under the same name is a different network.
func (p *Provider) lookupLocked(name, id string) (*networkState, error) {
	st, ok := p.networks[name]
	if !ok || st.id != id {
		return nil, fmt.Errorf("network %s: %w", id, network.ErrNotFound)
	}
	return st, nil
}

// Network is a handle onto a network of Provider. Attributes are cached
// until Reload.
type Network struct {
	p     *Provider
	name  string
	id    string
	attrs network.Attributes
}

func (n *Network) Reload(_ context.Context) error {
	n.p.record("Reload", n.id)
	if err := n.p.Faults.Eval(FaultReload, n.id); err != nil {
		return err
	}

	n.p.mu.Lock()
	defer n.p.mu.Unlock()

	st, err := n.p.lookupLocked(n.name, n.id)
	if err != nil {
		return err
	}
	n.attrs = attributesOf(st)
	return nil
}

func (n *Network) Attributes() network.Attributes {
	attrs := n.attrs
	attrs.Containers = maps.Clone(n.attrs.Containers)
	return attrs
}

func (n *Network) Connect(_ context.Context, c network.ContainerRef, aliases []string, ipv4 netip.Addr) error {
	n.p.record("Connect", c, slices.Clone(aliases), ipv4)
	if err := n.p.Faults.Eval(FaultConnect, c, aliases, ipv4); err != nil {
		return err
	}

	n.p.mu.Lock()
	defer n.p.mu.Unlock()

	st, err := n.p.lookupLocked(n.name, n.id)
	if err != nil {
		return err
	}

	name := c.CanonicalName()
	id := c.ID
	if id == "" {
		id = "id-" + name
	}
	for epID, ep := range st.endpoints {
		if epID == id || ep.Name == name {
			return fmt.Errorf("endpoint with name %s already exists in network %s", name, n.name)
		}
	}

	ep := network.Endpoint{Name: name}
	if ipv4.IsValid() {
		if subnet, ok := ipv4Subnet(st.params); ok {
			if !subnet.Contains(ipv4) {
				return fmt.Errorf("invalid address %s: it does not belong to any of this network's subnets", ipv4)
			}
			ep.IPv4 = netip.PrefixFrom(ipv4, subnet.Bits())
		} else {
			ep.IPv4 = netip.PrefixFrom(ipv4, 32)
		}
	}
	st.endpoints[id] = ep
	return nil
}

func (n *Network) Disconnect(_ context.Context, container string, force bool) error {
	n.p.record("Disconnect", container, force)
	if err := n.p.Faults.Eval(FaultDisconnect, container, force); err != nil {
		return err
	}

	n.p.mu.Lock()
	defer n.p.mu.Unlock()

	st, err := n.p.lookupLocked(n.name, n.id)
	if err != nil {
		return err
	}
	for epID, ep := range st.endpoints {
		if epID == container || ep.Name == container {
			delete(st.endpoints, epID)
			return nil
		}
	}
	return fmt.Errorf("container %s is not connected to network %s: %w", container, n.name, network.ErrNotFound)
}

func (n *Network) Remove(_ context.Context) error {
	n.p.record("Remove", n.id)
	if err := n.p.Faults.Eval(FaultRemove, n.id); err != nil {
		return err
	}

	n.p.mu.Lock()
	defer n.p.mu.Unlock()

	st, err := n.p.lookupLocked(n.name, n.id)
	if err != nil {
		return err
	}
	if len(st.endpoints) > 0 {
		return fmt.Errorf("network %s has active endpoints", n.name)
	}
	delete(n.p.networks, n.name)
	return nil
}

func attributesOf(st *networkState) network.Attributes {
	return network.Attributes{
		ID:         st.id,
		Name:       st.name,
		EnableIPv6: st.enableIPv6,
		Containers: maps.Clone(st.endpoints),
	}
}

func ipv4Subnet(params network.CreateParams) (netip.Prefix, bool) {
	for _, pool := range params.Pools {
		if pool.Subnet.Addr().Is4() {
			return pool.Subnet, true
		}
	}
	return netip.Prefix{}, false
}
