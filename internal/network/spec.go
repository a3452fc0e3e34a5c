package network

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"
)

const (
	DefaultName   = "hassio"
	DefaultDriver = "bridge"

	// BridgeNameOption names the host bridge interface created by the bridge driver.
	BridgeNameOption = "com.docker.network.bridge.name"
)

var (
	DefaultIPv4Subnet = netip.MustParsePrefix("172.30.32.0/23")
	DefaultIPv4Range  = netip.MustParsePrefix("172.30.33.0/24")
	DefaultIPv6Subnet = netip.MustParsePrefix("fd0c:ac1e:2100::/48")
)

// Role is a reserved position in the IPv4 address plan.
type Role int

const (
	RoleGateway Role = iota + 1
	RoleSupervisor
	RoleDNS
	RoleAudio
	RoleCLI
	RoleObserver
)

// Roles lists every reserved role in offset order.
var Roles = []Role{RoleGateway, RoleSupervisor, RoleDNS, RoleAudio, RoleCLI, RoleObserver}

// Offset is the distance of the role's address from the IPv4 subnet base.
// The offsets are part of the network contract and never change.
func (r Role) Offset() uint32 {
	return uint32(r)
}

func (r Role) String() string {
	switch r {
	case RoleGateway:
		return "gateway"
	case RoleSupervisor:
		return "supervisor"
	case RoleDNS:
		return "dns"
	case RoleAudio:
		return "audio"
	case RoleCLI:
		return "cli"
	case RoleObserver:
		return "observer"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole returns the role with the given name.
func ParseRole(s string) (Role, error) {
	for _, r := range Roles {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// Spec is the constant description of the canonical network.
type Spec struct {
	Name       string
	Driver     string
	IPv4Subnet netip.Prefix
	IPv4Range  netip.Prefix
	IPv6Subnet netip.Prefix
	BridgeName string
}

// DefaultSpec returns the address plan shared by every release.
func DefaultSpec() Spec {
	return Spec{
		Name:       DefaultName,
		Driver:     DefaultDriver,
		IPv4Subnet: DefaultIPv4Subnet,
		IPv4Range:  DefaultIPv4Range,
		IPv6Subnet: DefaultIPv6Subnet,
		BridgeName: DefaultName,
	}
}

// Address returns the reserved IPv4 address for role.
func (s Spec) Address(role Role) netip.Addr {
	return offsetAddr(s.IPv4Subnet, role.Offset())
}

// Gateway is always the first host address of the IPv4 subnet.
func (s Spec) Gateway() netip.Addr {
	return s.Address(RoleGateway)
}

// Validate checks that the plan is self-consistent.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	if strings.TrimSpace(s.Driver) == "" {
		return &ValidationError{Field: "driver", Message: "is required"}
	}
	if !s.IPv4Subnet.IsValid() || !s.IPv4Subnet.Addr().Is4() {
		return &ValidationError{Field: "ipv4_subnet", Message: "must be an IPv4 prefix"}
	}
	if s.IPv4Subnet != s.IPv4Subnet.Masked() {
		return &ValidationError{Field: "ipv4_subnet", Message: fmt.Sprintf("must be a network address, got %s", s.IPv4Subnet)}
	}
	// Base, six reserved hosts and broadcast.
	if s.IPv4Subnet.Bits() > 28 {
		return &ValidationError{Field: "ipv4_subnet", Message: "must be /28 or larger to hold the reserved addresses"}
	}
	if !s.IPv4Range.IsValid() || !s.IPv4Range.Addr().Is4() {
		return &ValidationError{Field: "ipv4_range", Message: "must be an IPv4 prefix"}
	}
	if s.IPv4Range.Bits() < s.IPv4Subnet.Bits() || !s.IPv4Subnet.Contains(s.IPv4Range.Masked().Addr()) {
		return &ValidationError{Field: "ipv4_range", Message: fmt.Sprintf("must lie within %s", s.IPv4Subnet)}
	}
	for _, role := range Roles {
		if addr := s.Address(role); s.IPv4Range.Contains(addr) {
			return &ValidationError{Field: "ipv4_range", Message: fmt.Sprintf("overlaps reserved %s address %s", role, addr)}
		}
	}
	if !s.IPv6Subnet.IsValid() || !s.IPv6Subnet.Addr().Is6() || s.IPv6Subnet.Addr().Is4In6() {
		return &ValidationError{Field: "ipv6_subnet", Message: "must be an IPv6 prefix"}
	}
	if strings.TrimSpace(s.BridgeName) == "" {
		return &ValidationError{Field: "bridge_name", Message: "is required"}
	}
	return nil
}

// Pool is one IPAM pool of a network create request.
type Pool struct {
	Subnet  netip.Prefix
	Gateway netip.Addr // zero when the driver picks
	Range   netip.Prefix
}

// CreateParams is what a Provider needs to create the network.
type CreateParams struct {
	Name       string
	Driver     string
	EnableIPv6 bool
	Pools      []Pool
	Options    map[string]string
}

// CreateParams builds the create request. Only EnableIPv6 varies between
// calls; everything else is fixed by the plan.
func (s Spec) CreateParams(enableIPv6 bool) CreateParams {
	return CreateParams{
		Name:       s.Name,
		Driver:     s.Driver,
		EnableIPv6: enableIPv6,
		Pools: []Pool{
			{Subnet: s.IPv6Subnet},
			{Subnet: s.IPv4Subnet, Gateway: s.Gateway(), Range: s.IPv4Range},
		},
		Options: map[string]string{BridgeNameOption: s.BridgeName},
	}
}

func offsetAddr(p netip.Prefix, off uint32) netip.Addr {
	b := p.Masked().Addr().As4()
	v := binary.BigEndian.Uint32(b[:]) + off
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}
