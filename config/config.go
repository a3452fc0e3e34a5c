// Package config loads hassnet settings.
//
// Config is read from the path in $HASSNET_CONFIG, falling back to
// /etc/hassnet/config.yaml. A missing file yields the built-in defaults,
// which reproduce the address plan every release has shipped with.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"hassnet/internal/network"

	"gopkg.in/yaml.v3"
)

const (
	EnvPath     = "HASSNET_CONFIG"
	DefaultPath = "/etc/hassnet/config.yaml"

	DefaultWaitTimeout = 30 * time.Second
)

// Network describes the canonical network. Empty fields take defaults.
type Network struct {
	Name       string `yaml:"name,omitempty"`
	Driver     string `yaml:"driver,omitempty"`
	IPv4Subnet string `yaml:"ipv4_subnet,omitempty"`
	IPv4Range  string `yaml:"ipv4_range,omitempty"`
	IPv6Subnet string `yaml:"ipv6_subnet,omitempty"`
	BridgeName string `yaml:"bridge_name,omitempty"`
	EnableIPv6 *bool  `yaml:"enable_ipv6,omitempty"`
	// DefaultNetwork is the runtime network containers are detached from.
	DefaultNetwork string `yaml:"default_network,omitempty"`
}

// Docker holds Docker daemon connection settings.
type Docker struct {
	Host        string        `yaml:"host,omitempty"` // overrides DOCKER_HOST
	WaitTimeout time.Duration `yaml:"wait_timeout,omitempty"`
}

type Log struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

type Config struct {
	Network Network `yaml:"network"`
	Docker  Docker  `yaml:"docker"`
	Log     Log     `yaml:"log"`
}

// Path returns the config file location.
func Path() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return DefaultPath
}

// Default returns a Config with every field set to its default.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads the config at path, or at Path() when path is empty. If the
// file does not exist, the defaults are returned (not an error).
func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes the config to path, creating directories as needed.
func (c *Config) Save(path string) error {
	if path == "" {
		path = Path()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	def := network.DefaultSpec()
	n := &c.Network
	if n.Name == "" {
		n.Name = def.Name
	}
	if n.Driver == "" {
		n.Driver = def.Driver
	}
	if n.IPv4Subnet == "" {
		n.IPv4Subnet = def.IPv4Subnet.String()
	}
	if n.IPv4Range == "" {
		n.IPv4Range = def.IPv4Range.String()
	}
	if n.IPv6Subnet == "" {
		n.IPv6Subnet = def.IPv6Subnet.String()
	}
	if n.BridgeName == "" {
		n.BridgeName = n.Name
	}
	if n.EnableIPv6 == nil {
		enable := true
		n.EnableIPv6 = &enable
	}
	if n.DefaultNetwork == "" {
		n.DefaultNetwork = network.DefaultDriver
	}
	if c.Docker.WaitTimeout == 0 {
		c.Docker.WaitTimeout = DefaultWaitTimeout
	}
}

// DesiredIPv6 reports whether the network should be dual stack.
func (c *Config) DesiredIPv6() bool {
	return c.Network.EnableIPv6 == nil || *c.Network.EnableIPv6
}

// Spec parses and validates the network address plan.
func (c *Config) Spec() (network.Spec, error) {
	n := c.Network
	spec := network.Spec{
		Name:       n.Name,
		Driver:     n.Driver,
		BridgeName: n.BridgeName,
	}

	var err error
	if spec.IPv4Subnet, err = parsePrefix("ipv4_subnet", n.IPv4Subnet); err != nil {
		return network.Spec{}, err
	}
	if spec.IPv4Range, err = parsePrefix("ipv4_range", n.IPv4Range); err != nil {
		return network.Spec{}, err
	}
	if spec.IPv6Subnet, err = parsePrefix("ipv6_subnet", n.IPv6Subnet); err != nil {
		return network.Spec{}, err
	}
	if err := spec.Validate(); err != nil {
		return network.Spec{}, err
	}
	return spec, nil
}

func parsePrefix(field, s string) (netip.Prefix, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, &network.ValidationError{Field: field, Message: fmt.Sprintf("parse %q: %v", s, err)}
	}
	return p, nil
}
