package network

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/netip"
	"slices"

	"hassnet/internal/check"
	"hassnet/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Manager owns the canonical network for the lifetime of the process.
//
// Manager is not safe for concurrent use. Every method performs blocking
// provider calls; confine the Manager to one worker goroutine (see
// internal/startup) and keep it off latency-sensitive paths.
type Manager struct {
	provider       Provider
	spec           Spec
	enableIPv6     bool
	defaultNetwork string

	network  Handle
	decision Decision

	log    *slog.Logger
	tracer trace.Tracer
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to slog.Default with a component attribute.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithTracer sets the tracer for resolve and membership operations.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		m.tracer = t
	}
}

// WithDefaultNetwork overrides the name of the runtime's default network
// used by DetachFromDefaultBridge. Defaults to the bridge driver name.
func WithDefaultNetwork(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.defaultNetwork = name
		}
	}
}

// New resolves the canonical network described by spec: it reuses an
// existing network whose dual-stack flag matches enableIPv6, recreates one
// whose flag differs, and creates one when absent. Any error is fatal to
// the caller's startup.
func New(ctx context.Context, provider Provider, spec Spec, enableIPv6 bool, opts ...Option) (*Manager, error) {
	check.Assert(provider != nil, "network.New: provider must not be nil")
	if provider == nil {
		return nil, fmt.Errorf("network provider is required")
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("validate network spec: %w", err)
	}

	m := &Manager{
		provider:       provider,
		spec:           spec,
		enableIPv6:     enableIPv6,
		defaultNetwork: DefaultDriver,
		log:            slog.With("component", "network"),
		tracer:         telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.resolve(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) resolve(ctx context.Context) (err error) {
	name := m.spec.Name
	op := telemetry.Start(ctx, m.tracer, "network.resolve",
		attribute.String(telemetry.NetworkKey, name),
		attribute.Bool(telemetry.IPv6Key, m.enableIPv6),
	)
	defer func() { op.End(err) }()

	var existing Handle
	err = op.RunStep("get", func(ctx context.Context) error {
		h, err := m.provider.Get(ctx, name)
		if err != nil {
			if IsNotFound(err) {
				return nil
			}
			return fmt.Errorf("get network %q: %w", name, err)
		}
		existing = h
		return nil
	})
	if err != nil {
		return err
	}

	var current *Attributes
	if existing != nil {
		attrs := existing.Attributes()
		current = &attrs
	}
	decision := Decide(current, m.enableIPv6)
	op.SetAttributes(attribute.String(telemetry.DecisionKey, decision.String()))

	switch decision {
	case DecisionReuse:
		m.log.Debug("Reusing network.", "network", name, "enable_ipv6", m.enableIPv6)
		m.network, m.decision = existing, decision
		return nil
	case DecisionRecreate:
		m.log.Info("Migrating network.", "network", name, "enable_ipv6", m.enableIPv6, "members", len(current.Containers))
		if err = op.RunStep("remove", func(ctx context.Context) error {
			return m.removeNetwork(ctx, existing, *current)
		}); err != nil {
			return err
		}
	case DecisionCreate:
		m.log.Info("Network not found, creating.", "network", name)
	}

	var created Handle
	err = op.RunStep("create", func(ctx context.Context) error {
		h, err := m.provider.Create(ctx, m.spec.CreateParams(m.enableIPv6))
		if err != nil {
			return fmt.Errorf("create network %q: %w", name, err)
		}
		created = h
		return nil
	})
	if err != nil {
		return err
	}

	m.network, m.decision = created, decision
	return nil
}

// removeNetwork force-disconnects remaining members, which the provider
// refuses to remove a network with, then removes the network.
func (m *Manager) removeNetwork(ctx context.Context, h Handle, attrs Attributes) error {
	for _, id := range slices.Sorted(maps.Keys(attrs.Containers)) {
		if err := h.Disconnect(ctx, id, true); err != nil && !IsNotFound(err) {
			return fmt.Errorf("disconnect container %s from network %q: %w", id, m.spec.Name, err)
		}
	}
	if err := h.Remove(ctx); err != nil && !IsNotFound(err) {
		return fmt.Errorf("remove network %q: %w", m.spec.Name, err)
	}
	return nil
}

// Name returns the canonical network name.
func (m *Manager) Name() string { return m.spec.Name }

// Spec returns the address plan the network was resolved with.
func (m *Manager) Spec() Spec { return m.spec }

// Network returns the owned network handle.
func (m *Manager) Network() Handle { return m.network }

// Decision reports what resolve did at construction.
func (m *Manager) Decision() Decision { return m.decision }

// EnableIPv6 reports the desired dual-stack setting.
func (m *Manager) EnableIPv6() bool { return m.enableIPv6 }

func (m *Manager) Address(role Role) netip.Addr { return m.spec.Address(role) }
func (m *Manager) Gateway() netip.Addr          { return m.spec.Address(RoleGateway) }
func (m *Manager) Supervisor() netip.Addr       { return m.spec.Address(RoleSupervisor) }
func (m *Manager) DNS() netip.Addr              { return m.spec.Address(RoleDNS) }
func (m *Manager) Audio() netip.Addr            { return m.spec.Address(RoleAudio) }
func (m *Manager) CLI() netip.Addr              { return m.spec.Address(RoleCLI) }
func (m *Manager) Observer() netip.Addr         { return m.spec.Address(RoleObserver) }

// Containers returns the names of member containers from the last
// snapshot, sorted. Call Refresh first when freshness matters.
func (m *Manager) Containers() []string {
	members := m.network.Attributes().Containers
	names := make([]string, 0, len(members))
	for _, ep := range members {
		names = append(names, ep.Name)
	}
	slices.Sort(names)
	return names
}

// Members returns a copy of the last membership snapshot keyed by container ID.
func (m *Manager) Members() map[string]Endpoint {
	return maps.Clone(m.network.Attributes().Containers)
}

// Refresh reloads the network attributes from the provider.
func (m *Manager) Refresh(ctx context.Context) error {
	if err := m.network.Reload(ctx); err != nil {
		return fmt.Errorf("reload network %q: %w", m.spec.Name, err)
	}
	return nil
}

// AttachContainer connects c to the canonical network with the given
// aliases and optional IPv4 address (the zero Addr lets the provider pick).
//
// A membership entry with the same name left behind by a container removed
// out of band makes the provider reject the connect, so any such entry is
// force-disconnected first.
func (m *Manager) AttachContainer(ctx context.Context, c ContainerRef, aliases []string, ipv4 netip.Addr) (err error) {
	name := c.CanonicalName()
	log := m.log.With("container", c.String(), "network", m.spec.Name)
	op := telemetry.Start(ctx, m.tracer, "network.attach",
		attribute.String(telemetry.NetworkKey, m.spec.Name),
		attribute.String(telemetry.ContainerKey, c.String()),
	)
	defer func() { op.End(err) }()

	// Best effort: a stale snapshot only risks a failed connect below.
	_ = op.RunStep("reload", func(ctx context.Context) error {
		if err := m.network.Reload(ctx); err != nil {
			log.Debug("Reload network failed, using cached membership.", "err", err)
			return err
		}
		return nil
	})

	if name != "" && m.hasMemberNamed(name) {
		log.Debug("Found stale membership entry.")
		if err = op.RunStep("stale_cleanup", func(ctx context.Context) error {
			return m.StaleCleanup(ctx, name)
		}); err != nil {
			return err
		}
	}

	err = op.RunStep("connect", func(ctx context.Context) error {
		return m.network.Connect(ctx, c, aliases, ipv4)
	})
	if err != nil {
		log.Error("Can't link container to network.", "err", err)
		return &Error{Op: "attach", Network: m.spec.Name, Container: c.String(), Kind: ErrAttach, Err: err}
	}
	return nil
}

func (m *Manager) hasMemberNamed(name string) bool {
	for _, ep := range m.network.Attributes().Containers {
		if ep.Name == name {
			return true
		}
	}
	return false
}

// StaleCleanup force-disconnects containerName from the canonical network.
// The container need not exist any more. A name the provider does not know
// counts as success.
func (m *Manager) StaleCleanup(ctx context.Context, containerName string) error {
	err := m.network.Disconnect(ctx, containerName, true)
	if err == nil || IsNotFound(err) {
		return nil
	}
	return &Error{Op: "stale cleanup", Network: m.spec.Name, Container: containerName, Kind: ErrNetwork, Err: err}
}

// DetachFromDefaultBridge disconnects c from the runtime's default network.
// A missing default network or membership is not an error.
func (m *Manager) DetachFromDefaultBridge(ctx context.Context, c ContainerRef) (err error) {
	log := m.log.With("container", c.String(), "network", m.defaultNetwork)
	op := telemetry.Start(ctx, m.tracer, "network.detach_default",
		attribute.String(telemetry.NetworkKey, m.defaultNetwork),
		attribute.String(telemetry.ContainerKey, c.String()),
	)
	defer func() { op.End(err) }()

	var def Handle
	err = op.RunStep("get", func(ctx context.Context) error {
		h, err := m.provider.Get(ctx, m.defaultNetwork)
		if err != nil {
			return err
		}
		def = h
		return nil
	})
	if err == nil {
		err = op.RunStep("disconnect", func(ctx context.Context) error {
			return def.Disconnect(ctx, c.Target(), false)
		})
	}
	if err == nil || IsNotFound(err) {
		return nil
	}

	log.Warn("Can't disconnect container from default network.", "err", err)
	return &Error{Op: "detach", Network: m.defaultNetwork, Container: c.String(), Kind: ErrDetach, Err: err}
}
