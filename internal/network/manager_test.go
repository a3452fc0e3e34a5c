package network_test

import (
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"slices"
	"testing"

	"hassnet/internal/adapter/fake"
	"hassnet/internal/network"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newManager(t *testing.T, p *fake.Provider, enableIPv6 bool, opts ...network.Option) *network.Manager {
	t.Helper()
	opts = append([]network.Option{network.WithLogger(quiet), network.WithTracer(nil)}, opts...)
	m, err := network.New(t.Context(), p, network.DefaultSpec(), enableIPv6, opts...)
	if err != nil {
		t.Fatalf("network.New: %v", err)
	}
	return m
}

func TestNew_CreatesWhenAbsent(t *testing.T) {
	p := fake.NewProvider()

	m := newManager(t, p, true)

	if want := []string{"Get", "Create"}; !slices.Equal(p.Methods(), want) {
		t.Fatalf("calls = %v, want %v", p.Methods(), want)
	}
	if m.Decision() != network.DecisionCreate {
		t.Errorf("decision = %s, want create", m.Decision())
	}
	params, _ := p.LastCreate()
	if !params.EnableIPv6 {
		t.Error("created network without IPv6")
	}
	if exists, v6 := p.Exists("hassio"); !exists || !v6 {
		t.Errorf("network exists=%v ipv6=%v, want true/true", exists, v6)
	}
}

func TestNew_ReusesMatchingNetwork(t *testing.T) {
	for _, enableIPv6 := range []bool{true, false} {
		p := fake.NewProvider()
		id := p.AddNetwork("hassio", enableIPv6)
		p.AddEndpoint("hassio", "c1", "hassio_supervisor")

		m := newManager(t, p, enableIPv6)

		if want := []string{"Get"}; !slices.Equal(p.Methods(), want) {
			t.Fatalf("ipv6=%v: calls = %v, want %v", enableIPv6, p.Methods(), want)
		}
		if m.Decision() != network.DecisionReuse {
			t.Errorf("ipv6=%v: decision = %s, want reuse", enableIPv6, m.Decision())
		}
		if got := m.Network().Attributes().ID; got != id {
			t.Errorf("ipv6=%v: handle id = %q, want %q", enableIPv6, got, id)
		}
	}
}

func TestNew_RecreatesOnDualStackMismatch(t *testing.T) {
	tests := []struct {
		name    string
		old     bool
		desired bool
		members map[string]string
	}{
		{name: "upgrade with members", old: false, desired: true, members: map[string]string{"c1": "hassio_observer", "c2": "hassio_supervisor"}},
		{name: "downgrade with members", old: true, desired: false, members: map[string]string{"c1": "hassio_observer", "c2": "hassio_supervisor"}},
		{name: "upgrade single member", old: false, desired: true, members: map[string]string{"c1": "test_container"}},
		{name: "upgrade empty", old: false, desired: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := fake.NewProvider()
			oldID := p.AddNetwork("hassio", tt.old)
			for id, name := range tt.members {
				p.AddEndpoint("hassio", id, name)
			}

			m := newManager(t, p, tt.desired)

			want := []string{"Get"}
			for range tt.members {
				want = append(want, "Disconnect")
			}
			want = append(want, "Remove", "Create")
			if !slices.Equal(p.Methods(), want) {
				t.Fatalf("calls = %v, want %v", p.Methods(), want)
			}
			for _, c := range p.Calls("Disconnect") {
				if force := c.Args[1].(bool); !force {
					t.Errorf("disconnect of %v not forced", c.Args[0])
				}
			}

			params, _ := p.LastCreate()
			wantParams := network.DefaultSpec().CreateParams(tt.desired)
			if diff := cmp.Diff(wantParams, params, cmpopts.EquateComparable(netip.Addr{}, netip.Prefix{})); diff != "" {
				t.Errorf("create params mismatch (-want +got):\n%s", diff)
			}

			if m.Decision() != network.DecisionRecreate {
				t.Errorf("decision = %s, want recreate", m.Decision())
			}
			if got := m.Network().Attributes(); got.ID == oldID || got.EnableIPv6 != tt.desired {
				t.Errorf("handle = %+v, want fresh network with ipv6=%v", got, tt.desired)
			}
			if n := len(m.Containers()); n != 0 {
				t.Errorf("fresh network has %d members, want 0", n)
			}
		})
	}
}

func TestNew_GetErrorIsFatal(t *testing.T) {
	p := fake.NewProvider()
	injected := errors.New("connection refused")
	p.Faults.FailAlways(fake.FaultGet, injected)

	_, err := network.New(t.Context(), p, network.DefaultSpec(), true, network.WithLogger(quiet))
	if !errors.Is(err, injected) {
		t.Fatalf("got %v, want wrapped %v", err, injected)
	}
	if calls := p.Calls("Create"); len(calls) != 0 {
		t.Errorf("create called %d times after get failure", len(calls))
	}
}

func TestNew_CreateErrorIsFatal(t *testing.T) {
	p := fake.NewProvider()
	injected := errors.New("pool overlaps with other one on this address space")
	p.Faults.FailAlways(fake.FaultCreate, injected)

	_, err := network.New(t.Context(), p, network.DefaultSpec(), true, network.WithLogger(quiet))
	if !errors.Is(err, injected) {
		t.Fatalf("got %v, want wrapped %v", err, injected)
	}
}

func TestNew_RemoveErrorIsFatal(t *testing.T) {
	p := fake.NewProvider()
	p.AddNetwork("hassio", false)
	injected := errors.New("network is in use")
	p.Faults.FailAlways(fake.FaultRemove, injected)

	_, err := network.New(t.Context(), p, network.DefaultSpec(), true, network.WithLogger(quiet))
	if !errors.Is(err, injected) {
		t.Fatalf("got %v, want wrapped %v", err, injected)
	}
	if calls := p.Calls("Create"); len(calls) != 0 {
		t.Errorf("create called after failed remove")
	}
}

func TestNew_RejectsInvalidSpec(t *testing.T) {
	spec := network.DefaultSpec()
	spec.IPv4Range = netip.MustParsePrefix("192.168.0.0/24")

	_, err := network.New(t.Context(), fake.NewProvider(), spec, true)
	var valErr *network.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("got %v, want *ValidationError", err)
	}
}

func TestAddresses_StableAcrossMigration(t *testing.T) {
	p := fake.NewProvider()
	p.AddNetwork("hassio", false)

	migrated := newManager(t, p, true)
	reused := newManager(t, p, true)

	for _, m := range []*network.Manager{migrated, reused} {
		got := []netip.Addr{m.Gateway(), m.Supervisor(), m.DNS(), m.Audio(), m.CLI(), m.Observer()}
		want := []netip.Addr{
			netip.MustParseAddr("172.30.32.1"),
			netip.MustParseAddr("172.30.32.2"),
			netip.MustParseAddr("172.30.32.3"),
			netip.MustParseAddr("172.30.32.4"),
			netip.MustParseAddr("172.30.32.5"),
			netip.MustParseAddr("172.30.32.6"),
		}
		if !slices.Equal(got, want) {
			t.Errorf("%s: addresses = %v, want %v", m.Decision(), got, want)
		}
	}
	if m := reused; m.Name() != "hassio" {
		t.Errorf("Name = %q, want hassio", m.Name())
	}
}

func TestAttachContainer_SupervisorOnFreshNetwork(t *testing.T) {
	p := fake.NewProvider()
	m := newManager(t, p, true)
	p.Reset()

	ref := network.ContainerRef{ID: "core1", Name: "hassio_supervisor"}
	if err := m.AttachContainer(t.Context(), ref, []string{"supervisor"}, m.Supervisor()); err != nil {
		t.Fatalf("AttachContainer: %v", err)
	}

	if want := []string{"Reload", "Connect"}; !slices.Equal(p.Methods(), want) {
		t.Fatalf("calls = %v, want %v", p.Methods(), want)
	}
	connect := p.Calls("Connect")[0]
	if addr := connect.Args[2].(netip.Addr); addr != m.Supervisor() {
		t.Errorf("connect address = %s, want %s", addr, m.Supervisor())
	}
	if aliases := connect.Args[1].([]string); !slices.Equal(aliases, []string{"supervisor"}) {
		t.Errorf("connect aliases = %v", aliases)
	}
	if got := p.Endpoints("hassio")["core1"].IPv4; got != netip.MustParsePrefix("172.30.32.2/23") {
		t.Errorf("endpoint address = %s", got)
	}
}

func TestAttachContainer_CleansStaleEntryBeforeConnect(t *testing.T) {
	p := fake.NewProvider()
	p.AddNetwork("hassio", true)
	m := newManager(t, p, true)
	// Container removed through the runtime; its endpoint survived.
	p.AddEndpoint("hassio", "old-id", "hassio_dns")
	p.Reset()

	ref := network.ContainerRef{ID: "new-id", Name: "hassio_dns"}
	if err := m.AttachContainer(t.Context(), ref, nil, m.DNS()); err != nil {
		t.Fatalf("AttachContainer: %v", err)
	}

	if want := []string{"Reload", "Disconnect", "Connect"}; !slices.Equal(p.Methods(), want) {
		t.Fatalf("calls = %v, want %v", p.Methods(), want)
	}
	disconnect := p.Calls("Disconnect")[0]
	if disconnect.Args[0] != "hassio_dns" || disconnect.Args[1] != true {
		t.Errorf("disconnect args = %v, want [hassio_dns true]", disconnect.Args)
	}
	eps := p.Endpoints("hassio")
	if _, ok := eps["old-id"]; ok {
		t.Error("stale endpoint still present")
	}
	if _, ok := eps["new-id"]; !ok {
		t.Error("container not connected")
	}
}

func TestAttachContainer_CleanupNotFoundStillConnects(t *testing.T) {
	ctx := t.Context()
	p := fake.NewProvider()
	p.AddNetwork("hassio", true)
	p.AddEndpoint("hassio", "old-id", "hassio_audio")
	m := newManager(t, p, true)

	// The entry disappears behind the manager's back and the refresh fails,
	// so the cached snapshot still lists it.
	other, _ := p.Get(ctx, "hassio")
	if err := other.Disconnect(ctx, "old-id", true); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	p.Faults.FailOnce(fake.FaultReload, errors.New("read: connection reset by peer"))
	p.Reset()

	ref := network.ContainerRef{ID: "new-id", Name: "hassio_audio"}
	if err := m.AttachContainer(ctx, ref, nil, m.Audio()); err != nil {
		t.Fatalf("AttachContainer: %v", err)
	}
	if want := []string{"Reload", "Disconnect", "Connect"}; !slices.Equal(p.Methods(), want) {
		t.Fatalf("calls = %v, want %v", p.Methods(), want)
	}
	if _, ok := p.Endpoints("hassio")["new-id"]; !ok {
		t.Error("container not connected")
	}
}

func TestAttachContainer_ReattachSucceeds(t *testing.T) {
	ctx := t.Context()
	p := fake.NewProvider()
	m := newManager(t, p, true)
	ref := network.ContainerRef{ID: "cli1", Name: "hassio_cli"}

	for i := range 2 {
		if err := m.AttachContainer(ctx, ref, []string{"cli"}, m.CLI()); err != nil {
			t.Fatalf("attach %d: %v", i, err)
		}
	}
	if n := len(p.Endpoints("hassio")); n != 1 {
		t.Errorf("members = %d, want 1", n)
	}
	if n := len(p.Calls("Reload")); n != 2 {
		t.Errorf("reloads = %d, want 2", n)
	}
}

func TestAttachContainer_ConnectErrorIsAttachError(t *testing.T) {
	p := fake.NewProvider()
	m := newManager(t, p, true)
	injected := errors.New("invalid address")
	p.Faults.FailAlways(fake.FaultConnect, injected)

	err := m.AttachContainer(t.Context(), network.ContainerRef{Name: "addon_local_x"}, nil, netip.Addr{})
	if !errors.Is(err, network.ErrAttach) || !errors.Is(err, injected) {
		t.Fatalf("got %v, want ErrAttach wrapping %v", err, injected)
	}
	var netErr *network.Error
	if !errors.As(err, &netErr) || netErr.Container != "addon_local_x" || netErr.Network != "hassio" {
		t.Errorf("error details = %+v", netErr)
	}
}

func TestAttachContainer_CleanupFailureSkipsConnect(t *testing.T) {
	p := fake.NewProvider()
	p.AddNetwork("hassio", true)
	p.AddEndpoint("hassio", "old-id", "hassio_observer")
	m := newManager(t, p, true)
	injected := errors.New("daemon timeout")
	p.Faults.FailAlways(fake.FaultDisconnect, injected)

	err := m.AttachContainer(t.Context(), network.ContainerRef{ID: "new-id", Name: "hassio_observer"}, nil, m.Observer())
	if !errors.Is(err, network.ErrNetwork) || !errors.Is(err, injected) {
		t.Fatalf("got %v, want ErrNetwork wrapping %v", err, injected)
	}
	if n := len(p.Calls("Connect")); n != 0 {
		t.Errorf("connect called %d times after failed cleanup", n)
	}
}

func TestAttachContainer_UnnamedSkipsStaleCheck(t *testing.T) {
	p := fake.NewProvider()
	p.AddNetwork("hassio", true)
	p.AddEndpoint("hassio", "other", "addon_core_ssh")
	m := newManager(t, p, true)
	p.Reset()

	if err := m.AttachContainer(t.Context(), network.ContainerRef{ID: "abc"}, nil, netip.Addr{}); err != nil {
		t.Fatalf("AttachContainer: %v", err)
	}
	if n := len(p.Calls("Disconnect")); n != 0 {
		t.Errorf("disconnect called %d times for unnamed container", n)
	}
}

func TestStaleCleanup_AbsentNameSucceeds(t *testing.T) {
	p := fake.NewProvider()
	m := newManager(t, p, true)

	if err := m.StaleCleanup(t.Context(), "hassio_gone"); err != nil {
		t.Fatalf("StaleCleanup: %v", err)
	}
}

func TestStaleCleanup_OtherErrorSurfaces(t *testing.T) {
	p := fake.NewProvider()
	m := newManager(t, p, true)
	injected := errors.New("EOF")
	p.Faults.FailAlways(fake.FaultDisconnect, injected)

	err := m.StaleCleanup(t.Context(), "hassio_dns")
	if !errors.Is(err, network.ErrNetwork) || !errors.Is(err, injected) {
		t.Fatalf("got %v, want ErrNetwork wrapping %v", err, injected)
	}
}

func TestDetachFromDefaultBridge_NoDefaultNetwork(t *testing.T) {
	p := fake.NewProvider()
	m := newManager(t, p, true)

	if err := m.DetachFromDefaultBridge(t.Context(), network.ContainerRef{ID: "c1", Name: "hassio_audio"}); err != nil {
		t.Fatalf("DetachFromDefaultBridge: %v", err)
	}
}

func TestDetachFromDefaultBridge_Disconnects(t *testing.T) {
	p := fake.NewProvider()
	p.AddNetwork("bridge", false)
	p.AddEndpoint("bridge", "c1", "hassio_audio")
	m := newManager(t, p, true)
	p.Reset()

	if err := m.DetachFromDefaultBridge(t.Context(), network.ContainerRef{ID: "c1", Name: "hassio_audio"}); err != nil {
		t.Fatalf("DetachFromDefaultBridge: %v", err)
	}
	if want := []string{"Get", "Disconnect"}; !slices.Equal(p.Methods(), want) {
		t.Fatalf("calls = %v, want %v", p.Methods(), want)
	}
	disconnect := p.Calls("Disconnect")[0]
	if disconnect.Args[0] != "c1" || disconnect.Args[1] != false {
		t.Errorf("disconnect args = %v, want [c1 false]", disconnect.Args)
	}
	if n := len(p.Endpoints("bridge")); n != 0 {
		t.Errorf("bridge members = %d, want 0", n)
	}
}

func TestDetachFromDefaultBridge_NotMember(t *testing.T) {
	p := fake.NewProvider()
	p.AddNetwork("bridge", false)
	m := newManager(t, p, true)

	if err := m.DetachFromDefaultBridge(t.Context(), network.ContainerRef{ID: "c9"}); err != nil {
		t.Fatalf("DetachFromDefaultBridge: %v", err)
	}
}

func TestDetachFromDefaultBridge_CustomDefault(t *testing.T) {
	p := fake.NewProvider()
	p.AddNetwork("nat", false)
	p.AddEndpoint("nat", "c1", "hassio_cli")
	m := newManager(t, p, true, network.WithDefaultNetwork("nat"))

	if err := m.DetachFromDefaultBridge(t.Context(), network.ContainerRef{ID: "c1"}); err != nil {
		t.Fatalf("DetachFromDefaultBridge: %v", err)
	}
	if n := len(p.Endpoints("nat")); n != 0 {
		t.Errorf("nat members = %d, want 0", n)
	}
}

func TestDetachFromDefaultBridge_ErrorIsDetachError(t *testing.T) {
	p := fake.NewProvider()
	p.AddNetwork("bridge", false)
	p.AddEndpoint("bridge", "c1", "hassio_cli")
	m := newManager(t, p, true)
	injected := errors.New("permission denied")
	p.Faults.FailAlways(fake.FaultDisconnect, injected)

	err := m.DetachFromDefaultBridge(t.Context(), network.ContainerRef{ID: "c1"})
	if !errors.Is(err, network.ErrDetach) || !errors.Is(err, injected) {
		t.Fatalf("got %v, want ErrDetach wrapping %v", err, injected)
	}
}

func TestContainers_ReflectsRefresh(t *testing.T) {
	ctx := t.Context()
	p := fake.NewProvider()
	m := newManager(t, p, true)
	p.AddEndpoint("hassio", "c2", "hassio_observer")
	p.AddEndpoint("hassio", "c1", "hassio_dns")

	if n := len(m.Containers()); n != 0 {
		t.Fatalf("members before refresh = %d, want 0", n)
	}
	if err := m.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if want := []string{"hassio_dns", "hassio_observer"}; !slices.Equal(m.Containers(), want) {
		t.Errorf("Containers = %v, want %v", m.Containers(), want)
	}
	if _, ok := m.Members()["c2"]; !ok {
		t.Error("Members missing c2")
	}
}

func TestAttachContainer_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")

	p := fake.NewProvider()
	p.AddNetwork("hassio", true)
	p.AddEndpoint("hassio", "old", "hassio_dns")
	m, err := network.New(t.Context(), p, network.DefaultSpec(), true, network.WithLogger(quiet), network.WithTracer(tracer))
	if err != nil {
		t.Fatalf("network.New: %v", err)
	}
	if err := m.AttachContainer(t.Context(), network.ContainerRef{ID: "new", Name: "hassio_dns"}, nil, m.DNS()); err != nil {
		t.Fatalf("AttachContainer: %v", err)
	}

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	want := []string{"get", "network.resolve", "reload", "stale_cleanup", "connect", "network.attach"}
	if !slices.Equal(names, want) {
		t.Errorf("spans = %v, want %v", names, want)
	}
}
