package main

import (
	"context"
	"fmt"
	"os"

	"hassnet/cmd/hassnet/ui"
	"hassnet/internal/adapter/docker"
	"hassnet/internal/network"
	"hassnet/internal/startup"
	"hassnet/internal/telemetry"

	"github.com/docker/docker/client"
)

// session is a connected Docker client plus, once opened, the resolved
// canonical network.
type session struct {
	cli      *client.Client
	provider *docker.Provider
	spec     network.Spec
	steps    *ui.StepOutput

	mgr    *network.Manager
	runner *startup.Runner
}

// connect dials the Docker daemon and waits until it answers.
func connect(ctx context.Context, opts *rootOptions) (*session, error) {
	spec, err := opts.cfg.Spec()
	if err != nil {
		return nil, err
	}

	cli, err := docker.NewClient(opts.cfg.Docker.Host)
	if err != nil {
		return nil, err
	}
	if err := docker.WaitReady(ctx, cli, opts.cfg.Docker.WaitTimeout); err != nil {
		_ = cli.Close()
		return nil, err
	}

	s := &session{cli: cli, provider: docker.NewProvider(cli), spec: spec}
	if opts.steps {
		s.steps = ui.NewStepOutput(os.Stderr)
	}
	return s, nil
}

// open connects and resolves the canonical network, creating or migrating
// it as needed.
func open(ctx context.Context, opts *rootOptions, ropts startup.Options) (*session, error) {
	s, err := connect(ctx, opts)
	if err != nil {
		return nil, err
	}

	mopts := []network.Option{network.WithDefaultNetwork(opts.cfg.Network.DefaultNetwork)}
	if s.steps != nil {
		mopts = append(mopts, network.WithTracer(s.steps.Tracer(telemetry.TracerName)))
	}
	mgr, err := network.New(ctx, s.provider, s.spec, opts.cfg.DesiredIPv6(), mopts...)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("set up network %s: %w", s.spec.Name, err)
	}
	s.mgr = mgr
	s.runner = startup.NewRunner(mgr, ropts)
	return s, nil
}

func (s *session) Close() {
	if s.runner != nil {
		s.runner.Close()
	}
	if s.steps != nil {
		s.steps.Close()
	}
	_ = s.cli.Close()
}

func (s *session) resolveContainer(ctx context.Context, ref string) (network.ContainerRef, error) {
	return docker.ResolveContainer(ctx, s.cli, ref)
}
