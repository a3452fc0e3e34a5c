// Package startup drives network membership for containers as they start.
//
// The network.Manager is not safe for concurrent use, so a Runner confines
// it to a single worker goroutine and serializes every call. Retry policy
// lives here rather than in the Manager: repeating cleanup and connect is
// always safe, so a failed or timed out attach is simply tried again.
package startup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"hassnet/internal/network"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultAttemptTimeout = 30 * time.Second
	DefaultMaxElapsed     = 2 * time.Minute
)

// ErrClosed is returned for calls made after Close.
var ErrClosed = errors.New("startup runner is closed")

// Membership is the part of network.Manager the Runner drives.
type Membership interface {
	AttachContainer(ctx context.Context, c network.ContainerRef, aliases []string, ipv4 netip.Addr) error
	DetachFromDefaultBridge(ctx context.Context, c network.ContainerRef) error
	StaleCleanup(ctx context.Context, containerName string) error
}

var _ Membership = (*network.Manager)(nil)

type Options struct {
	// AttemptTimeout bounds a single provider operation.
	AttemptTimeout time.Duration
	// MaxElapsed bounds all attach attempts together.
	MaxElapsed time.Duration
	// NewBackOff overrides the attach retry schedule.
	NewBackOff func() backoff.BackOff
}

func (o Options) withDefaults() Options {
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = DefaultAttemptTimeout
	}
	if o.MaxElapsed <= 0 {
		o.MaxElapsed = DefaultMaxElapsed
	}
	if o.NewBackOff == nil {
		maxElapsed := o.MaxElapsed
		o.NewBackOff = func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(250*time.Millisecond),
				backoff.WithMaxInterval(5*time.Second),
				backoff.WithMaxElapsedTime(maxElapsed),
			)
		}
	}
	return o
}

type job struct {
	ctx    context.Context
	fn     func(context.Context, Membership) error
	result chan error
}

// Runner owns the worker goroutine that all membership calls run on.
type Runner struct {
	m    Membership
	opts Options
	log  *slog.Logger

	jobs      chan job
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewRunner starts the worker. Call Close to stop it.
func NewRunner(m Membership, opts Options) *Runner {
	r := &Runner{
		m:    m,
		opts: opts.withDefaults(),
		log:  slog.With("component", "startup"),
		jobs: make(chan job),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Runner) loop() {
	defer close(r.done)
	for {
		select {
		case j := <-r.jobs:
			j.result <- j.fn(j.ctx, r.m)
		case <-r.quit:
			return
		}
	}
}

// Do runs fn on the worker and waits for it. If ctx ends first, Do
// returns ctx.Err() while fn keeps running with the cancelled context.
func (r *Runner) Do(ctx context.Context, fn func(context.Context, Membership) error) error {
	j := job{ctx: ctx, fn: fn, result: make(chan error, 1)}
	select {
	case r.jobs <- j:
	case <-r.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AttachRequest describes one container to attach.
type AttachRequest struct {
	Container network.ContainerRef
	Aliases   []string
	IPv4      netip.Addr // zero lets the provider pick
}

// Attach attaches a container, retrying failures and per-attempt timeouts
// with exponential backoff until Options.MaxElapsed.
func (r *Runner) Attach(ctx context.Context, req AttachRequest) error {
	log := r.log.With("container", req.Container.String())
	attempts := 0

	op := func() error {
		attempts++
		err := r.Do(ctx, func(ctx context.Context, m Membership) error {
			ctx, cancel := context.WithTimeout(ctx, r.opts.AttemptTimeout)
			defer cancel()
			return m.AttachContainer(ctx, req.Container, req.Aliases, req.IPv4)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrClosed) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		log.Warn("Attach failed, retrying.", "attempt", attempts, "retry_in", next, "err", err)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(r.opts.NewBackOff(), ctx), notify); err != nil {
		return fmt.Errorf("attach %s after %d attempt(s): %w", req.Container, attempts, err)
	}
	return nil
}

// DetachDefault removes a container from the runtime's default network.
func (r *Runner) DetachDefault(ctx context.Context, c network.ContainerRef) error {
	return r.Do(ctx, func(ctx context.Context, m Membership) error {
		ctx, cancel := context.WithTimeout(ctx, r.opts.AttemptTimeout)
		defer cancel()
		return m.DetachFromDefaultBridge(ctx, c)
	})
}

// Cleanup force-removes a stale membership entry by container name.
func (r *Runner) Cleanup(ctx context.Context, containerName string) error {
	return r.Do(ctx, func(ctx context.Context, m Membership) error {
		ctx, cancel := context.WithTimeout(ctx, r.opts.AttemptTimeout)
		defer cancel()
		return m.StaleCleanup(ctx, containerName)
	})
}

// Start attaches a container and then isolates it from the default
// network, the order a managed container goes through at startup.
func (r *Runner) Start(ctx context.Context, req AttachRequest) error {
	if err := r.Attach(ctx, req); err != nil {
		return err
	}
	return r.DetachDefault(ctx, req.Container)
}

// Close stops the worker. Calls that have not started fail with ErrClosed.
func (r *Runner) Close() {
	r.closeOnce.Do(func() { close(r.quit) })
	<-r.done
}
