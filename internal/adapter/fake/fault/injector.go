// Package fault injects provider failures into fake adapters.
package fault

import (
	"fmt"
	"strings"
	"sync"

	"hassnet/internal/check"
)

// Hook inspects the arguments of a call and returns an error to fail it.
type Hook func(args ...any) error

type point struct {
	queued []error
	always error
	hook   Hook
	evals  int
}

// Injector holds faults per named point. Evaluation order for a point is
// hook, then queued one-shot errors, then the persistent error.
type Injector struct {
	mu     sync.Mutex
	points map[string]*point
}

func NewInjector() *Injector {
	return &Injector{points: make(map[string]*point)}
}

// FailOnce fails the next evaluation of name with err.
func (i *Injector) FailOnce(name string, err error) {
	i.FailTimes(name, 1, err)
}

// FailTimes fails the next n evaluations of name with err.
func (i *Injector) FailTimes(name string, n int, err error) {
	check.Assertf(n > 0, "fault.FailTimes(%s): n must be positive", name)
	i.update(name, err != nil, func(p *point) {
		for range n {
			p.queued = append(p.queued, err)
		}
	})
}

// FailAlways fails every evaluation of name with err until cleared.
func (i *Injector) FailAlways(name string, err error) {
	i.update(name, err != nil, func(p *point) {
		p.always = err
	})
}

// SetHook installs an argument-aware hook for name.
func (i *Injector) SetHook(name string, hook Hook) {
	i.update(name, hook != nil, func(p *point) {
		p.hook = hook
	})
}

// Clear removes all faults for name.
func (i *Injector) Clear(name string) {
	if i == nil {
		return
	}
	i.mu.Lock()
	delete(i.points, name)
	i.mu.Unlock()
}

// Reset removes all configured faults.
func (i *Injector) Reset() {
	if i == nil {
		return
	}
	i.mu.Lock()
	i.points = make(map[string]*point)
	i.mu.Unlock()
}

// Evaluations reports how often name was evaluated while it had faults configured.
func (i *Injector) Evaluations(name string) int {
	if i == nil {
		return 0
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if p := i.points[name]; p != nil {
		return p.evals
	}
	return 0
}

// Eval returns the injected error for this call of name, or nil.
func (i *Injector) Eval(name string, args ...any) error {
	if i == nil || strings.TrimSpace(name) == "" {
		return nil
	}

	i.mu.Lock()
	p := i.points[name]
	if p == nil {
		i.mu.Unlock()
		return nil
	}
	p.evals++
	hook := p.hook
	var once error
	if len(p.queued) > 0 {
		once, p.queued = p.queued[0], p.queued[1:]
	}
	always := p.always
	i.mu.Unlock()

	if hook != nil {
		if err := hook(args...); err != nil {
			return fmt.Errorf("fault %s (hook): %w", name, err)
		}
	}
	if once != nil {
		return fmt.Errorf("fault %s (once): %w", name, once)
	}
	if always != nil {
		return fmt.Errorf("fault %s (always): %w", name, always)
	}
	return nil
}

func (i *Injector) update(name string, valid bool, fn func(*point)) {
	check.Assert(i != nil, "fault.Injector: receiver must not be nil")
	check.Assertf(strings.TrimSpace(name) != "" && valid, "fault.Injector: invalid fault for point %q", name)
	if i == nil || strings.TrimSpace(name) == "" || !valid {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	p, ok := i.points[name]
	if !ok {
		p = &point{}
		i.points[name] = p
	}
	fn(p)
}
