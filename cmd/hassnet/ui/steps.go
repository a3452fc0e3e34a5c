package ui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// StepOutput prints operation steps as their spans start and end:
//
//	network.resolve
//	  [->] get
//	  [ok] get
//	  [->] create
//	  [x] create (pool overlaps)
type StepOutput struct {
	provider *sdktrace.TracerProvider
}

// NewStepOutput returns a StepOutput writing to w.
func NewStepOutput(w io.Writer) *StepOutput {
	p := &stepPrinter{w: w}
	return &StepOutput{provider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(p))}
}

func (o *StepOutput) Tracer(name string) trace.Tracer {
	return o.provider.Tracer(name)
}

func (o *StepOutput) Close() {
	_ = o.provider.Shutdown(context.Background())
}

type stepPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *stepPrinter) OnStart(_ context.Context, span sdktrace.ReadWriteSpan) {
	if !span.Parent().IsValid() {
		p.println(Bold(span.Name()))
		return
	}
	p.println("  " + Muted("[->]") + " " + span.Name())
}

func (p *stepPrinter) OnEnd(span sdktrace.ReadOnlySpan) {
	if !span.Parent().IsValid() {
		return
	}
	status := span.Status()
	if status.Code == codes.Error {
		msg := strings.TrimSpace(status.Description)
		p.println(fmt.Sprintf("  %s %s (%s)", errorStyle.Render("[x]"), span.Name(), msg))
		return
	}
	p.println("  " + successStyle.Render("[ok]") + " " + span.Name())
}

func (p *stepPrinter) println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}

func (p *stepPrinter) Shutdown(context.Context) error   { return nil }
func (p *stepPrinter) ForceFlush(context.Context) error { return nil }
