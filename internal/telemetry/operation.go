// Package telemetry wraps network operations in OpenTelemetry spans.
package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName = "hassnet/network"

	NetworkKey   = "hassnet.network.name"
	ContainerKey = "hassnet.container.name"
	DecisionKey  = "hassnet.network.decision"
	IPv6Key      = "hassnet.network.enable_ipv6"

	defaultOperationID = "operation"
)

// Tracer returns the package tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// Operation is a root span with child spans per step.
type Operation struct {
	ctx    context.Context
	tracer trace.Tracer
	span   trace.Span
}

// Start opens the root span for operation. A nil tracer yields an
// Operation that runs steps without tracing.
func Start(ctx context.Context, tracer trace.Tracer, operation string, attrs ...attribute.KeyValue) *Operation {
	if ctx == nil {
		ctx = context.Background()
	}
	if tracer == nil {
		return &Operation{ctx: ctx}
	}

	operation = strings.TrimSpace(operation)
	if operation == "" {
		operation = defaultOperationID
	}

	spanCtx, span := tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
	return &Operation{ctx: spanCtx, tracer: tracer, span: span}
}

func (o *Operation) Context() context.Context {
	if o == nil || o.ctx == nil {
		return context.Background()
	}
	return o.ctx
}

// SetAttributes annotates the root span.
func (o *Operation) SetAttributes(attrs ...attribute.KeyValue) {
	if o == nil || o.span == nil {
		return
	}
	o.span.SetAttributes(attrs...)
}

// RunStep runs fn inside a child span named id.
func (o *Operation) RunStep(id string, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}

	stepID := strings.TrimSpace(id)
	if stepID == "" {
		return fmt.Errorf("run telemetry step: step id is required")
	}
	if o == nil || o.tracer == nil {
		return fn(o.Context())
	}

	stepCtx, span := o.tracer.Start(o.ctx, stepID)
	defer span.End()

	if err := fn(stepCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
		return err
	}
	return nil
}

// End closes the root span, recording err if set.
func (o *Operation) End(err error) {
	if o == nil || o.span == nil {
		return
	}
	if err != nil {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
	}
	o.span.End()
}
