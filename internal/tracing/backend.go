// Package tracing attaches learning-pipeline stages to the trace of the
// interaction that triggered them.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Spec describes a trace to create.
type Spec struct {
	Name       string
	Parent     trace.SpanContext // invalid for a root trace
	Attributes []attribute.KeyValue
}

// Handle is an open trace returned by CreateTrace.
type Handle interface {
	SetAttributes(kv ...attribute.KeyValue)
	AddEvent(name string, options ...trace.EventOption)
}

// Backend is the external tracing system.
type Backend interface {
	// FindParentTrace locates the trace for an interaction from its metadata.
	FindParentTrace(ctx context.Context, filter map[string]string) (trace.SpanContext, bool, error)
	CreateTrace(ctx context.Context, spec Spec) (Handle, error)
	EndTrace(h Handle)
	Flush(ctx context.Context) error
}

type flusher interface {
	ForceFlush(ctx context.Context) error
}

// OTelBackend is a Backend over an OpenTelemetry tracer provider. Parent
// traces are found through W3C trace context carried in interaction
// metadata.
type OTelBackend struct {
	tracer     trace.Tracer
	provider   trace.TracerProvider
	propagator propagation.TextMapPropagator
}

// NewOTelBackend builds a backend on tp.
func NewOTelBackend(tp trace.TracerProvider) *OTelBackend {
	return &OTelBackend{
		tracer:     tp.Tracer("github.com/jordanhubbard/guardian/learning"),
		provider:   tp,
		propagator: propagation.TraceContext{},
	}
}

func (b *OTelBackend) FindParentTrace(ctx context.Context, filter map[string]string) (trace.SpanContext, bool, error) {
	if len(filter) == 0 {
		return trace.SpanContext{}, false, nil
	}
	extracted := b.propagator.Extract(ctx, propagation.MapCarrier(filter))
	sc := trace.SpanContextFromContext(extracted)
	if !sc.IsValid() {
		return trace.SpanContext{}, false, nil
	}
	return sc, true, nil
}

func (b *OTelBackend) CreateTrace(ctx context.Context, spec Spec) (Handle, error) {
	if spec.Parent.IsValid() {
		ctx = trace.ContextWithRemoteSpanContext(ctx, spec.Parent)
	}
	_, span := b.tracer.Start(ctx, spec.Name,
		trace.WithAttributes(spec.Attributes...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return span, nil
}

func (b *OTelBackend) EndTrace(h Handle) {
	if span, ok := h.(trace.Span); ok {
		span.End()
	}
}

func (b *OTelBackend) Flush(ctx context.Context) error {
	if f, ok := b.provider.(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

// NoopBackend is used when tracing is not configured.
type NoopBackend struct{}

func (NoopBackend) FindParentTrace(context.Context, map[string]string) (trace.SpanContext, bool, error) {
	return trace.SpanContext{}, false, nil
}

func (NoopBackend) CreateTrace(context.Context, Spec) (Handle, error) {
	return trace.SpanFromContext(context.Background()), nil
}

func (NoopBackend) EndTrace(Handle) {}

func (NoopBackend) Flush(context.Context) error { return nil }
