package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new span with the given name and attributes
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan creates a new server span (for incoming requests)
func StartServerSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartProducerSpan creates a span for work handed to another process.
func StartProducerSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
}

// SetSpanError marks the span as errored
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks the span as successful
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Attribute keys for quasar spans
var (
	AttrTaskID      = attribute.Key("quasar.task.id")
	AttrTaskName    = attribute.Key("quasar.task.name")
	AttrFunction    = attribute.Key("quasar.function")
	AttrLanguage    = attribute.Key("quasar.language")
	AttrSession     = attribute.Key("quasar.session")
	AttrNumReturns  = attribute.Key("quasar.num_returns")
	AttrPlacement   = attribute.Key("quasar.placement_group")
	AttrBundleIndex = attribute.Key("quasar.bundle_index")
	AttrRPCMethod   = attribute.Key("rpc.method")
	AttrDurationMs  = attribute.Key("quasar.duration_ms")
)
