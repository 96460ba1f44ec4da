package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "git.home.luguber.info/inful/srcgenhost"

// Tracer returns the host tracer from the globally registered provider.
// Without an installed SDK the global provider is a no-op.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartRunSpan creates the root span of one engine invocation.
func StartRunSpan(ctx context.Context, runID, project, configuration string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "engine.generate",
		trace.WithAttributes(
			attribute.String("srcgen.run_id", runID),
			attribute.String("srcgen.project", project),
			attribute.String("srcgen.configuration", configuration),
		),
	)
}

// StartGroupSpan creates a span for one scheduling level.
func StartGroupSpan(ctx context.Context, index int, generators []string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "engine.group",
		trace.WithAttributes(
			attribute.Int("srcgen.group", index),
			attribute.StringSlice("srcgen.generators", generators),
		),
	)
}

// StartGeneratorSpan creates a span for one generator invocation.
func StartGeneratorSpan(ctx context.Context, generator string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "generator.execute",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("srcgen.generator", generator)),
	)
}

// StartConnectionSpan creates a server span for one accepted connection.
func StartConnectionSpan(ctx context.Context, connectionID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "buildserver.connection",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("srcgen.connection_id", connectionID)),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
