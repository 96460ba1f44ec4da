package observability

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Trace exporters accepted by SetupTracing.
const (
	TraceExporterNone   = "none"
	TraceExporterStdout = "stdout"
)

// ShutdownFunc flushes and stops an installed tracer provider.
type ShutdownFunc func(context.Context) error

// SetupTracing installs a global tracer provider for the named exporter.
// The stdout exporter writes one JSON document per span to w. "none" or
// an empty name leaves the no-op provider in place.
func SetupTracing(exporter string, w io.Writer) (ShutdownFunc, error) {
	switch strings.ToLower(strings.TrimSpace(exporter)) {
	case "", TraceExporterNone:
		return func(context.Context) error { return nil }, nil
	case TraceExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}
		return InstallTracerProvider(sdktrace.WithBatcher(exp)), nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", exporter)
	}
}

// InstallTracerProvider registers an SDK tracer provider with the given
// options as the global provider. The returned function shuts it down and
// restores the previous provider.
func InstallTracerProvider(opts ...sdktrace.TracerProviderOption) ShutdownFunc {
	res := resource.NewSchemaless(attribute.String("service.name", "srcgenhost"))
	tp := sdktrace.NewTracerProvider(append([]sdktrace.TracerProviderOption{sdktrace.WithResource(res)}, opts...)...)
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	return func(ctx context.Context) error {
		otel.SetTracerProvider(previous)
		return tp.Shutdown(ctx)
	}
}
