package observability

import (
	"context"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer name used across the proxy's HTTP handlers and background tasks.
const tracerName = "memoryproxy"

// NewTracerProvider returns a minimal in-process tracer provider. No
// exporter is wired (see DESIGN.md: no metrics/trace backend is named in
// scope); spans are still created and propagated so LoggerWithTrace can
// enrich log lines, and so the provider can be swapped for an exporting
// one without touching call sites.
func NewTracerProvider() *trace.TracerProvider {
	return trace.NewTracerProvider()
}

// StartSpan starts a span on the process-wide tracer registered via
// otel.SetTracerProvider, defaulting to a no-op tracer if none was set.
func StartSpan(ctx context.Context, name string) (context.Context, func()) {
	tp := otel.GetTracerProvider()
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	ctx, span := tp.Tracer(tracerName).Start(ctx, name)
	return ctx, func() { span.End() }
}

// NewHTTPClient wraps base's transport with OTel instrumentation.
func NewHTTPClient(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	base.Transport = otelhttp.NewTransport(transport)
	return base
}
