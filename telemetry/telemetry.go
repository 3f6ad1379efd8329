package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	evmcommon "github.com/colorfulnotion/evmtests/common"
	"github.com/colorfulnotion/evmtests/log"
)

const instrumentationName = "github.com/colorfulnotion/evmtests"

// Attribute keys shared by the parse and run phases.
const (
	AttrIdentity = attribute.Key("evmtests.identity")
	AttrFile     = attribute.Key("evmtests.file")
	AttrSubGroup = attribute.Key("evmtests.subgroup")
	AttrStatus   = attribute.Key("evmtests.status")
	AttrVariants = attribute.Key("evmtests.variants")
)

// Shutdown flushes and stops the tracer provider.
type Shutdown func(context.Context) error

// Setup installs an OTLP/HTTP tracer provider for endpoint as the global
// provider. An empty endpoint leaves the no-op provider in place.
func Setup(ctx context.Context, service, endpoint string, sampleRatio float64) (Shutdown, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	if sampleRatio < 0 || sampleRatio > 1 {
		return nil, fmt.Errorf("invalid sample ratio: %f", sampleRatio)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid tracing endpoint URL: %w", err)
	}
	var opts []otlptracehttp.Option
	switch u.Scheme {
	case "http", "https":
		opts = append(opts, otlptracehttp.WithEndpoint(u.Host))
		if u.Scheme == "http" {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if u.Path != "" && u.Path != "/" {
			opts = append(opts, otlptracehttp.WithURLPath(u.Path))
		}
	default:
		return nil, fmt.Errorf("unsupported tracing url scheme: %s", u.Scheme)
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", service),
		attribute.String("service.version", evmcommon.GetCommitHash()),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(2*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	log.Info(log.Harness, "OpenTelemetry tracing enabled", "endpoint", endpoint, "ratio", sampleRatio)
	return tp.Shutdown, nil
}

// Tracer returns the package tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Start opens a span named name under ctx.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
