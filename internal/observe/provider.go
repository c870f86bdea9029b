package observe

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig describes the telemetry identity and sinks.
type ProviderConfig struct {
	// ServiceName tags all telemetry; empty defaults to "callyx".
	ServiceName string

	// ServiceVersion is stamped onto the resource so dashboards can split
	// metrics by rollout.
	ServiceVersion string

	// TraceExporter receives finished spans. Nil keeps tracing active for
	// correlation IDs without shipping spans anywhere, which is the default
	// deployment shape; wire an OTLP exporter here to get full traces.
	TraceExporter sdktrace.SpanExporter
}

// InitProvider stands up the global OpenTelemetry providers: a meter provider
// that exposes every instrument through the Prometheus registry backing the
// /metrics endpoint, and a tracer provider feeding cfg.TraceExporter when one
// is given.
//
// It must run before anything calls [DefaultMetrics] or creates instruments,
// otherwise those bind to the no-op globals. The returned function flushes
// and stops both providers; defer it from main.
func InitProvider(ctx context.Context, cfg ProviderConfig) (func(context.Context) error, error) {
	res, err := buildResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	mp, err := buildMeterProvider(res)
	if err != nil {
		return nil, fmt.Errorf("observe: meter provider: %w", err)
	}
	tp := buildTracerProvider(res, cfg.TraceExporter)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func buildResource(cfg ProviderConfig) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "callyx"
	}
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(name),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
}

// buildMeterProvider bridges OTel instruments into the default Prometheus
// registry, the same one promhttp serves on /metrics.
func buildMeterProvider(res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exp, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	), nil
}

func buildTracerProvider(res *resource.Resource, exp sdktrace.SpanExporter) *sdktrace.TracerProvider {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exp != nil {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	return sdktrace.NewTracerProvider(opts...)
}
