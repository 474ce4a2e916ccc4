package otel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// EndpointEnv enables OTLP span and metric export when set.
const EndpointEnv = "OTEL_EXPORTER_OTLP_ENDPOINT"

const instrumentationName = "github.com/muskanTaza/Tazapay-VS-Code-Assistant"

// SetupConfig configures the SDK providers.
type SetupConfig struct {
	ServiceName    string
	ServiceVersion string
	// Endpoint overrides OTEL_EXPORTER_OTLP_ENDPOINT. Empty with the
	// variable unset keeps spans and metrics in-process.
	Endpoint string
	// MetricReader, when set, replaces the periodic OTLP metric reader.
	MetricReader sdkmetric.Reader
	// SpanExporter, when set, replaces the OTLP exporter.
	SpanExporter sdktrace.SpanExporter
}

// Providers holds the SDK providers built by Setup.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
}

// Tracer returns the service tracer.
func (p *Providers) Tracer() trace.Tracer {
	return p.TracerProvider.Tracer(instrumentationName)
}

// Meter returns the service meter.
func (p *Providers) Meter() metric.Meter {
	return p.MeterProvider.Meter(instrumentationName)
}

// Shutdown flushes and stops both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return errors.Join(
		p.TracerProvider.Shutdown(ctx),
		p.MeterProvider.Shutdown(ctx),
	)
}

// Setup builds tracer and meter providers for the service.
func Setup(ctx context.Context, cfg SetupConfig) (*Providers, error) {
	if strings.TrimSpace(cfg.ServiceName) == "" {
		cfg.ServiceName = "payassist"
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("otel: build resource: %w", err)
	}

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	exporter := cfg.SpanExporter
	if exporter == nil {
		exporter, err = newOTLPExporter(ctx, cfg.Endpoint)
		if err != nil {
			return nil, err
		}
	}
	if exporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	}

	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	reader := cfg.MetricReader
	if reader == nil {
		reader, err = newOTLPMetricReader(ctx, cfg.Endpoint)
		if err != nil {
			return nil, err
		}
	}
	if reader != nil {
		meterOpts = append(meterOpts, sdkmetric.WithReader(reader))
	}

	return &Providers{
		TracerProvider: sdktrace.NewTracerProvider(traceOpts...),
		MeterProvider:  sdkmetric.NewMeterProvider(meterOpts...),
	}, nil
}

func exportEnabled(endpoint string) bool {
	return endpoint != "" || strings.TrimSpace(os.Getenv(EndpointEnv)) != ""
}

func newOTLPExporter(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	endpoint = strings.TrimSpace(endpoint)
	if !exportEnabled(endpoint) {
		return nil, nil
	}

	var opts []otlptracehttp.Option
	if endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otel: create otlp exporter: %w", err)
	}
	return exporter, nil
}

// newOTLPMetricReader pushes metrics on the SDK's default interval. Shutdown
// flushes whatever is left, so short CLI runs still export.
func newOTLPMetricReader(ctx context.Context, endpoint string) (sdkmetric.Reader, error) {
	endpoint = strings.TrimSpace(endpoint)
	if !exportEnabled(endpoint) {
		return nil, nil
	}

	var opts []otlpmetrichttp.Option
	if endpoint != "" {
		opts = append(opts, otlpmetrichttp.WithEndpointURL(endpoint))
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otel: create otlp metric exporter: %w", err)
	}
	return sdkmetric.NewPeriodicReader(exporter), nil
}
