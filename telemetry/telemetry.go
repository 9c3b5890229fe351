// telemetry/telemetry.go

// Package telemetry sets up the OpenTelemetry trace and metric pipelines.
package telemetry

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/contrib/propagators/b3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Exporters accepted by InitTracerProvider.
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
)

const metricInterval = 10 * time.Second

// Options selects where telemetry goes.
type Options struct {
	ServiceName    string
	ServiceVersion string
	// Exporter is ExporterOTLP or ExporterStdout.
	Exporter string
	// Endpoint is the collector address for OTLP.
	Endpoint string
	// Writer receives spans for ExporterStdout; nil means stdout.
	Writer io.Writer
}

func newResource(ctx context.Context, o Options) (*resource.Resource, error) {
	version := o.ServiceVersion
	if version == "" {
		version = "v1.0.0"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(o.ServiceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	return res, errors.Wrap(err, "failed to create resource")
}

func newSpanExporter(ctx context.Context, o Options) (sdktrace.SpanExporter, error) {
	switch o.Exporter {
	case ExporterOTLP, "":
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(o.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
		return exp, errors.Wrap(err, "failed to create OTLP exporter")
	case ExporterStdout:
		opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
		if o.Writer != nil {
			opts = append(opts, stdouttrace.WithWriter(o.Writer))
		}
		exp, err := stdouttrace.New(opts...)
		return exp, errors.Wrap(err, "failed to create stdout exporter")
	default:
		return nil, errors.Errorf("unknown trace exporter %q", o.Exporter)
	}
}

// InitTracerProvider installs a global tracer provider and a propagator
// that reads and writes both W3C trace context and B3 headers.
func InitTracerProvider(ctx context.Context, o Options) (*sdktrace.TracerProvider, error) {
	exporter, err := newSpanExporter(ctx, o)
	if err != nil {
		return nil, err
	}
	res, err := newResource(ctx, o)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
		b3.New(b3.WithInjectEncoding(b3.B3MultipleHeader)),
	))
	return tp, nil
}

// InitMeterProvider installs a global meter provider pushing to the OTLP
// collector at o.Endpoint.
func InitMeterProvider(ctx context.Context, o Options) (*sdkmetric.MeterProvider, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(o.Endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create OTLP metric exporter")
	}
	res, err := newResource(ctx, o)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(metricInterval))),
	)
	otel.SetMeterProvider(mp)
	return mp, nil
}
