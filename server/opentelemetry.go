package server

import (
	"context"
	"errors"
	"fmt"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"google.golang.org/grpc"
)

type ShutdownFn func(context.Context) error

// setupTelemetry installs the global meter provider, read by reg and served
// on /metrics, and, when otlpEndpoint is set, a tracer provider exporting the
// store and handler spans over OTLP/gRPC. The returned function flushes and
// stops whatever was installed.
func setupTelemetry(ctx context.Context, otlpEndpoint string, reg promclient.Registerer) (ShutdownFn, error) {
	res := telemetryResource(ctx, serviceName)

	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("registering prometheus exporter: %w", err)
	}
	meterProvider := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(exporter))
	otel.SetMeterProvider(meterProvider)
	shutdowns := []ShutdownFn{meterProvider.Shutdown}

	if otlpEndpoint != "" {
		spanExporter, err := newOTLPTraceExporter(ctx, otlpEndpoint)
		if err != nil {
			_ = meterProvider.Shutdown(ctx)
			return nil, err
		}
		tracerProvider := trace.NewTracerProvider(
			trace.WithSampler(trace.TraceIDRatioBased(1)),
			trace.WithResource(res),
			trace.WithBatcher(spanExporter),
		)
		otel.SetTracerProvider(tracerProvider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		shutdowns = append(shutdowns, tracerProvider.Shutdown)
		log.Info().Str("endpoint", otlpEndpoint).Msg("exporting file store traces")
	}

	return func(ctx context.Context) error {
		var errs []error
		for i := len(shutdowns) - 1; i >= 0; i-- {
			errs = append(errs, shutdowns[i](ctx))
		}
		return errors.Join(errs...)
	}, nil
}

func telemetryResource(ctx context.Context, name string) *resource.Resource {
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(semconv.ServiceNameKey.String(name)),
	)
	if err != nil {
		// partial resources are still usable
		log.Warn().Err(err).Msg("file store telemetry resource is incomplete")
	}
	return res
}

func newOTLPTraceExporter(ctx context.Context, endpoint string) (*otlptrace.Exporter, error) {
	client := otlptracegrpc.NewClient(
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithBlock()))
	exp, err := otlptrace.New(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("connecting trace exporter to %s: %w", endpoint, err)
	}
	return exp, nil
}
