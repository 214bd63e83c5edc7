package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"edgefleet.c2/internal/core/logger"
)

const instrumentationName = "edgefleet.c2"

var tracer trace.Tracer

// Init exports spans to the OTLP collector at otlpEndpoint. With no endpoint
// tracing stays a no-op and the returned shutdown does nothing.
func Init(serviceName, otlpEndpoint string) (func(context.Context) error, error) {
	if otlpEndpoint == "" {
		logger.Info("OpenTelemetry tracing disabled (no OTLP endpoint)")
		return func(context.Context) error { return nil }, nil
	}

	ctx := context.Background()

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otlpEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	// Heartbeats are high volume; keep one in ten unless the caller sampled.
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.1))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer = tp.Tracer(instrumentationName)

	logger.Info("OpenTelemetry tracing initialized", "endpoint", otlpEndpoint)

	return tp.Shutdown, nil
}

func Get() trace.Tracer {
	if tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return tracer
}

func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Get().Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartHeartbeatSpan opens the span a heartbeat is reconciled under.
func StartHeartbeatSpan(ctx context.Context, heartbeatID, agentID, deviceID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "c2.ProcessHeartbeat",
		attribute.String("c2.heartbeat_id", heartbeatID),
		attribute.String("c2.agent_id", agentID),
		attribute.String("c2.device_id", deviceID),
	)
}

// RecordStepError marks a failed reconciliation step on the span in ctx.
// The span stays open; one failed step does not end the request.
func RecordStepError(ctx context.Context, step string, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(attribute.String("c2.step", step)))
	span.SetStatus(codes.Error, step+" failed")
}
