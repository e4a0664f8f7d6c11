package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	tracerName         = "github.com/i-melnichenko/raftlog/internal/app"
	traceExportTimeout = 5 * time.Second
)

// tracingResource describes the log this process serves.
func tracingResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	return resource.New(
		ctx,
		resource.WithFromEnv(),
		resource.WithHost(),
		resource.WithProcessPID(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.TracingServiceName),
			attribute.String("raftlog.name", cfg.Log.Name),
			attribute.String("raftlog.directory", cfg.Log.Directory),
			attribute.String("raftlog.pruning_strategy", cfg.Log.PruningStrategy),
			attribute.Bool("raftlog.compression", cfg.Log.Compression),
		),
	)
}

func (a *App) initTracing(ctx context.Context) (func(context.Context) error, error) {
	if !a.config.TracingEnabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := tracingResource(ctx, a.config)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}
	endpoint := strings.TrimSpace(a.config.TracingEndpoint)
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithTimeout(traceExportTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing exporter %s: %w", endpoint, err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter,
			sdktrace.WithExportTimeout(traceExportTimeout),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	a.logger.Info("exporting raft log spans", "endpoint", endpoint, "log", a.config.Log.Name)

	return func(ctx context.Context) error {
		return errors.Join(tp.ForceFlush(ctx), tp.Shutdown(ctx))
	}, nil
}
