package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/jordanhubbard/guardian/pkg/config"
)

const instrumentationName = "github.com/jordanhubbard/guardian"

// InitTelemetry installs an OTLP-exporting tracer provider as the global
// provider and returns it so callers can flush and shut it down.
func InitTelemetry(ctx context.Context, cfg config.TelemetryConfig, logger *zap.Logger) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", "1.0.0"),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	if logger != nil {
		logger.Info("telemetry initialized", zap.String("endpoint", cfg.OTLPEndpoint))
	}
	return traceProvider, nil
}

// Shutdown flushes and stops a tracer provider with a bounded wait.
func Shutdown(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return tp.Shutdown(shutdownCtx)
}

var (
	instrumentsOnce sync.Once
	skillDelta      metric.Int64Histogram
	learningRuns    metric.Int64Counter
)

func initInstruments() {
	meter := otel.Meter(instrumentationName)

	var err error
	skillDelta, err = meter.Int64Histogram(
		"guardian.skillbook.skill_delta",
		metric.WithDescription("Change in skill count per persisted update"),
	)
	if err != nil {
		otel.Handle(err)
	}

	learningRuns, err = meter.Int64Counter(
		"guardian.learning.runs",
		metric.WithDescription("Learning pipeline runs by entrypoint and result"),
	)
	if err != nil {
		otel.Handle(err)
	}
}

// RecordSkillDelta records the skill-count change of one persisted update.
func RecordSkillDelta(ctx context.Context, delta int) {
	instrumentsOnce.Do(initInstruments)
	if skillDelta != nil {
		skillDelta.Record(ctx, int64(delta))
	}
}

// RecordLearningRun counts one entrypoint run.
func RecordLearningRun(ctx context.Context, entrypoint string, ok bool) {
	instrumentsOnce.Do(initInstruments)
	if learningRuns != nil {
		learningRuns.Add(ctx, 1, metric.WithAttributes(
			attribute.String("entrypoint", entrypoint),
			attribute.Bool("ok", ok),
		))
	}
}
