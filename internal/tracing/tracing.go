// Package tracing adapts the ambient OpenTelemetry setup of
// SPEC_FULL.md §4.11: tracer initialization plus span helpers wrapping
// Engine.Progress, every Core operation, and every Backend call.
package tracing

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/gridforge/gridforge/internal/gridcfg"
	"github.com/gridforge/gridforge/internal/gridlog"
)

type Config struct {
	ServiceName string
	Environment string
	Version     string
}

var (
	initOnce   sync.Once
	shutdownFn func(context.Context) error
	tracer     trace.Tracer = otel.Tracer("github.com/gridforge/gridforge")
)

// Init wires a TracerProvider exactly once per process. Disabled unless
// OTEL_ENABLED is truthy, matching the teacher's opt-in convention; an
// enabled tracer without OTEL_EXPORTER_OTLP_ENDPOINT set falls back to a
// pretty-printed stdout exporter, same as the teacher does.
func Init(ctx context.Context, log *gridlog.Logger, cfg Config) func(context.Context) error {
	initOnce.Do(func() {
		if !gridcfg.EnvBool("OTEL_ENABLED", false) {
			return
		}
		name := strings.TrimSpace(cfg.ServiceName)
		if name == "" {
			name = "gridforge"
		}
		res, err := resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceNameKey.String(name),
				attribute.String("deployment.environment", cfg.Environment),
				semconv.ServiceVersionKey.String(cfg.Version),
			),
		)
		if err != nil {
			log.Warn("tracing: resource init failed, continuing", "err", err)
		}

		exporter, err := buildExporter(ctx, log)
		if err != nil {
			log.Warn("tracing: exporter init failed, continuing", "err", err)
		}
		ratio := gridcfg.EnvString("OTEL_SAMPLER_RATIO", "0.1")
		sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(parseRatio(ratio)))
		var tp *sdktrace.TracerProvider
		if exporter != nil {
			tp = sdktrace.NewTracerProvider(
				sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
				sdktrace.WithSampler(sampler),
				sdktrace.WithResource(res),
			)
		} else {
			tp = sdktrace.NewTracerProvider(sdktrace.WithSampler(sampler), sdktrace.WithResource(res))
		}
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{},
		))
		tracer = tp.Tracer("github.com/gridforge/gridforge")
		shutdownFn = tp.Shutdown
		log.Info("tracing: initialized", "service", name)
	})
	if shutdownFn == nil {
		return func(context.Context) error { return nil }
	}
	return shutdownFn
}

func buildExporter(ctx context.Context, log *gridlog.Logger) (sdktrace.SpanExporter, error) {
	endpoint := gridcfg.EnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if endpoint != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if gridcfg.EnvBool("OTEL_EXPORTER_OTLP_INSECURE", false) {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}
	log.Warn("tracing: using stdout exporter (no OTLP endpoint configured)")
	return stdouttrace.New(stdouttrace.WithPrettyPrint())
}

func parseRatio(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f > 1 {
		return 0.1
	}
	return f
}

// StartProgress wraps one Engine.Progress sweep (SPEC_FULL §4.11).
func StartProgress(ctx context.Context, engineID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "engine.progress", trace.WithAttributes(attribute.String("engine.id", engineID)))
}

// StartCoreOp wraps one Core method call, tagged with the Task's id and
// the Core operation name (submit/update_state/kill/peek/fetch_output/free).
func StartCoreOp(ctx context.Context, op, taskID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "core."+op, trace.WithAttributes(
		attribute.String("task.id", taskID),
	))
}

// StartBackendCall wraps one Backend method call.
func StartBackendCall(ctx context.Context, backendName, op, taskID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "backend."+op, trace.WithAttributes(
		attribute.String("backend.name", backendName),
		attribute.String("task.id", taskID),
	))
}

// End records err (if any) on span and closes it. Call via defer right
// after a Start* call.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
