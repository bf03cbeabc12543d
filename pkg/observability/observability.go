// Package observability wires OpenTelemetry tracing and metrics for the
// automation engine. A single Provider owns the exporters and exposes the
// handful of instruments the run pipeline records against.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls how telemetry is exported.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns settings suitable for local development.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "autoflow",
		ServiceVersion: "dev",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        false,
		Insecure:       true,
	}
}

// Provider owns the tracer and meter providers plus the engine's core
// instruments. When telemetry is disabled every method is a no-op backed by
// the otel noop implementations.
type Provider struct {
	cfg            Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	runsTotal        metric.Int64Counter
	stepsTotal       metric.Int64Counter
	errorsTotal      metric.Int64Counter
	repairsTotal     metric.Int64Counter
	runDuration      metric.Float64Histogram
	operationsActive metric.Int64UpDownCounter
}

// NewProvider builds a Provider and, if enabled, connects the OTLP exporters.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{
		cfg:    cfg,
		logger: slog.Default().With("component", "observability"),
	}

	if !cfg.Enabled {
		p.tracer = otel.Tracer(cfg.ServiceName)
		p.meter = otel.Meter(cfg.ServiceName)
		if err := p.initInstruments(); err != nil {
			return nil, err
		}
		return p, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, err
	}
	if err := p.initMeterProvider(ctx, res); err != nil {
		return nil, err
	}

	p.tracer = p.tracerProvider.Tracer(cfg.ServiceName)
	p.meter = p.meterProvider.Meter(cfg.ServiceName)
	if err := p.initInstruments(); err != nil {
		return nil, err
	}

	p.logger.Info("telemetry enabled", "endpoint", cfg.OTLPEndpoint, "sample_rate", cfg.SampleRate)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.cfg.OTLPEndpoint)}
	if p.cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if p.cfg.SampleRate < 1.0 {
		sampler = sdktrace.TraceIDRatioBased(p.cfg.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
		sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(p.cfg.BatchTimeout)),
	)
	otel.SetTracerProvider(p.tracerProvider)
	return nil
}

func (p *Provider) initMeterProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.cfg.OTLPEndpoint)}
	if p.cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments() error {
	var err error
	if p.runsTotal, err = p.meter.Int64Counter("autoflow.runs.total",
		metric.WithDescription("Workflow runs started")); err != nil {
		return err
	}
	if p.stepsTotal, err = p.meter.Int64Counter("autoflow.steps.total",
		metric.WithDescription("Replay steps executed, by status")); err != nil {
		return err
	}
	if p.errorsTotal, err = p.meter.Int64Counter("autoflow.errors.total",
		metric.WithDescription("Errors by operation")); err != nil {
		return err
	}
	if p.repairsTotal, err = p.meter.Int64Counter("autoflow.repairs.total",
		metric.WithDescription("Selector repairs applied during replay")); err != nil {
		return err
	}
	if p.runDuration, err = p.meter.Float64Histogram("autoflow.run.duration",
		metric.WithDescription("Run duration in seconds"),
		metric.WithUnit("s")); err != nil {
		return err
	}
	if p.operationsActive, err = p.meter.Int64UpDownCounter("autoflow.operations.active",
		metric.WithDescription("Operations currently in flight")); err != nil {
		return err
	}
	return nil
}

// Shutdown flushes and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	var firstErr error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Tracer returns the service tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// StartSpan starts a span under the service tracer.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, opts...)
}

// RecordRun counts a finished run and its duration.
func (p *Provider) RecordRun(ctx context.Context, workflowID, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("workflow_id", workflowID),
		attribute.String("status", status),
	)
	p.runsTotal.Add(ctx, 1, attrs)
	p.runDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordStep counts one replay step by terminal status.
func (p *Provider) RecordStep(ctx context.Context, actionType, status string) {
	p.stepsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action_type", actionType),
		attribute.String("status", status),
	))
}

// RecordRepair counts a selector repair by strategy.
func (p *Provider) RecordRepair(ctx context.Context, strategy string) {
	p.repairsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strategy)))
}

// RecordError counts an error for the named operation.
func (p *Provider) RecordError(ctx context.Context, operation string) {
	p.errorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// TrackOperation opens a span for the operation and returns a finish func
// that closes it and records the outcome.
func (p *Provider) TrackOperation(ctx context.Context, operation string) (context.Context, func(error)) {
	ctx, span := p.tracer.Start(ctx, operation)
	p.operationsActive.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
	start := time.Now()

	return ctx, func(err error) {
		p.operationsActive.Add(ctx, -1, metric.WithAttributes(attribute.String("operation", operation)))
		if err != nil {
			span.RecordError(err)
			p.RecordError(ctx, operation)
		}
		p.runDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("operation", operation)))
		span.End()
	}
}
