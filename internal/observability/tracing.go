package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer creates spans for turns, run polling and tool dispatch.
//
// A nil *Tracer is valid and produces non-recording spans, so components can
// accept an optional tracer without nil checks at every call site.
type Tracer struct {
	tracer trace.Tracer
}

// TraceConfig configures the distributed tracing behavior.
type TraceConfig struct {
	// ServiceName identifies this service in traces.
	ServiceName string `yaml:"service_name"`

	// ServiceVersion identifies the service version.
	ServiceVersion string `yaml:"-"`

	// Environment specifies the deployment environment.
	Environment string `yaml:"-"`

	// Endpoint is the OTLP collector endpoint (e.g., "localhost:4317").
	// If empty, tracing is disabled.
	Endpoint string `yaml:"endpoint"`

	// SamplingRate controls what fraction of traces are recorded (0.0 to 1.0).
	// Defaults to 1.0 if not specified.
	SamplingRate float64 `yaml:"sampling_rate"`

	// Insecure disables TLS for the OTLP connection.
	Insecure bool `yaml:"insecure"`
}

// NewTracer creates a tracer and a shutdown function that flushes pending spans.
//
// If config.Endpoint is empty, or the exporter cannot be built, the global
// no-op tracer is returned.
func NewTracer(config TraceConfig) (*Tracer, func(context.Context) error) {
	if config.ServiceName == "" {
		config.ServiceName = "copilot"
	}
	noop := func(context.Context) error { return nil }

	if config.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer(config.ServiceName)}, noop
	}
	if config.SamplingRate == 0 {
		config.SamplingRate = 1.0
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return &Tracer{tracer: otel.Tracer(config.ServiceName)}, noop
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	}
	if config.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(config.Environment))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case config.SamplingRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SamplingRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{tracer: provider.Tracer(config.ServiceName)}, provider.Shutdown
}

// NewTracerWithProvider wraps a tracer from an existing provider.
func NewTracerWithProvider(provider trace.TracerProvider, name string) *Tracer {
	return &Tracer{tracer: provider.Tracer(name)}
}

// Start creates a span. The caller must call span.End().
func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError records an error on the span and sets the span status to error.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceTurn starts the span covering one conversation turn.
func (t *Tracer) TraceTurn(ctx context.Context, accountID, threadID string) (context.Context, trace.Span) {
	return t.Start(ctx, "assistant.turn",
		attribute.String("account.id", accountID),
		attribute.String("thread.id", threadID),
	)
}

// TraceRunPoll starts the span covering the wait for a run to finish.
func (t *Tracer) TraceRunPoll(ctx context.Context, threadID, runID string) (context.Context, trace.Span) {
	return t.Start(ctx, "assistant.run.poll",
		attribute.String("thread.id", threadID),
		attribute.String("run.id", runID),
	)
}

// TraceToolCall starts the span covering one tool handler.
func (t *Tracer) TraceToolCall(ctx context.Context, toolName, callID string) (context.Context, trace.Span) {
	return t.Start(ctx, "assistant.tool."+toolName,
		attribute.String("tool.name", toolName),
		attribute.String("tool.call_id", callID),
	)
}
