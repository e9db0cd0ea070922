// Package observability wires structured logging, Prometheus metrics and
// OpenTelemetry tracing for the copilot service.
//
// # Logging
//
// NewLogger returns a *slog.Logger whose handler redacts secrets (OpenAI keys,
// bearer tokens, passwords) from messages and attribute values and appends the
// correlation ids stored in the context:
//
//	ctx = observability.WithAccountID(ctx, "42")
//	logger.InfoContext(ctx, "turn completed") // includes account_id=42
//
// # Metrics
//
// Metrics are registered against a caller-supplied prometheus.Registerer so
// tests can use an isolated registry:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordTurn("completed", time.Since(start).Seconds())
//
// # Tracing
//
// NewTracer exports spans over OTLP gRPC when an endpoint is configured and
// falls back to the global no-op tracer otherwise.
package observability
