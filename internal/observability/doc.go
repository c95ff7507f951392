// Package observability provides monitoring and debugging capabilities
// for the turn orchestration core through metrics, structured logging,
// and distributed tracing.
//
// # Overview
//
// The package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed request tracing with OpenTelemetry
//
// # Metrics
//
// Metrics are implemented using Prometheus client libraries and track:
//   - Turn throughput and terminal status
//   - Per-stage latency across the graph
//   - LLM API request latency and token usage
//   - Tool execution performance and tool-loop rounds
//   - Error rates by component and kind
//   - Event-stream volume and overflow drops
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//	metrics.TurnStarted()
//	defer metrics.TurnEnded("ok", time.Since(start).Seconds())
//
// # Logging
//
// Logging is built on log/slog with automatic redaction of API keys,
// tokens, and passwords, plus turn/stage correlation pulled from the
// context:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	ctx = observability.AddTurnID(ctx, turnID)
//	logger.Info(ctx, "stage committed", "stage", "answer")
//
// # Tracing
//
// Tracing uses OpenTelemetry with an OTLP gRPC exporter. A turn is a
// root span; each stage, LLM call, tool execution, and durable file
// write nests under it:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "thalamus",
//	    Endpoint:    os.Getenv("OTEL_ENDPOINT"),
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceTurn(ctx, turnID, route)
//	defer span.End()
//
// When no OTLP endpoint is configured the tracer is a no-op, so call
// sites never need to branch on whether tracing is enabled.
package observability
