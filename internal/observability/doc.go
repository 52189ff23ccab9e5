// Package observability provides the orchestrator's monitoring surface:
// Prometheus metrics, structured logging built on slog, and OpenTelemetry
// tracing, wired together through context propagation.
//
// # Metrics
//
// NewMetrics builds every collector this process needs and, given a
// non-nil prometheus.Registerer, registers them with it. Each Metrics
// instance is independent, so tests and multiple in-process systems can
// each build their own without colliding on Prometheus's default registry.
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(reg)
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
//
//	start := time.Now()
//	_, err := client.Complete(ctx, req)
//	status := "success"
//	if err != nil {
//	    status = "error"
//	}
//	metrics.RecordLLMRequest("anthropic", "claude-3-opus", status,
//	    time.Since(start).Seconds(), 0, 0)
//
// # Logging
//
// Logger wraps slog with redaction of common secret-shaped values (API
// keys, bearer tokens, passwords) before they reach an output sink, so a
// stray error string containing a credential doesn't end up in logs
// verbatim.
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	logger.Info(ctx, "tool invoked", "tool", name, "caller", callerID)
//
// # Tracing
//
// NewTracer builds an OpenTelemetry tracer. With TraceConfig.Endpoint
// empty it still stamps a trace/span ID onto the context (so event records
// carry one via GetTraceID/GetSpanID) but exports nothing, which is what
// lets the scheduler and event log depend on a tracer unconditionally
// instead of branching on whether tracing is configured.
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "orchestratord",
//	    Endpoint:    cfg.Tracing.Endpoint, // empty disables export, not tracing itself
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, "scheduler.tick")
//	defer span.End()
package observability
