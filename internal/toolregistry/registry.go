// Package toolregistry implements the C6 Tool Registry: the union of
// native (bundled) tools and plugin-exported tools, with schema
// validation, rate limiting, regression detection, and signed-bytes
// rollback.
//
// Grounded on internal/plugins/plugin.go's Registry (mutex-protected name
// map, Register/List/Tool accessor shape), generalized to dispatch either
// to a native Go function or to a sandboxed plugin worker.
package toolregistry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nexora-run/taskorch/internal/domain"
	"github.com/nexora-run/taskorch/internal/eventlog"
	"github.com/nexora-run/taskorch/internal/guardrail"
)

// NativeFunc is a built-in tool implementation.
type NativeFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// PluginDispatcher resolves a tool name to the plugin worker that exports
// it, used to route plugin-backed tool calls into C5.
type PluginDispatcher interface {
	CallPluginTool(ctx context.Context, pluginName, toolName string, args map[string]any) (map[string]any, error)
}

type registeredTool struct {
	def        domain.Tool
	schema     *jsonschema.Schema
	native     NativeFunc
	pluginName string
	stats      toolStats
}

// Registry is the Tool Registry (C6).
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registeredTool

	guard      *guardrail.Engine
	log        *eventlog.Store
	dispatcher PluginDispatcher

	maxOutputBytes int
	errorThreshold int
	errorWindow    time.Duration

	regressionBaselineSize int
	regressionWindowSize   int
	regressionLatencyDelta time.Duration
	regressionErrorDelta   float64

	// signedBytes holds the last-known-good entry bytes for a
	// self-extended tool, keyed by tool name, so regression/error-count
	// rollback has something to revert to.
	signedBytes map[string][]byte

	invocations *prometheus.CounterVec
	latencies   *prometheus.HistogramVec
	regressions *prometheus.CounterVec
}

// Config configures registry-wide limits from spec.md §6.
type Config struct {
	MaxOutputBytes         int
	ErrorThreshold         int
	ErrorWindow            time.Duration
	RegressionBaselineSize int
	RegressionWindowSize   int
	RegressionLatencyDelta time.Duration
	RegressionErrorDelta   float64
}

// DefaultConfig mirrors spec.md §6's tool.* and regression.* defaults.
func DefaultConfig() Config {
	return Config{
		MaxOutputBytes:         1 << 20,
		ErrorThreshold:         3,
		ErrorWindow:            5 * time.Minute,
		RegressionBaselineSize: 20,
		RegressionWindowSize:   10,
		RegressionLatencyDelta: 50 * time.Millisecond,
		RegressionErrorDelta:   0.05,
	}
}

// New builds a Registry. metricsRegisterer may be nil to skip Prometheus
// registration (e.g. in unit tests that build multiple registries).
func New(cfg Config, guard *guardrail.Engine, log *eventlog.Store, dispatcher PluginDispatcher, metricsRegisterer prometheus.Registerer) *Registry {
	r := &Registry{
		tools:                  make(map[string]*registeredTool),
		guard:                  guard,
		log:                    log,
		dispatcher:             dispatcher,
		maxOutputBytes:         cfg.MaxOutputBytes,
		errorThreshold:         cfg.ErrorThreshold,
		errorWindow:            cfg.ErrorWindow,
		regressionBaselineSize: cfg.RegressionBaselineSize,
		regressionWindowSize:   cfg.RegressionWindowSize,
		regressionLatencyDelta: cfg.RegressionLatencyDelta,
		regressionErrorDelta:   cfg.RegressionErrorDelta,
		signedBytes:            make(map[string][]byte),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskorch_tool_invocations_total",
			Help: "Tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		latencies: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskorch_tool_latency_seconds",
			Help:    "Tool invocation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		regressions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskorch_tool_regressions_total",
			Help: "Detected tool performance regressions.",
		}, []string{"tool"}),
	}
	if metricsRegisterer != nil {
		metricsRegisterer.MustRegister(r.invocations, r.latencies, r.regressions)
	}
	return r
}

// RegisterNative adds a built-in tool with an inline JSON-schema for its
// arguments.
func (r *Registry) RegisterNative(name, description string, schemaJSON map[string]any, fn NativeFunc) error {
	compiled, err := compileSchema(schemaJSON)
	if err != nil {
		return domain.Wrap(domain.KindSchemaInvalid, err, "compile schema for %s", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = &registeredTool{
		def:    domain.Tool{Name: name, Description: description, Schema: schemaJSON, Allowed: true},
		schema: compiled,
		native: fn,
	}
	return nil
}

// RegisterPlugin adds a plugin-exported tool, dispatched via dispatcher.
func (r *Registry) RegisterPlugin(pluginName, toolName, description string, schemaJSON map[string]any) error {
	compiled, err := compileSchema(schemaJSON)
	if err != nil {
		return domain.Wrap(domain.KindSchemaInvalid, err, "compile schema for %s", toolName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[toolName] = &registeredTool{
		def:        domain.Tool{Name: toolName, Description: description, Schema: schemaJSON, Allowed: true, PluginName: pluginName},
		schema:     compiled,
		pluginName: pluginName,
	}
	return nil
}

func compileSchema(schemaJSON map[string]any) (*jsonschema.Schema, error) {
	if schemaJSON == nil {
		schemaJSON = map[string]any{}
	}
	raw, err := json.Marshal(schemaJSON)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", mustJSONValue(raw)); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}

func mustJSONValue(raw []byte) any {
	var v any
	_ = json.Unmarshal(raw, &v)
	return v
}

// List returns the definitions of every registered tool.
func (r *Registry) List() []domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.def)
	}
	return out
}

// CallerContext identifies who is invoking a tool, for guardrail
// classification and rate limiting.
type CallerContext struct {
	CallerID string
	TraceID  string
	ConvID   string
}

// Invoke runs the five-step contract from spec.md §4.6: classify, validate,
// rate-limit (folded into Classify's policy kind 4), dispatch, record,
// update metrics.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any, caller CallerContext) (map[string]any, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.New(domain.KindSchemaInvalid, "unknown tool %q", name)
	}

	verdict := r.guard.Classify(guardrail.Action{
		Description: "invoke tool " + name,
		ToolName:    name,
		Args:        args,
		CallerID:    caller.CallerID,
	})
	if verdict.Deny {
		r.recordEvent(ctx, caller, "tool_denied", name, nil, verdict.Reason)
		if verdict.ResetAt.IsZero() {
			return nil, domain.New(domain.KindGuardrailDenied, "%s", verdict.Reason)
		}
		return nil, &domain.Error{Kind: domain.KindRateLimited, Message: verdict.Reason, ResetAt: verdict.ResetAt}
	}
	if verdict.RequireApproval {
		return nil, domain.New(domain.KindApprovalRequired, "%s", verdict.Reason)
	}

	if err := r.validateArgs(t, args); err != nil {
		r.recordEvent(ctx, caller, "tool_denied", name, nil, err.Error())
		return nil, err
	}

	start := time.Now()
	r.recordEvent(ctx, caller, "tool_start", name, args, "")

	var result map[string]any
	var callErr error
	if t.native != nil {
		result, callErr = t.native(ctx, args)
	} else if t.pluginName != "" && r.dispatcher != nil {
		result, callErr = r.dispatcher.CallPluginTool(ctx, t.pluginName, name, args)
	} else {
		callErr = domain.New(domain.KindSchemaInvalid, "tool %q has no dispatch target", name)
	}
	elapsed := time.Since(start)

	r.latencies.WithLabelValues(name).Observe(elapsed.Seconds())
	r.recordMetrics(t, elapsed, callErr)

	if callErr != nil {
		r.invocations.WithLabelValues(name, "error").Inc()
		r.recordEvent(ctx, caller, "tool_finish", name, map[string]any{"error": callErr.Error()}, "")
		r.noteError(ctx, name, t)
		return nil, callErr
	}

	r.invocations.WithLabelValues(name, "ok").Inc()
	result = r.applyOutputCap(result)
	r.recordEvent(ctx, caller, "tool_finish", name, result, "")
	r.checkRegression(ctx, name, t)
	return result, nil
}

func (r *Registry) validateArgs(t *registeredTool, args map[string]any) error {
	if t.schema == nil {
		return nil
	}
	if err := t.schema.Validate(args); err != nil {
		return domain.Wrap(domain.KindSchemaInvalid, err, "arguments failed schema validation")
	}
	return nil
}

func (r *Registry) applyOutputCap(result map[string]any) map[string]any {
	if r.maxOutputBytes <= 0 || result == nil {
		return result
	}
	raw, err := json.Marshal(result)
	if err != nil || len(raw) <= r.maxOutputBytes {
		return result
	}
	return map[string]any{
		"truncated":     true,
		"original_size": len(raw),
		"preview":       string(raw[:r.maxOutputBytes]) + "... [truncated]",
	}
}

func (r *Registry) recordEvent(ctx context.Context, caller CallerContext, act, tool string, payload map[string]any, reason string) {
	if r.log == nil {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["tool"] = tool
	if reason != "" {
		payload["reason"] = reason
	}
	r.log.Append(ctx, domain.Event{
		Actor:   domain.ActorSystem,
		Act:     act,
		TraceID: caller.TraceID,
		ConvID:  caller.ConvID,
		Payload: r.guard.RedactPayload(payload),
	})
}
