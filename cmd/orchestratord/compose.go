package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nexora-run/taskorch/internal/agentrunner"
	"github.com/nexora-run/taskorch/internal/approval"
	"github.com/nexora-run/taskorch/internal/config"
	"github.com/nexora-run/taskorch/internal/decompose"
	"github.com/nexora-run/taskorch/internal/domain"
	"github.com/nexora-run/taskorch/internal/entitystore"
	"github.com/nexora-run/taskorch/internal/eventlog"
	"github.com/nexora-run/taskorch/internal/guardrail"
	"github.com/nexora-run/taskorch/internal/learning"
	"github.com/nexora-run/taskorch/internal/llm"
	"github.com/nexora-run/taskorch/internal/observability"
	"github.com/nexora-run/taskorch/internal/orchestrator"
	"github.com/nexora-run/taskorch/internal/scheduler"
	"github.com/nexora-run/taskorch/internal/toolregistry"
	"github.com/nexora-run/taskorch/internal/workerpool"
	"github.com/prometheus/client_golang/prometheus"
)

// loadConfig reads configPath, falling back to config.Default() when the
// file doesn't exist yet, so a fresh checkout can run without first hand
// authoring a config file.
func loadConfig(configPath string) (config.Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// system bundles every constructed component plus a close func releasing
// the event log and entity store's file handles.
type system struct {
	core     *orchestrator.Core
	log      *eventlog.Store
	registry *prometheus.Registry
	close    func() error
}

// buildTracer wires OpenTelemetry per cfg.Tracing; with Endpoint unset it
// returns a tracer that still stamps spans on the local trace context
// (so events carry trace/span IDs) but exports nothing.
func buildTracer(cfg config.Config) (*observability.Tracer, func(context.Context) error) {
	endpoint := ""
	if cfg.Tracing.Enabled {
		endpoint = cfg.Tracing.Endpoint
	}
	return observability.NewTracer(observability.TraceConfig{
		ServiceName:    "orchestratord",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       endpoint,
	})
}

// buildSystem wires C1-C10 from cfg. When cfg.LLM.APIKey is empty the
// worker pool's Runner is a stub that fails every task with a clear error
// instead of refusing to start the process — state inspection and
// approval commands still work without a model configured.
func buildSystem(cfg config.Config) (*system, error) {
	slog.SetDefault(slog.New(observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}).Handler()))

	logCfg := eventlog.DefaultConfig(filepath.Join(cfg.Root, "events"))
	log, err := eventlog.Open(logCfg)
	if err != nil {
		return nil, err
	}

	entities, err := entitystore.Open(log, filepath.Join(cfg.Root, "snapshots"), time.Minute)
	if err != nil {
		log.Close()
		return nil, err
	}

	guard := guardrail.New(guardrail.Config{
		AllowedPaths:            cfg.Guardrails.AllowedPaths,
		DeniedPaths:             cfg.Guardrails.DeniedPaths,
		MaxCallsPerActorPerHour: cfg.Guardrails.MaxCallsPerHour,
		PerToolPerMinute:        cfg.RateLimit.PerToolPerMin,
		QuotasEnabled:           cfg.RateLimit.Enabled,
	})
	approvals := approval.New(entities)
	learnCfg := learning.DefaultConfig()
	learnCfg.MinConfidence = cfg.Learning.MinConfidence
	learnings := learning.New(learnCfg, entities)
	learningIndex, err := learning.OpenIndex(filepath.Join(cfg.Root, "learning_index.db"))
	if err != nil {
		entities.Close()
		log.Close()
		return nil, err
	}
	learnings.SetIndex(learningIndex)

	metricsReg := prometheus.NewRegistry()

	metrics := observability.NewMetrics(metricsReg)

	runtime, err := buildPluginRuntime(cfg)
	if err != nil {
		entities.Close()
		log.Close()
		return nil, err
	}

	registry := toolregistry.New(toolregistry.Config{
		MaxOutputBytes:         cfg.Tool.MaxOutputBytes,
		ErrorThreshold:         cfg.Tool.ErrorThreshold,
		ErrorWindow:            cfg.Tool.ErrorWindow(),
		RegressionBaselineSize: cfg.Regression.BaselineSize,
		RegressionWindowSize:   cfg.Regression.WindowSize,
		RegressionLatencyDelta: cfg.Regression.LatencyDelta(),
		RegressionErrorDelta:   cfg.Regression.ErrorRateDelta,
	}, guard, log, &pluginHost{runtime: runtime}, metricsReg)
	registerNativeTools(registry)
	if err := loadPlugins(context.Background(), cfg, registry, runtime); err != nil {
		entities.Close()
		log.Close()
		return nil, err
	}

	runner, chatClient := buildRunner(cfg, registry, metrics)

	pool := workerpool.New(workerpool.Config{
		Workers:     cfg.Pool.Size,
		MaxAttempts: 3,
	}, runner, nil)

	decomposer := decompose.New(chatClient)

	schedCfg := scheduler.DefaultConfig()
	schedCfg.Interval = cfg.Loop.Interval()
	schedCfg.StaleGoalDays = cfg.Triggers.StaleGoalDays
	schedCfg.BlockedTaskHours = cfg.Triggers.BlockedTaskHours
	schedCfg.LearningTopK = cfg.Learning.TopK
	schedCfg.MinConfidence = cfg.Learning.MinConfidence
	sched := scheduler.New(schedCfg, entities, guard, approvals, pool, learnings, log, decomposer)

	tracer, shutdownTracer := buildTracer(cfg)
	sched.SetTracer(tracer)
	sched.SetMetrics(metrics)

	core := orchestrator.New(log, entities, guard, approvals, pool, learnings, sched)

	closeFn := func() error {
		shutdownCtx := context.Background()
		for _, name := range runtime.Loaded() {
			_ = runtime.Unload(shutdownCtx, name)
		}
		shutdownTracer(shutdownCtx)
		learningIndex.Close()
		entities.Close()
		return log.Close()
	}
	return &system{core: core, log: log, registry: metricsReg, close: closeFn}, nil
}

// buildRunner picks a real Anthropic-backed runner when an API key is
// configured, otherwise a stub that fails attempts with a descriptive
// error rather than silently pretending to succeed.
func buildRunner(cfg config.Config, registry *toolregistry.Registry, metrics *observability.Metrics) (workerpool.Runner, llm.ChatClient) {
	newRunner := func(client llm.ChatClient, provider string) *agentrunner.Runner {
		runnerCfg := agentrunner.DefaultConfig()
		runnerCfg.Model = cfg.LLM.Model
		runnerCfg.Provider = provider
		r := agentrunner.New(client, registry, runnerCfg)
		r.SetMetrics(metrics)
		return r
	}

	if cfg.LLM.APIKey == "" {
		client := unconfiguredClient{}
		return newRunner(client, "unconfigured"), client
	}

	clientCfg := llm.DefaultAnthropicConfig(cfg.LLM.APIKey)
	if cfg.LLM.Model != "" {
		clientCfg.DefaultModel = cfg.LLM.Model
	}
	client, err := llm.NewAnthropicClient(clientCfg)
	if err != nil {
		slog.Warn("failed to build LLM client, falling back to an unconfigured stub", "error", err)
		stub := unconfiguredClient{}
		return newRunner(stub, "unconfigured"), stub
	}
	return newRunner(client, "anthropic"), client
}

// unconfiguredClient implements llm.ChatClient, always failing, so a
// system with no API key reports a clear cause instead of crashing at
// startup or hanging workers.
type unconfiguredClient struct{}

func (unconfiguredClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	return llm.Response{}, domain.New(domain.KindStorageUnavailable, "no LLM provider configured (set llm.api_key)")
}
