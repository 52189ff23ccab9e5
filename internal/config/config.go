// Package config loads the orchestrator's single YAML configuration file
// into a typed Config struct covering every key spec.md §6 documents, with
// defaults matching each component's own DefaultConfig().
//
// Grounded on internal/config/config.go + internal/config/loader.go's
// single-struct-plus-loader idiom (gopkg.in/yaml.v3, $include merging,
// environment variable expansion), generalized off the teacher's gateway/
// channel/session vocabulary onto loop/pool/tool/sandbox/guardrail/trigger
// vocabulary.
package config

import (
	"time"

	"github.com/nexora-run/taskorch/internal/domain"
)

// Config is the orchestrator's complete runtime configuration.
type Config struct {
	Root       string           `yaml:"root"`
	Loop       LoopConfig       `yaml:"loop"`
	Pool       PoolConfig       `yaml:"pool"`
	Tool       ToolConfig       `yaml:"tool"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	Guardrails GuardrailsConfig `yaml:"guardrails"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Regression RegressionConfig `yaml:"regression"`
	Learning   LearningConfig   `yaml:"learning"`
	Triggers   TriggersConfig   `yaml:"triggers"`
	Signature  SignatureConfig  `yaml:"signature"`
	LLM        LLMConfig        `yaml:"llm"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Plugins    PluginsConfig    `yaml:"plugins"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type LoopConfig struct {
	IntervalMS int `yaml:"interval_ms"`
}

type PoolConfig struct {
	Size int `yaml:"size"`
}

type ToolConfig struct {
	TimeoutMS     int `yaml:"timeout_ms"`
	MaxRetries    int `yaml:"max_retries"`
	MaxOutputBytes int `yaml:"max_output_bytes"`
	ErrorThreshold int `yaml:"error_threshold"`
	ErrorWindowMS int `yaml:"error_window_ms"`
}

type SandboxConfig struct {
	LoadTimeoutMS int `yaml:"load_timeout_ms"`
	CallTimeoutMS int `yaml:"call_timeout_ms"`
	MaxMemoryMiB  int `yaml:"max_memory_mib"`
}

type GuardrailsConfig struct {
	AllowedPaths     []string `yaml:"allowed_paths"`
	DeniedPaths      []string `yaml:"denied_paths"`
	DeniedCommands   []string `yaml:"denied_commands"`
	MaxCallsPerHour  int      `yaml:"max_calls_per_hour"`
}

type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	PerToolPerMin  int  `yaml:"per_tool_per_min"`
}

type RegressionConfig struct {
	BaselineSize    int     `yaml:"baseline_size"`
	WindowSize      int     `yaml:"window_size"`
	LatencyDeltaMS  int     `yaml:"latency_delta_ms"`
	ErrorRateDelta  float64 `yaml:"error_rate_delta"`
}

type LearningConfig struct {
	MinConfidence float64 `yaml:"min_confidence"`
	TopK          int     `yaml:"top_k"`
}

type TriggersConfig struct {
	StaleGoalDays    int `yaml:"stale_goal_days"`
	BlockedTaskHours int `yaml:"blocked_task_hours"`
}

type SignatureConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`
}

type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
}

type TelegramConfig struct {
	BotToken     string   `yaml:"bot_token"`
	AllowedChats []string `yaml:"allowed_chats"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Environment string `yaml:"environment"`
}

// PluginsConfig lists on-disk plugin directories to discover at startup.
// A plugin is only loaded into the sandbox runtime if its manifest's
// signature verifies (internal/marketplace) and its name+version has a
// recorded approval (internal/plugins.ApprovalStore, signed with
// Signature.Secret). Leave Paths empty to run with no sandboxed plugins.
type PluginsConfig struct {
	Paths []string `yaml:"paths"`
}

// LoggingConfig configures the process-wide structured logger
// (internal/observability.Logger) installed as slog's default, so every
// package's ordinary slog.Default() calls get JSON output, level filtering,
// and secret redaction without depending on internal/observability directly.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config whose values match the defaults each component
// package already applies on its own (DefaultConfig()); loading a file only
// needs to override what differs.
func Default() Config {
	return Config{
		Root: "./data",
		Loop: LoopConfig{IntervalMS: 10000},
		Pool: PoolConfig{Size: 3},
		Tool: ToolConfig{
			TimeoutMS:      30000,
			MaxRetries:     0,
			MaxOutputBytes: 1 << 20,
			ErrorThreshold: 3,
			ErrorWindowMS:  300000,
		},
		Sandbox: SandboxConfig{
			LoadTimeoutMS: 5000,
			CallTimeoutMS: 5000,
			MaxMemoryMiB:  64,
		},
		Guardrails: GuardrailsConfig{
			MaxCallsPerHour: 100,
		},
		RateLimit: RateLimitConfig{
			Enabled:       false,
			PerToolPerMin: 30,
		},
		Regression: RegressionConfig{
			BaselineSize:   20,
			WindowSize:     10,
			LatencyDeltaMS: 50,
			ErrorRateDelta: 0.05,
		},
		Learning: LearningConfig{
			MinConfidence: 0.6,
			TopK:          5,
		},
		Triggers: TriggersConfig{
			StaleGoalDays:    3,
			BlockedTaskHours: 24,
		},
		Signature: SignatureConfig{Enabled: false},
		LLM:       LLMConfig{Provider: "anthropic"},
		Tracing:   TracingConfig{Enabled: false, Environment: "development"},
		Plugins:   PluginsConfig{},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
	}
}

// Validate rejects configuration combinations the rest of the system
// cannot act on, returning a domain error so callers report it with the
// same vocabulary as every other component.
func (c Config) Validate() error {
	if c.Pool.Size <= 0 {
		return domain.New(domain.KindSchemaInvalid, "pool.size must be positive, got %d", c.Pool.Size)
	}
	if c.Loop.IntervalMS <= 0 {
		return domain.New(domain.KindSchemaInvalid, "loop.interval_ms must be positive, got %d", c.Loop.IntervalMS)
	}
	if c.Signature.Enabled && c.Signature.Secret == "" {
		return domain.New(domain.KindSchemaInvalid, "signature.secret is required when signature.enabled is true")
	}
	if c.Learning.MinConfidence < 0 || c.Learning.MinConfidence > 1 {
		return domain.New(domain.KindSchemaInvalid, "learning.min_confidence must be in [0,1], got %v", c.Learning.MinConfidence)
	}
	return nil
}

func (c LoopConfig) Interval() time.Duration { return time.Duration(c.IntervalMS) * time.Millisecond }
func (c ToolConfig) Timeout() time.Duration  { return time.Duration(c.TimeoutMS) * time.Millisecond }
func (c ToolConfig) ErrorWindow() time.Duration {
	return time.Duration(c.ErrorWindowMS) * time.Millisecond
}
func (c SandboxConfig) LoadTimeout() time.Duration {
	return time.Duration(c.LoadTimeoutMS) * time.Millisecond
}
func (c SandboxConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMS) * time.Millisecond
}
func (c RegressionConfig) LatencyDelta() time.Duration {
	return time.Duration(c.LatencyDeltaMS) * time.Millisecond
}
