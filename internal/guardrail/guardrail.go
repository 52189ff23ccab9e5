// Package guardrail implements the policy/safety layer that classifies
// every action before it is allowed to run: destructive-pattern matching,
// sensitive-path matching, allow/deny lists, rate limits, resource quotas,
// and a redaction helper shared with the event store.
package guardrail

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/nexora-run/taskorch/internal/domain"
)

// Verdict is the outcome of a Classify call.
type Verdict struct {
	Allow           bool
	Deny            bool
	RequireApproval bool
	Level           domain.ApprovalLevel
	Reason          string
	ResetAt         time.Time // populated when Deny came from a rate limit
}

// Action is everything Classify needs to evaluate a single call.
type Action struct {
	Description string
	ToolName    string
	Args        map[string]any
	TargetPaths []string
	CallerID    string
}

// destructivePattern is one literal or regex rule for C3 policy kind 1.
type destructivePattern struct {
	name string
	re   *regexp.Regexp
}

var defaultDestructivePatterns = []destructivePattern{
	{"recursive_delete", regexp.MustCompile(`rm\s+-rf\s+/`)},
	{"recursive_delete_force", regexp.MustCompile(`rm\s+-[a-z]*r[a-z]*f`)},
	{"destructive_sql", regexp.MustCompile(`(?i)drop\s+table|truncate\s+table|delete\s+from\s+\w+\s*;?\s*$`)},
	{"force_push", regexp.MustCompile(`git\s+push\s+.*--force`)},
	{"fork_bomb", regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\};:`)},
	{"raw_block_device", regexp.MustCompile(`of=/dev/(sd|nvme|xvd)`)},
	{"chmod_777", regexp.MustCompile(`chmod\s+(-R\s+)?777`)},
}

var defaultSensitivePaths = []string{
	"/etc/shadow", "/etc/passwd", "~/.ssh", "~/.aws/credentials",
	"/root/.ssh", ".env", "id_rsa", "id_ed25519",
}

// Config configures policy kinds 1-6 from spec.md §4.3.
type Config struct {
	DestructivePatterns []destructivePattern
	SensitivePaths      []string
	// SensitivePathDecision is either require_approval (default) or deny.
	SensitivePathDeny bool

	AllowedPaths []string
	DeniedPaths  []string

	MaxCallsPerActorPerHour int
	PerToolPerMinute        int

	QuotasEnabled       bool
	MaxBytesWrittenHour int64
	MaxRequestsPerMinute int

	RedactPatterns []*regexp.Regexp
}

// DefaultConfig mirrors spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		DestructivePatterns:     defaultDestructivePatterns,
		SensitivePaths:          defaultSensitivePaths,
		SensitivePathDeny:       false,
		MaxCallsPerActorPerHour: 100,
		PerToolPerMinute:        30,
		QuotasEnabled:           false,
	}
}

// Engine is the Guardrail Engine (C3).
type Engine struct {
	mu     sync.RWMutex
	cfg    Config
	limits *SlidingWindowLimiter
	quotas *QuotaTracker
}

// New builds an Engine from cfg.
func New(cfg Config) *Engine {
	return &Engine{
		cfg:    cfg,
		limits: NewSlidingWindowLimiter(),
		quotas: NewQuotaTracker(cfg.MaxBytesWrittenHour, cfg.MaxRequestsPerMinute),
	}
}

// Reload atomically swaps the policy configuration (read-mostly, reloads
// are atomic swaps per spec.md §5).
func (e *Engine) Reload(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

func (e *Engine) config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Classify is the pure decision function described by spec.md §4.3. The
// most restrictive matching rule always wins; a single call is never
// silently downgraded.
func (e *Engine) Classify(a Action) Verdict {
	cfg := e.config()

	// Policy kind 6: plugin/tool self-extension always requires review.
	if isSelfExtension(a) {
		return Verdict{RequireApproval: true, Level: domain.LevelReview, Reason: "self-extension action"}
	}

	// Policy kind 3: explicit deny list always wins over allow list.
	for _, p := range a.TargetPaths {
		if matchesAny(cfg.DeniedPaths, p) {
			return Verdict{Deny: true, Reason: fmt.Sprintf("path %q is denylisted", p)}
		}
	}
	if len(cfg.AllowedPaths) > 0 {
		for _, p := range a.TargetPaths {
			if !matchesAny(cfg.AllowedPaths, p) {
				return Verdict{Deny: true, Reason: fmt.Sprintf("path %q is not in the allowlist", p)}
			}
		}
	}

	// Policy kind 2: sensitive paths.
	for _, p := range a.TargetPaths {
		if matchesAny(cfg.SensitivePaths, p) {
			if cfg.SensitivePathDeny {
				return Verdict{Deny: true, Reason: fmt.Sprintf("sensitive path %q", p)}
			}
			return Verdict{RequireApproval: true, Level: domain.LevelReview, Reason: fmt.Sprintf("sensitive path %q", p)}
		}
	}

	// Policy kind 1: destructive patterns.
	haystack := a.Description
	if argStr, ok := a.Args["command"].(string); ok {
		haystack += " " + argStr
	}
	patterns := cfg.DestructivePatterns
	if len(patterns) == 0 {
		patterns = defaultDestructivePatterns
	}
	for _, dp := range patterns {
		if dp.re.MatchString(haystack) {
			return Verdict{RequireApproval: true, Level: domain.LevelConfirm, Reason: fmt.Sprintf("matches destructive pattern %q", dp.name)}
		}
	}

	// Policy kind 4: per-actor and per-tool sliding-window rate limits.
	if cfg.MaxCallsPerActorPerHour > 0 && a.CallerID != "" {
		ok, resetAt := e.limits.Allow(a.CallerID, time.Hour, cfg.MaxCallsPerActorPerHour)
		if !ok {
			return Verdict{Deny: true, Reason: "actor rate limit exceeded", ResetAt: resetAt}
		}
	}
	if cfg.PerToolPerMinute > 0 && a.ToolName != "" {
		ok, resetAt := e.limits.Allow("tool:"+a.ToolName, time.Minute, cfg.PerToolPerMinute)
		if !ok {
			return Verdict{Deny: true, Reason: "tool rate limit exceeded", ResetAt: resetAt}
		}
	}

	// Policy kind 5: resource quotas (opt-in).
	if cfg.QuotasEnabled {
		if !e.quotas.AllowRequest(a.ToolName) {
			return Verdict{Deny: true, Reason: "tool request quota exceeded"}
		}
	}

	return Verdict{Allow: true}
}

// RecordBytesWritten feeds the optional quota tracker; callers invoke this
// after a tool call completes with the number of bytes it wrote.
func (e *Engine) RecordBytesWritten(tool string, n int64) {
	if e.config().QuotasEnabled {
		e.quotas.RecordBytes(tool, n)
	}
}

func isSelfExtension(a Action) bool {
	switch a.ToolName {
	case "install_plugin", "replace_tool", "create_tool", "self_extend":
		return true
	}
	return false
}

func matchesAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if p == path {
			return true
		}
		if ok, _ := filepath.Match(p, path); ok {
			return true
		}
		if strings.HasPrefix(path, strings.TrimSuffix(p, "*")) && strings.HasSuffix(p, "*") {
			return true
		}
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}
