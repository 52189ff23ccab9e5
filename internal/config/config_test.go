package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejectsZeroPoolSize(t *testing.T) {
	cfg := Default()
	cfg.Pool.Size = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero pool size")
	}
}

func TestValidateRequiresSignatureSecretWhenEnabled(t *testing.T) {
	cfg := Default()
	cfg.Signature.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing signature secret")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.yaml")
	body := "pool:\n  size: 7\nloop:\n  interval_ms: 5000\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pool.Size != 7 {
		t.Fatalf("expected pool.size 7, got %d", cfg.Pool.Size)
	}
	if cfg.Loop.IntervalMS != 5000 {
		t.Fatalf("expected loop.interval_ms 5000, got %d", cfg.Loop.IntervalMS)
	}
	// Unset keys should still carry Default()'s values.
	if cfg.Tool.MaxOutputBytes != 1<<20 {
		t.Fatalf("expected default tool.max_output_bytes to survive merge, got %d", cfg.Tool.MaxOutputBytes)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	os.WriteFile(basePath, []byte("pool:\n  size: 9\n"), 0o644)

	mainPath := filepath.Join(dir, "orchestrator.yaml")
	os.WriteFile(mainPath, []byte("$include: base.yaml\nloop:\n  interval_ms: 1000\n"), 0o644)

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pool.Size != 9 {
		t.Fatalf("expected included pool.size 9, got %d", cfg.Pool.Size)
	}
	if cfg.Loop.IntervalMS != 1000 {
		t.Fatalf("expected loop.interval_ms 1000, got %d", cfg.Loop.IntervalMS)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TASKORCH_TEST_TOKEN", "secret-value")
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.yaml")
	os.WriteFile(path, []byte("telegram:\n  bot_token: \"${TASKORCH_TEST_TOKEN}\"\n"), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.BotToken != "secret-value" {
		t.Fatalf("expected expanded env var, got %q", cfg.Telegram.BotToken)
	}
}
