package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/nexora-run/taskorch/internal/toolregistry"
)

// registerNativeTools adds the small set of built-in tools every worker
// can reach regardless of which plugins (if any) are loaded.
func registerNativeTools(registry *toolregistry.Registry) {
	err := registry.RegisterNative("current_time", "returns the current UTC time in RFC3339", map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}, func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"time": time.Now().UTC().Format(time.RFC3339)}, nil
	})
	if err != nil {
		slog.Error("failed to register built-in tool", "tool", "current_time", "error", err)
	}
}
