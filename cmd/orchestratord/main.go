// Command orchestratord runs the autonomous task orchestrator: the event
// log, entity store, guardrail engine, approval queue, worker pool,
// scheduler, and learning store wired into one process, plus a Telegram
// frontend when configured.
//
// Grounded on cmd/nexus/main.go's buildRootCmd()/subcommand-attachment
// shape, reduced from the teacher's eighteen subcommand groups (channels,
// onboarding, profiles, skills, plugins, service install, mcp, trace, ...)
// to the handful this system actually exposes: serve, task, goal,
// approval, status.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "orchestratord",
		Short:        "Autonomous task orchestrator",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		buildServeCmd(),
		buildTaskCmd(),
		buildGoalCmd(),
		buildApprovalCmd(),
		buildStatusCmd(),
	)
	return rootCmd
}

func resolveConfigPath(path string) string {
	if path == "" {
		if env := os.Getenv("ORCHESTRATORD_CONFIG"); env != "" {
			return env
		}
		return "orchestratord.yaml"
	}
	return path
}
