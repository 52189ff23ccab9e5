package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexora-run/taskorch/internal/domain"
	"github.com/nexora-run/taskorch/internal/entitystore"
)

func buildTaskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Create, run, and inspect tasks"}
	cmd.AddCommand(buildTaskCreateCmd(), buildTaskRunCmd(), buildTaskListCmd(), buildTaskCancelCmd())
	return cmd
}

func buildTaskCreateCmd() *cobra.Command {
	var (
		configPath string
		priority   string
		tags       []string
	)
	cmd := &cobra.Command{
		Use:   "create <description>",
		Short: "Record a new pending task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			sys, err := buildSystem(cfg)
			if err != nil {
				return err
			}
			defer sys.close()

			task, err := sys.core.CreateTask(cmd.Context(), args[0], domain.TaskPriority(priority), tags)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), task.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML/JSON config file")
	cmd.Flags().StringVar(&priority, "priority", "", "critical|high|medium|low (default medium)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tags to attach, repeatable")
	return cmd
}

// buildTaskRunCmd dispatches a task immediately and waits (up to
// --timeout) for it to reach a terminal status, since this CLI has no
// separate always-on daemon to hand the task off to unless one is already
// running against the same data directory.
func buildTaskRunCmd() *cobra.Command {
	var (
		configPath string
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run <task_id>",
		Short: "Dispatch a task and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			sys, err := buildSystem(cfg)
			if err != nil {
				return err
			}
			defer sys.close()

			runCtx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			sys.core.Start(runCtx)
			defer sys.core.Stop(nil)

			if err := sys.core.RunTask(runCtx, args[0]); err != nil {
				return err
			}
			return waitForTerminal(runCtx, sys, args[0], cmd)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML/JSON config file")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "how long to wait for the task to finish")
	return cmd
}

func waitForTerminal(ctx context.Context, sys *system, taskID string, cmd *cobra.Command) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for task %s", taskID)
		case <-ticker.C:
			tasks := sys.core.ListTasks(entitystore.Filter{})
			for _, t := range tasks {
				if t.ID != taskID {
					continue
				}
				if t.Status.IsTerminal() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", t.ID, t.Status)
					return nil
				}
			}
		}
	}
}

func buildTaskListCmd() *cobra.Command {
	var (
		configPath string
		status     string
		goalID     string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			sys, err := buildSystem(cfg)
			if err != nil {
				return err
			}
			defer sys.close()

			tasks := sys.core.ListTasks(entitystore.Filter{Status: status, GoalID: goalID})
			for _, t := range tasks {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", t.ID, t.Status, t.Priority, t.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML/JSON config file")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&goalID, "goal", "", "filter by goal id")
	return cmd
}

func buildTaskCancelCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "cancel <task_id>",
		Short: "Cancel a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			sys, err := buildSystem(cfg)
			if err != nil {
				return err
			}
			defer sys.close()
			return sys.core.Cancel(cmd.Context(), args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML/JSON config file")
	return cmd
}
