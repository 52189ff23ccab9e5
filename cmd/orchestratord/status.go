package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func buildStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report pool and queue status",
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

			status := sys.core.Status()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "running: %v\n", status.Running)
			fmt.Fprintf(out, "queue length: %d\n", status.QueueLength)
			fmt.Fprintf(out, "pending approvals: %d\n", status.PendingApprovals)
			for _, w := range status.PoolStatus {
				fmt.Fprintf(out, "worker %d: busy=%v task=%s completed=%d\n", w.ID, w.Busy, w.CurrentTaskID, w.CompletedCount)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML/JSON config file")
	return cmd
}
