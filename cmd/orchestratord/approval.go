package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexora-run/taskorch/internal/domain"
)

func buildApprovalCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "approval", Short: "List and decide pending approvals"}
	cmd.AddCommand(buildApprovalListCmd(), buildApprovalDecideCmd())
	return cmd
}

func buildApprovalListCmd() *cobra.Command {
	var (
		configPath string
		all        bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List approvals (pending only by default)",
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

			for _, a := range sys.core.ListApprovals(!all) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", a.ID, a.TaskID, a.Level, a.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML/JSON config file")
	cmd.Flags().BoolVar(&all, "all", false, "include already-decided approvals")
	return cmd
}

func buildApprovalDecideCmd() *cobra.Command {
	var (
		configPath string
		reject     bool
		decidedBy  string
	)
	cmd := &cobra.Command{
		Use:   "decide <approval_id>",
		Short: "Approve (default) or reject a pending approval",
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

			decision := domain.DecisionApproved
			if reject {
				decision = domain.DecisionRejected
			}
			approval, err := sys.core.Decide(cmd.Context(), args[0], decision, decidedBy)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", approval.ID, approval.Decision)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML/JSON config file")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject instead of approve")
	cmd.Flags().StringVar(&decidedBy, "by", "cli", "identity recorded as the decider")
	return cmd
}
