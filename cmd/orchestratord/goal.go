package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func buildGoalCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "goal", Short: "Create, activate, and list goals"}
	cmd.AddCommand(buildGoalCreateCmd(), buildGoalActivateCmd(), buildGoalListCmd())
	return cmd
}

func buildGoalCreateCmd() *cobra.Command {
	var (
		configPath string
		criteria   string
	)
	cmd := &cobra.Command{
		Use:   "create <description>",
		Short: "Record a new draft goal",
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

			goal, err := sys.core.CreateGoal(cmd.Context(), args[0], criteria)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), goal.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML/JSON config file")
	cmd.Flags().StringVar(&criteria, "success-criteria", "", "what counts as done")
	return cmd
}

func buildGoalActivateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "activate <goal_id>",
		Short: "Decompose a goal into tasks and mark it active",
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
			return sys.core.ActivateGoal(cmd.Context(), args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML/JSON config file")
	return cmd
}

func buildGoalListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List goals",
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

			for _, g := range sys.core.ListGoals() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", g.ID, g.Status, g.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML/JSON config file")
	return cmd
}
