package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/nexora-run/taskorch/internal/frontend/telegram"
)

// buildServeCmd creates the "serve" command: the long-running process that
// starts the worker pool, the scheduler tick loop, an optional Telegram
// frontend, and a metrics endpoint.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator's worker pool and scheduler loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), metricsAddr)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML/JSON config file")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on")
	return cmd
}

func runServe(ctx context.Context, configPath, metricsAddr string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sys, err := buildSystem(cfg)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}
	defer sys.close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sys.core.Start(ctx)
	slog.Info("orchestrator started", "pool_size", cfg.Pool.Size, "loop_interval", cfg.Loop.Interval())

	metricsSrv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(sys.registry, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Warn("metrics server stopped", "error", err)
		}
	}()

	var bridge *telegram.Bridge
	if cfg.Telegram.BotToken != "" {
		bridge, err = telegram.New(telegram.Config{
			BotToken:     cfg.Telegram.BotToken,
			AllowedChats: cfg.Telegram.AllowedChats,
		}, sys.core)
		if err != nil {
			slog.Error("failed to start telegram frontend", "error", err)
		} else {
			go bridge.Start(ctx)
			slog.Info("telegram frontend started")
		}
	}

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	sys.core.Stop(nil)
	slog.Info("orchestrator stopped")
	return nil
}
