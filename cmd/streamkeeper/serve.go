// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ManuGH/streamkeeper/internal/config"
	"github.com/ManuGH/streamkeeper/internal/daemon"
	xglog "github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/version"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		Long:  "Run the control API, the janitor and the config watcher until SIGINT or SIGTERM. Configuration precedence is ENV > file > defaults.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file (default $STREAMKEEPER_CONFIG)")
	return cmd
}

func resolveConfigPath(flagValue string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	return strings.TrimSpace(config.ParseString(config.EnvPrefix+"CONFIG", ""))
}

func runServe(ctx context.Context, configPath string) error {
	loader := config.NewLoader(configPath, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	xglog.Configure(xglog.Config{
		Level:   cfg.LogLevel,
		Service: "streamkeeper",
		Version: cfg.Version,
	})
	logger := xglog.WithComponent("daemon")
	logger.Info().
		Str(xglog.FieldEvent, "config.loaded").
		Str("config_path", configPath).
		Str("listen", cfg.Server.ListenAddr).
		Str("cache_backend", cfg.Cache.Backend).
		Msg("configuration loaded")

	rt, err := daemon.Build(ctx, cfg, daemon.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	return daemon.NewApp(rt, config.NewHolder(cfg, loader)).Run(ctx)
}
