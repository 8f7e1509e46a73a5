package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/kaigo/internal/app"
	"github.com/MrWong99/kaigo/internal/config"
	"github.com/MrWong99/kaigo/internal/observe"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	return cmd
}

func serve(parent context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("kaigo starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.Init(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	application, err := app.New(ctx, cfg, reg,
		app.WithMetrics(tel.Metrics),
		app.WithMetricsHandler(tel.Handler()),
	)
	if err != nil {
		return err
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	if err := application.Run(ctx); err != nil {
		return err
	}
	slog.Info("goodbye")
	return nil
}
