package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nodeway/gatewayd/internal/collab"
	"github.com/nodeway/gatewayd/internal/config"
	"github.com/nodeway/gatewayd/internal/gateway"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway, accepting worker-node connections",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if cfg.Auth.Mode != "legacy" && cfg.Auth.Mode != "ed25519" && cfg.Auth.Mode != "dual" {
		slog.Error("invalid auth mode", "mode", cfg.Auth.Mode)
		os.Exit(1)
	}

	g := gateway.New(cfg, collab.NoopMemoryStore{}, collab.NoopManifestProvider{}, collab.NoopIdentityUpstream{})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("gatewayd starting", "port", cfg.Port, "authMode", cfg.Auth.Mode)
	if err := g.Start(ctx); err != nil {
		slog.Error("gateway exited", "error", err)
		os.Exit(1)
	}

	g.Stop(context.Background())
	slog.Info("gatewayd stopped")
}
