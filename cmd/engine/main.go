package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"scriptfilter/internal/config"
	"scriptfilter/internal/engine"
	"scriptfilter/internal/logging"
)

func main() {
	logging.InitFromEnv()
	log := logging.L()

	cfg, err := config.LoadEngine()
	if err != nil {
		logging.Fatal(log, "config", "err", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := engine.Bootstrap(ctx, cfg)
	if err != nil {
		logging.Fatal(log, "bootstrap", "err", err)
		os.Exit(1)
	}
	log.Info("engine up", "grpc_port", cfg.GRPCPort, "metrics_port", cfg.MetricsPort, "scripts", cfg.ScriptDir())

	if err := e.Run(ctx); err != nil {
		logging.Fatal(log, "engine", "err", err)
		os.Exit(1)
	}
}
