package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"meridian/internal/api"
	"meridian/internal/config"
	"meridian/internal/engine"
	"meridian/internal/live"
	"meridian/internal/util"
)

func main() {
	cfg, err := config.LoadOrDefault(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	eng, closeStore, err := engine.Open(cfg, logger)
	if err != nil {
		log.Fatalf("failed to open engine: %v", err)
	}
	defer closeStore()

	model := live.NewModel(live.DefaultCapacity)
	eng.Subscribe(model)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("meridian-server starting",
		"host", cfg.Server.Host, "port", cfg.Server.Port, "grpc_port", cfg.Server.GRPCPort)

	srv := api.NewServer(cfg.Server, eng, model, logger)
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("server error", "error", err)
		closeStore()
		log.Fatal(err)
	}
}
