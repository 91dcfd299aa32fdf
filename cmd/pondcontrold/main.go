package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"pondcontrol/internal/cache"
	"pondcontrol/internal/clock"
	"pondcontrol/internal/config"
	"pondcontrol/internal/dispatch"
	"pondcontrol/internal/pending"
	"pondcontrol/internal/remote"
	"pondcontrol/internal/scheduler"
	"pondcontrol/internal/storage"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	cfg, err := config.Load("configs")
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Starting pond controller",
		zap.String("pond", cfg.PondID),
		zap.String("remote", cfg.RemoteURL),
		zap.Duration("interval", cfg.EvalInterval))

	db, err := storage.OpenSQLite(cfg.DBPath)
	if err != nil {
		logger.Fatal("Failed to open local database", zap.Error(err))
	}
	defer db.Close()

	client := remote.NewClient(cfg.RemoteURL, cfg.RemoteToken, logger)
	if err := client.Connect(); err != nil {
		// Offline start is a supported state: cached devices and queued
		// commands carry the session until the link comes up.
		logger.Warn("Remote store unreachable, starting offline", zap.Error(err))
	}
	defer client.Disconnect()

	deviceCache := cache.NewDeviceCache(db, cfg.PondID, logger)
	queue := pending.NewQueue(db, cfg.PondID, logger)
	dispatcher := dispatch.NewDispatcher(client, client, deviceCache, queue, cfg.PondID, logger)

	autoMode, err := config.NewRemoteAutoMode(client, cfg.PondID, logger)
	if err != nil {
		logger.Fatal("Failed to watch auto-mode setting", zap.Error(err))
	}
	defer autoMode.Close()

	controller := scheduler.NewController(
		client, client, deviceCache, dispatcher,
		autoMode, clock.NewRealClock(), cfg.EvalInterval,
		cfg.PondID, logger,
	)
	if err := controller.Start(); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down")
	controller.Stop()
}
