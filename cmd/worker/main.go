package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/app"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/config"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("FINJI_CONFIG"), "config file (or set FINJI_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		l := logger.New()
		l.Fatal().Err(err).Msg("Failed to load config")
	}
	log := logger.NewWithLevel(cfg.Logger.Level, cfg.Logger.Format)

	if cfg.Storage.Driver != "sqlite" {
		// The memory job store is private to this process.
		log.Warn().Str("storage", cfg.Storage.Driver).Msg("Worker is not sharing a job store; only jobs queued by this process will run")
	}

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close application")
		}
	}()

	if err := a.Queue.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}
	log.Info().Int("workers", cfg.Jobs.Workers).Msg("Worker service started, waiting for jobs...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := a.Queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker service exited")
}
