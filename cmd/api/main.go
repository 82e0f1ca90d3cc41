package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/api"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/app"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/config"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("FINJI_CONFIG"), "config file (or set FINJI_CONFIG)")
		noWorkers  = flag.Bool("no-workers", false, "queue jobs only; a separate worker process runs them")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		l := logger.New()
		l.Fatal().Err(err).Msg("Failed to load config")
	}
	log := logger.NewWithLevel(cfg.Logger.Level, cfg.Logger.Format)

	ctx := logger.WithContext(context.Background(), log)
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close application")
		}
	}()

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	if *noWorkers {
		log.Info().Msg("Job workers disabled")
	} else if err := a.Queue.Start(workerCtx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewRouter(a.Dispatcher, a.Queue, cfg.Server.CORSOrigins, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().
			Str("addr", cfg.Server.Addr).
			Str("storage", cfg.Storage.Driver).
			Str("ai", cfg.AI.Provider).
			Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// In-flight jobs get the rest of the shutdown budget.
	if !*noWorkers {
		if err := a.Queue.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping job workers")
		}
	}

	log.Info().Msg("Server exited")
}
