package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mimir-aip/mimir-insight/pkg/api"
	"github.com/mimir-aip/mimir-insight/pkg/app"
	"github.com/mimir-aip/mimir-insight/pkg/config"
	"github.com/mimir-aip/mimir-insight/pkg/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.GetLogger().Fatal("Failed to load config", err)
	}

	logger := logging.InitLogger(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Starting Mimir Insight server",
		logging.String("environment", cfg.Environment),
		logging.Component("server"))

	application, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize services", err)
	}
	defer application.Close()

	if cfg.Janitor.Enabled {
		application.Janitor.Start()
	}

	server := api.NewServer(cfg.Server, cfg.Ingest.MaxUploadBytes, api.Services{
		Store:    application.Store,
		Ingest:   application.Ingest,
		Registry: application.Registry,
		Query:    application.Query,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Shutting down server", logging.String("signal", sig.String()), logging.Component("server"))
	case err := <-errCh:
		if err != nil {
			logger.Error("API server stopped", err, logging.Component("server"))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP server forced to shutdown", err, logging.Component("server"))
	}

	logger.Info("Server exited", logging.Component("server"))
}
