// Package main is the entry point for the portfolio alert monitor.
// It polls portfolio snapshots on a schedule, turns changes into alerts and
// delivers them over WebSocket, SSE and the HTTP control API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/alertmonitor/internal/config"
	"github.com/aristath/alertmonitor/internal/di"
	"github.com/aristath/alertmonitor/internal/server"
	"github.com/aristath/alertmonitor/pkg/logger"
)

// main orchestrates startup:
// 1. Loads configuration and initializes logging
// 2. Wires all dependencies via DI container (alerts.db, stores, monitor, jobs)
// 3. Restores persisted state and registers the default portfolios
// 4. Starts the HTTP server, the scheduler and, if enabled, monitoring
// 5. Waits for a shutdown signal and stops everything in reverse order
func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting alert monitor")

	container, _, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := container.Monitor.Initialize(initCtx); err != nil {
		log.Error().Err(err).Msg("Failed to restore monitor state, starting empty")
	}
	initCancel()

	srv := server.New(server.Config{
		Log:      log,
		Monitor:  container.Monitor,
		Hub:      container.Hub,
		EventBus: container.EventBus,
		Registry: container.Registry,
		AlertsDB: container.AlertsDB,
		Port:     cfg.Port,
		DevMode:  cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	container.Scheduler.Start()

	if cfg.Monitor.AutoStart {
		if err := container.Monitor.Start(cfg.Monitor.Interval); err != nil {
			log.Error().Err(err).Msg("Failed to start monitoring")
		}
	} else {
		log.Info().Msg("Monitoring autostart disabled, waiting for POST /api/alerts/monitoring/start")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Stop producing alerts before closing the transports they are delivered on
	container.Monitor.Stop()
	container.Scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
