// Package di provides dependency injection for database connections.
package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/alertmonitor/internal/config"
	"github.com/aristath/alertmonitor/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens alerts.db and applies its schema when persistence is enabled.
// With persistence disabled the container has no database.
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	if !cfg.Monitor.Persistence {
		log.Info().Msg("Alert persistence disabled, history is kept in memory only")
		return container, nil
	}

	// alerts.db - alert history with read/ack flags and the last snapshot per portfolio
	alertsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "alerts.db"),
		Profile: database.ProfileStandard,
		Name:    "alerts",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize alerts database: %w", err)
	}

	if err := alertsDB.Migrate(); err != nil {
		alertsDB.Close()
		return nil, fmt.Errorf("failed to apply schema to %s: %w", alertsDB.Name(), err)
	}
	container.AlertsDB = alertsDB

	log.Info().Str("path", alertsDB.Path()).Msg("Alerts database initialized and schema applied")
	return container, nil
}
