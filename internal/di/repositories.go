// Package di provides dependency injection for repository implementations.
package di

import (
	"github.com/aristath/alertmonitor/internal/modules/alerts"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates the repositories backed by the container's databases
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container.AlertsDB == nil {
		return nil
	}

	container.AlertRepo = alerts.NewSQLiteRepository(container.AlertsDB.Conn(), log)

	log.Info().Msg("Repositories initialized")
	return nil
}
