// Package di provides dependency injection for background job registration.
package di

import (
	"fmt"

	"github.com/aristath/alertmonitor/internal/config"
	"github.com/aristath/alertmonitor/internal/modules/alerts"
	"github.com/aristath/alertmonitor/internal/reliability"
	"github.com/aristath/alertmonitor/internal/scheduler"
	"github.com/rs/zerolog"
)

// Job schedules (seconds field first, as the scheduler runs with seconds precision)
const (
	dedupCleanupSchedule     = "0 0 * * * *" // hourly
	dailyMaintenanceSchedule = "0 0 2 * * *" // 02:00
	weeklyVacuumSchedule     = "0 0 3 * * 0" // Sunday 03:00
)

// RegisterJobs creates the background jobs and registers them on the container's scheduler.
// The monitor tick itself is added by Monitor.Start.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	jobs := &JobInstances{}

	jobs.DedupCleanup = alerts.NewDedupCleanupJob(container.Dedup, log)
	if err := container.Scheduler.AddJob(dedupCleanupSchedule, jobs.DedupCleanup); err != nil {
		return nil, fmt.Errorf("failed to register dedup cleanup job: %w", err)
	}

	if container.AlertsDB != nil {
		jobs.DailyMaintenance = reliability.NewDailyMaintenanceJob(container.AlertsDB, log)
		if err := container.Scheduler.AddJob(dailyMaintenanceSchedule, jobs.DailyMaintenance); err != nil {
			return nil, fmt.Errorf("failed to register daily maintenance job: %w", err)
		}

		jobs.WeeklyVacuum = reliability.NewWeeklyVacuumJob(container.AlertsDB, log)
		if err := container.Scheduler.AddJob(weeklyVacuumSchedule, jobs.WeeklyVacuum); err != nil {
			return nil, fmt.Errorf("failed to register weekly vacuum job: %w", err)
		}
	}

	if container.ObjectStore != nil {
		jobs.HistoryArchive = reliability.NewHistoryArchiveJob(
			container.ObjectStore,
			container.History,
			cfg.Archive.Prefix,
			cfg.Archive.RetentionDays,
			log,
		)
		if err := container.Scheduler.AddJob(cfg.Archive.Schedule, jobs.HistoryArchive); err != nil {
			return nil, fmt.Errorf("failed to register history archive job: %w", err)
		}
	}

	log.Info().Msg("Background jobs registered")
	return jobs, nil
}

// ensure the jobs satisfy the scheduler contract
var (
	_ scheduler.Job = (*alerts.DedupCleanupJob)(nil)
	_ scheduler.Job = (*reliability.DailyMaintenanceJob)(nil)
	_ scheduler.Job = (*reliability.WeeklyVacuumJob)(nil)
	_ scheduler.Job = (*reliability.HistoryArchiveJob)(nil)
)
