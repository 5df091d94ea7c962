// Package reliability provides database maintenance and off-site archiving jobs.
package reliability

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aristath/alertmonitor/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

const (
	criticalFreeBytes = 100 << 20 // 100MB
	lowFreeBytes      = 1 << 30   // 1GB
	healthTimeout     = 30 * time.Second
)

// diskUsage is swapped in tests
var diskUsage = disk.Usage

// DailyMaintenanceJob checks alerts.db integrity, truncates the WAL and reports size and free disk space
type DailyMaintenanceJob struct {
	db  *database.DB
	log zerolog.Logger
}

// NewDailyMaintenanceJob creates a new daily maintenance job
func NewDailyMaintenanceJob(db *database.DB, log zerolog.Logger) *DailyMaintenanceJob {
	return &DailyMaintenanceJob{
		db:  db,
		log: log.With().Str("job", "daily_maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *DailyMaintenanceJob) Name() string {
	return "daily_maintenance"
}

// Run executes the daily maintenance job
func (j *DailyMaintenanceJob) Run() error {
	j.log.Info().Str("database", j.db.Name()).Msg("Starting daily maintenance")
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()

	if err := j.db.HealthCheck(ctx); err != nil {
		j.log.Error().Err(err).Str("database", j.db.Name()).Msg("Integrity check failed")
		return fmt.Errorf("daily maintenance aborted: %w", err)
	}

	if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
		// not critical, the next checkpoint catches up
		j.log.Warn().Err(err).Str("database", j.db.Name()).Msg("WAL checkpoint failed")
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	if stats, err := j.db.GetStats(); err != nil {
		j.log.Warn().Err(err).Msg("Failed to get database stats")
	} else {
		j.log.Info().
			Str("database", j.db.Name()).
			Float64("size_mb", float64(stats.SizeBytes)/1024/1024).
			Float64("wal_size_mb", float64(stats.WALSizeBytes)/1024/1024).
			Msg("Database metrics")
	}

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Daily maintenance completed successfully")
	return nil
}

// checkDiskSpace fails below the critical threshold and warns when space runs low
func (j *DailyMaintenanceJob) checkDiskSpace() error {
	usage, err := diskUsage(filepath.Dir(j.db.Path()))
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to read disk usage")
		return nil
	}

	freeMB := float64(usage.Free) / 1024 / 1024
	switch {
	case usage.Free < criticalFreeBytes:
		j.log.Error().Float64("free_mb", freeMB).Msg("Insufficient disk space")
		return fmt.Errorf("only %.0f MB free on %s", freeMB, usage.Path)
	case usage.Free < lowFreeBytes:
		j.log.Warn().Float64("free_mb", freeMB).Msg("Disk space running low")
	default:
		j.log.Debug().Float64("free_mb", freeMB).Msg("Disk space check")
	}
	return nil
}

// WeeklyVacuumJob reclaims pages freed by history trimming
type WeeklyVacuumJob struct {
	db  *database.DB
	log zerolog.Logger
}

// NewWeeklyVacuumJob creates a new weekly vacuum job
func NewWeeklyVacuumJob(db *database.DB, log zerolog.Logger) *WeeklyVacuumJob {
	return &WeeklyVacuumJob{
		db:  db,
		log: log.With().Str("job", "weekly_vacuum").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *WeeklyVacuumJob) Name() string {
	return "weekly_vacuum"
}

// Run executes VACUUM and logs how much space was reclaimed
func (j *WeeklyVacuumJob) Run() error {
	before, err := j.db.GetStats()
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	if _, err := j.db.Conn().Exec("VACUUM"); err != nil {
		return fmt.Errorf("VACUUM failed: %w", err)
	}

	after, err := j.db.GetStats()
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	sizeBefore := float64(before.PageCount*before.PageSize) / 1024 / 1024
	sizeAfter := float64(after.PageCount*after.PageSize) / 1024 / 1024
	j.log.Info().
		Str("database", j.db.Name()).
		Float64("size_before_mb", sizeBefore).
		Float64("size_after_mb", sizeAfter).
		Float64("space_reclaimed_mb", sizeBefore-sizeAfter).
		Msg("VACUUM completed")
	return nil
}
