// Package di provides dependency injection type definitions.
package di

import (
	"github.com/aristath/alertmonitor/internal/clients/portfolioapi"
	"github.com/aristath/alertmonitor/internal/database"
	"github.com/aristath/alertmonitor/internal/events"
	"github.com/aristath/alertmonitor/internal/modules/alerts"
	"github.com/aristath/alertmonitor/internal/realtime"
	"github.com/aristath/alertmonitor/internal/reliability"
	"github.com/aristath/alertmonitor/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
)

// Container holds all dependencies for the application.
// It is created by Wire() and handed to the server and main.
type Container struct {
	// Databases (nil when persistence is disabled)
	AlertsDB *database.DB

	// Repositories (nil when persistence is disabled)
	AlertRepo *alerts.SQLiteRepository

	// Clients
	PortfolioClient *portfolioapi.Client
	ObjectStore     *reliability.ObjectStore // nil when archiving is disabled

	// Events
	EventBus     *events.Bus
	EventManager *events.Manager
	Hub          *realtime.Hub

	// Monitoring
	Registry  *prometheus.Registry
	Metrics   *alerts.Metrics
	Scheduler *scheduler.Scheduler

	// Alert stores and services
	Snapshots   *alerts.SnapshotStore
	Preferences *alerts.PreferenceStore
	Dedup       *alerts.DedupCache
	History     *alerts.HistoryStore
	Sink        *alerts.Sink
	Monitor     *alerts.Monitor
}

// JobInstances holds the background jobs registered on the scheduler.
// Optional jobs are nil when their feature is disabled.
type JobInstances struct {
	DedupCleanup     scheduler.Job
	DailyMaintenance scheduler.Job
	WeeklyVacuum     scheduler.Job
	HistoryArchive   scheduler.Job
}
