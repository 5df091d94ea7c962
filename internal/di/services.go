// Package di provides dependency injection for service implementations.
package di

import (
	"context"
	"fmt"

	"github.com/aristath/alertmonitor/internal/clients/portfolioapi"
	"github.com/aristath/alertmonitor/internal/config"
	"github.com/aristath/alertmonitor/internal/events"
	"github.com/aristath/alertmonitor/internal/modules/alerts"
	"github.com/aristath/alertmonitor/internal/realtime"
	"github.com/aristath/alertmonitor/internal/reliability"
	"github.com/aristath/alertmonitor/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

// InitializeServices creates clients, the event plumbing, the alert stores and the monitor
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	// Events: bus, typed manager, WebSocket hub
	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)
	container.Hub = realtime.NewHub(container.EventBus, log)

	// Metrics registry with process and Go runtime collectors
	container.Registry = prometheus.NewRegistry()
	container.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	container.Metrics = alerts.NewMetrics(container.Registry)

	container.Scheduler = scheduler.New(log)

	container.PortfolioClient = portfolioapi.NewClient(portfolioapi.Options{
		BaseURL:    cfg.Provider.BaseURL,
		Timeout:    cfg.Provider.Timeout,
		RatePerSec: cfg.Provider.RatePerSec,
		Burst:      cfg.Provider.Burst,
	}, log)

	if cfg.Archive.Enabled() {
		store, err := reliability.NewObjectStore(context.Background(), cfg.Archive)
		if err != nil {
			return fmt.Errorf("failed to create archive store: %w", err)
		}
		container.ObjectStore = store
	}

	// Stores; the repository interfaces stay nil when persistence is disabled
	var (
		snapshotRepo alerts.SnapshotRepository
		alertRepo    alerts.AlertRepository
	)
	if container.AlertRepo != nil {
		snapshotRepo = container.AlertRepo
		alertRepo = container.AlertRepo
	}

	container.Snapshots = alerts.NewSnapshotStore(snapshotRepo, log)
	container.Preferences = alerts.NewPreferenceStore()
	container.Dedup = alerts.NewDedupCache(cfg.Monitor.DedupTTL)
	container.History = alerts.NewHistoryStore(cfg.Monitor.HistoryCapacity)
	container.Sink = alerts.NewSink(
		container.History,
		alerts.NewBusPublisher(container.EventBus),
		alertRepo,
		container.Metrics,
		log,
	)

	container.Monitor = alerts.NewMonitor(alerts.Config{
		DefaultPortfolios: cfg.Monitor.DefaultPortfolios,
		Interval:          cfg.Monitor.Interval,
		CheckTimeout:      cfg.Monitor.CheckTimeout,
		Workers:           cfg.Monitor.Workers,
	}, alerts.Deps{
		Provider:  container.PortfolioClient,
		Scheduler: container.Scheduler,
		Snapshots: container.Snapshots,
		Prefs:     container.Preferences,
		Dedup:     container.Dedup,
		History:   container.History,
		Sink:      container.Sink,
		AlertRepo: alertRepo,
		Events:    container.EventManager,
		Metrics:   container.Metrics,
	}, log)

	log.Info().Msg("Services initialized")
	return nil
}
