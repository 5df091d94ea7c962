package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/aristath/alertmonitor/internal/database"
	"github.com/aristath/alertmonitor/internal/modules/alerts"
	"github.com/aristath/alertmonitor/internal/realtime"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// swapped in tests
var (
	cpuPercent    = cpu.Percent
	virtualMemory = mem.VirtualMemory
)

// SystemStatusResponse is returned by GET /api/system/status
type SystemStatusResponse struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	CPUPercent      float64 `json:"cpu_percent"`
	RAMPercent      float64 `json:"ram_percent"`
	Goroutines      int     `json:"goroutines"`
	MonitorRunning  bool    `json:"monitor_running"`
	IntervalSeconds float64 `json:"interval_seconds"`
	Portfolios      int     `json:"portfolios"`
	FailingChecks   int     `json:"failing_checks"`
	HistorySize     int     `json:"history_size"`
	StreamClients   int     `json:"stream_clients"`
	Persistence     bool    `json:"persistence"`
}

// DatabaseStatsResponse is returned by GET /api/system/database
type DatabaseStatsResponse struct {
	Enabled     bool            `json:"enabled"`
	Name        string          `json:"name,omitempty"`
	Path        string          `json:"path,omitempty"`
	Stats       *database.Stats `json:"stats,omitempty"`
	LastChecked string          `json:"last_checked"`
}

// SystemHandlers handles system monitoring endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	startupTime time.Time
	monitor     *alerts.Monitor
	hub         *realtime.Hub
	alertsDB    *database.DB
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(log zerolog.Logger, monitor *alerts.Monitor, hub *realtime.Hub, alertsDB *database.DB) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		startupTime: time.Now(),
		monitor:     monitor,
		hub:         hub,
		alertsDB:    alertsDB,
	}
}

// GetSystemStatusSnapshot collects the current process and monitor status
func (h *SystemHandlers) GetSystemStatusSnapshot() SystemStatusResponse {
	uptime := time.Since(h.startupTime)
	cpuAvg, ramPercent := h.getSystemStats()

	response := SystemStatusResponse{
		Status:        "healthy",
		Uptime:        uptime.Truncate(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		CPUPercent:    cpuAvg,
		RAMPercent:    ramPercent,
		Goroutines:    runtime.NumGoroutine(),
		Persistence:   h.alertsDB != nil,
	}

	if h.monitor != nil {
		stats := h.monitor.GetAlertStats()
		response.MonitorRunning = stats.IsRunning
		response.IntervalSeconds = stats.IntervalSeconds
		response.Portfolios = stats.PortfolioCount
		response.HistorySize = stats.HistorySize
		for _, check := range stats.Checks {
			if check.ConsecutiveFailures > 0 {
				response.FailingChecks++
			}
		}
		if response.FailingChecks > 0 {
			response.Status = "degraded"
		}
	}
	if h.hub != nil {
		response.StreamClients = h.hub.ClientCount()
	}

	return response
}

// HandleSystemStatus returns comprehensive system status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")
	h.writeJSON(w, h.GetSystemStatusSnapshot())
}

// HandleDatabaseStats returns alerts.db statistics
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	response := DatabaseStatsResponse{
		LastChecked: time.Now().Format(time.RFC3339),
	}

	if h.alertsDB != nil {
		stats, err := h.alertsDB.GetStats()
		if err != nil {
			h.log.Error().Err(err).Msg("Failed to get database stats")
			http.Error(w, "Failed to get database stats", http.StatusInternalServerError)
			return
		}
		response.Enabled = true
		response.Name = h.alertsDB.Name()
		response.Path = h.alertsDB.Path()
		response.Stats = stats
	}

	h.writeJSON(w, response)
}

// getSystemStats returns CPU and RAM usage percentages.
// CPU is sampled over 100ms so the endpoint stays responsive.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	percent, err := cpuPercent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		percent = []float64{0}
	}

	memStat, err := virtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(percent) > 0 {
		cpuAvg = percent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// writeJSON writes a JSON response
func (h *SystemHandlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
