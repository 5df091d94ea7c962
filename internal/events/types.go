// Package events provides event management functionality.
package events

// EventType represents different event types
type EventType string

const (
	// PortfolioAlerts carries one batch of alerts for a single portfolio.
	// The wire name is lower case because subscribers match on it directly.
	PortfolioAlerts EventType = "portfolio_alerts"

	// Monitor lifecycle
	MonitoringStarted    EventType = "MONITORING_STARTED"
	MonitoringStopped    EventType = "MONITORING_STOPPED"
	PortfolioCheckFailed EventType = "PORTFOLIO_CHECK_FAILED"
	PreferencesChanged   EventType = "PREFERENCES_CHANGED"

	ErrorOccurred EventType = "ERROR_OCCURRED"
)

// ModuleAlerts is the source module of every event the monitor emits
const ModuleAlerts = "alerts"
