// Package alerts provides the portfolio alert monitor: snapshot diffing, rule evaluation,
// deduplication, bounded history and delivery of alert batches to subscribers.
package alerts

import (
	"errors"
	"time"
)

var (
	// ErrAlertNotFound is returned when an alert id is not in history
	ErrAlertNotFound = errors.New("alert not found")
	// ErrInvalidPreferences is returned when a threshold payload fails validation
	ErrInvalidPreferences = errors.New("invalid alert preferences")
	// ErrCheckInFlight is returned when a portfolio cannot be changed while it is being checked
	ErrCheckInFlight = errors.New("portfolio check in flight")
)

// AlertType identifies the rule that produced an alert
type AlertType string

const (
	AlertPortfolioDailyGain     AlertType = "portfolio_daily_gain"
	AlertPortfolioDailyLoss     AlertType = "portfolio_daily_loss"
	AlertPortfolioMilestone     AlertType = "portfolio_milestone"
	AlertPortfolioValueSwing    AlertType = "portfolio_value_swing"
	AlertHoldingPriceChange     AlertType = "holding_price_change"
	AlertHoldingPortfolioImpact AlertType = "holding_portfolio_impact"
	AlertConcentrationRisk      AlertType = "concentration_risk"
	AlertAIRegimeChange         AlertType = "ai_regime_change"
	AlertAIHighConfidence       AlertType = "ai_high_confidence_prediction"
	AlertAISentimentShift       AlertType = "ai_sentiment_shift"
	AlertAIRebalancing          AlertType = "ai_rebalancing_recommendation"
	AlertTest                   AlertType = "test_alert"
)

// Severity of an alert
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Alert is one generated notification.
// Everything except Read and Acknowledged is fixed at creation.
type Alert struct {
	Timestamp    time.Time              `json:"timestamp"`
	Data         map[string]interface{} `json:"data,omitempty"`
	ID           string                 `json:"id"`
	Type         AlertType              `json:"type"`
	Severity     Severity               `json:"severity"`
	PortfolioID  string                 `json:"portfolioId"`
	Symbol       string                 `json:"symbol,omitempty"`
	Title        string                 `json:"title"`
	Message      string                 `json:"message"`
	Read         bool                   `json:"read"`
	Acknowledged bool                   `json:"acknowledged"`
}

// BatchMessage is what subscribers receive for each batch of alerts
type BatchMessage struct {
	Timestamp   time.Time `json:"timestamp"`
	Type        string    `json:"type"`
	PortfolioID string    `json:"portfolioId"`
	Alerts      []Alert   `json:"alerts"`
}

// CheckOutcome is the result category of one portfolio check
type CheckOutcome string

const (
	// CheckOK means the snapshot was fetched and rules were evaluated
	CheckOK CheckOutcome = "ok"
	// CheckBaseline means this was the first snapshot; it was stored without evaluating rules
	CheckBaseline CheckOutcome = "baseline"
	// CheckConflict means a check for the same portfolio was already in flight
	CheckConflict CheckOutcome = "conflict"
	// CheckFailed means the provider call failed or returned unusable data
	CheckFailed CheckOutcome = "failed"
	// CheckSkipped means the portfolio was unwatched before its scheduled check ran
	CheckSkipped CheckOutcome = "skipped"
)

// CheckResult is returned by TriggerCheck
type CheckResult struct {
	PortfolioID string       `json:"portfolioId"`
	Status      CheckOutcome `json:"status"`
	Error       string       `json:"error,omitempty"`
	Alerts      []Alert      `json:"alerts"`
	AlertCount  int          `json:"alertCount"`
}

// PortfolioCheckStatus tracks the health of checks for one portfolio
type PortfolioCheckStatus struct {
	LastAttempt         time.Time    `json:"lastAttempt"`
	LastSuccess         *time.Time   `json:"lastSuccess,omitempty"`
	LastSuccessAgeSecs  *float64     `json:"lastSuccessAgeSeconds,omitempty"`
	LastError           string       `json:"lastError,omitempty"`
	LastOutcome         CheckOutcome `json:"lastOutcome"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
}

// Stats summarizes recent alert activity and monitor state
type Stats struct {
	ByType          map[AlertType]int               `json:"byType"`
	BySeverity      map[Severity]int                `json:"bySeverity"`
	Checks          map[string]PortfolioCheckStatus `json:"checks"`
	Total           int                             `json:"total"`
	Unread          int                             `json:"unread"`
	Unacknowledged  int                             `json:"unacknowledged"`
	HistorySize     int                             `json:"historySize"`
	PortfolioCount  int                             `json:"portfolioCount"`
	IntervalSeconds float64                         `json:"intervalSeconds"`
	IsRunning       bool                            `json:"isRunning"`
}
