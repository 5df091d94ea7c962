package events

import (
	"encoding/json"
	"time"
)

// EventData is the interface that all typed event payloads implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// MonitoringStatusData contains data for MonitoringStarted and MonitoringStopped events
type MonitoringStatusData struct {
	Running         bool    `json:"running"`
	IntervalSeconds float64 `json:"interval_seconds,omitempty"`
}

// EventType returns the event type for MonitoringStatusData
func (d *MonitoringStatusData) EventType() EventType {
	if d.Running {
		return MonitoringStarted
	}
	return MonitoringStopped
}

// PortfolioCheckFailedData contains data for PortfolioCheckFailed events
type PortfolioCheckFailedData struct {
	PortfolioID         string `json:"portfolio_id"`
	Error               string `json:"error"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// EventType returns the event type for PortfolioCheckFailedData
func (d *PortfolioCheckFailedData) EventType() EventType {
	return PortfolioCheckFailed
}

// PreferencesChangedData contains data for PreferencesChanged events
type PreferencesChangedData struct {
	PortfolioID string `json:"portfolio_id"`
	Cleared     bool   `json:"cleared"`
}

// EventType returns the event type for PreferencesChangedData
func (d *PreferencesChangedData) EventType() EventType {
	return PreferencesChanged
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Context map[string]interface{} `json:"context,omitempty"`
	Error   string                 `json:"error"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}

// EventWithData represents an event with typed data, as sent to stream subscribers
type EventWithData struct {
	Timestamp time.Time `json:"timestamp"`
	Data      EventData `json:"data"`
	Type      EventType `json:"type"`
	Module    string    `json:"module"`
}

// UnmarshalJSON decodes the data field into the typed payload matching Type
func (e *EventWithData) UnmarshalJSON(data []byte) error {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	if len(aux.Data) == 0 || string(aux.Data) == "null" {
		e.Data = nil
		return nil
	}

	var eventData EventData
	switch aux.Type {
	case MonitoringStarted, MonitoringStopped:
		eventData = &MonitoringStatusData{}
	case PortfolioCheckFailed:
		eventData = &PortfolioCheckFailedData{}
	case PreferencesChanged:
		eventData = &PreferencesChangedData{}
	case ErrorOccurred:
		eventData = &ErrorEventData{}
	default:
		e.Data = nil
		return nil
	}

	if err := json.Unmarshal(aux.Data, eventData); err != nil {
		return err
	}
	e.Data = eventData
	return nil
}
