// Package handlers provides HTTP handlers for the alert monitor control API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/alertmonitor/internal/modules/alerts"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const (
	maxHistoryLimit = 1000
	// upper bound for intervalSeconds; larger values overflow time.Duration
	maxInterval = 24 * time.Hour
)

// Handler handles alert HTTP requests
type Handler struct {
	monitor *alerts.Monitor
	log     zerolog.Logger
}

// NewHandler creates a new alerts handler
func NewHandler(monitor *alerts.Monitor, log zerolog.Logger) *Handler {
	return &Handler{
		monitor: monitor,
		log:     log.With().Str("handler", "alerts").Logger(),
	}
}

// HandleGetHistory handles GET /api/alerts/history?portfolioId=&limit=
func (h *Handler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	portfolioID := r.URL.Query().Get("portfolioId")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	history := h.monitor.GetAlertHistory(portfolioID, limit)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": history,
		"count":  len(history),
	})
}

// HandleGetStats handles GET /api/alerts/stats
func (h *Handler) HandleGetStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.monitor.GetAlertStats())
}

type startRequest struct {
	IntervalSeconds float64 `json:"intervalSeconds"`
}

// HandleStartMonitoring handles POST /api/alerts/monitoring/start.
// The body is optional; {"intervalSeconds": n} overrides the configured interval.
func (h *Handler) HandleStartMonitoring(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	if req.IntervalSeconds < 0 {
		h.writeError(w, http.StatusBadRequest, "intervalSeconds must be positive")
		return
	}
	if req.IntervalSeconds > maxInterval.Seconds() {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("intervalSeconds must not exceed %.0f", maxInterval.Seconds()))
		return
	}

	interval := time.Duration(req.IntervalSeconds * float64(time.Second))
	if err := h.monitor.Start(interval); err != nil {
		h.log.Error().Err(err).Msg("Failed to start monitoring")
		h.writeError(w, http.StatusInternalServerError, "Failed to start monitoring")
		return
	}

	h.writeJSON(w, http.StatusOK, h.monitoringStatus())
}

// HandleStopMonitoring handles POST /api/alerts/monitoring/stop
func (h *Handler) HandleStopMonitoring(w http.ResponseWriter, r *http.Request) {
	h.monitor.Stop()
	h.writeJSON(w, http.StatusOK, h.monitoringStatus())
}

func (h *Handler) monitoringStatus() map[string]interface{} {
	return map[string]interface{}{
		"running":         h.monitor.IsRunning(),
		"intervalSeconds": h.monitor.Interval().Seconds(),
	}
}

// HandleGetPreferences handles GET /api/alerts/preferences/{portfolioId}
func (h *Handler) HandleGetPreferences(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "portfolioId")
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"portfolioId": portfolioID,
		"thresholds":  h.monitor.GetPreferences(portfolioID),
	})
}

// HandleSetPreferences handles PUT /api/alerts/preferences/{portfolioId}
func (h *Handler) HandleSetPreferences(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "portfolioId")

	var patch alerts.ThresholdsPatch
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid preferences payload: "+err.Error())
		return
	}

	th, err := h.monitor.SetPreferences(portfolioID, &patch)
	if err != nil {
		h.writeMonitorError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"portfolioId": portfolioID,
		"thresholds":  th,
	})
}

// HandleClearPreferences handles DELETE /api/alerts/preferences/{portfolioId}
func (h *Handler) HandleClearPreferences(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "portfolioId")
	cleared := h.monitor.ClearPreferences(portfolioID)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"portfolioId": portfolioID,
		"cleared":     cleared,
		"thresholds":  h.monitor.GetPreferences(portfolioID),
	})
}

// HandleTriggerCheck handles POST /api/alerts/check/{portfolioId}
func (h *Handler) HandleTriggerCheck(w http.ResponseWriter, r *http.Request) {
	result, err := h.monitor.TriggerCheck(r.Context(), chi.URLParam(r, "portfolioId"))
	if err != nil {
		h.writeMonitorError(w, err)
		return
	}

	status := http.StatusOK
	switch result.Status {
	case alerts.CheckConflict:
		status = http.StatusConflict
	case alerts.CheckFailed:
		status = http.StatusBadGateway
	}
	h.writeJSON(w, status, result)
}

// HandleSendTestAlert handles POST /api/alerts/test/{portfolioId}
func (h *Handler) HandleSendTestAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := h.monitor.SendTestAlert(chi.URLParam(r, "portfolioId"))
	if err != nil {
		h.writeMonitorError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, alert)
}

// HandleMarkRead handles POST /api/alerts/{alertId}/read
func (h *Handler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	alert, err := h.monitor.MarkRead(chi.URLParam(r, "alertId"))
	if err != nil {
		h.writeMonitorError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, alert)
}

// HandleAcknowledge handles POST /api/alerts/{alertId}/acknowledge
func (h *Handler) HandleAcknowledge(w http.ResponseWriter, r *http.Request) {
	alert, err := h.monitor.Acknowledge(chi.URLParam(r, "alertId"))
	if err != nil {
		h.writeMonitorError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, alert)
}

// HandleListPortfolios handles GET /api/alerts/portfolios
func (h *Handler) HandleListPortfolios(w http.ResponseWriter, r *http.Request) {
	ids := h.monitor.Portfolios()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"portfolios": ids,
		"count":      len(ids),
	})
}

// HandleWatchPortfolio handles POST /api/alerts/portfolios/{portfolioId}
func (h *Handler) HandleWatchPortfolio(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "portfolioId")
	if err := h.monitor.Watch(portfolioID); err != nil {
		h.writeMonitorError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"portfolioId": portfolioID,
		"watched":     true,
	})
}

// HandleUnwatchPortfolio handles DELETE /api/alerts/portfolios/{portfolioId}
func (h *Handler) HandleUnwatchPortfolio(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "portfolioId")
	removed, err := h.monitor.Unwatch(portfolioID)
	if err != nil {
		h.writeMonitorError(w, err)
		return
	}
	if !removed {
		h.writeError(w, http.StatusNotFound, "Portfolio is not watched")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"portfolioId": portfolioID,
		"watched":     false,
	})
}

// writeMonitorError maps monitor sentinel errors to HTTP status codes
func (h *Handler) writeMonitorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, alerts.ErrInvalidPreferences), errors.Is(err, alerts.ErrInvalidPortfolio):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, alerts.ErrAlertNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, alerts.ErrCheckInFlight):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error().Err(err).Msg("Alert request failed")
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
