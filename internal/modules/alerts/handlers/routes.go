package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all alert routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/alerts", func(r chi.Router) {
		r.Get("/history", h.HandleGetHistory)
		r.Get("/stats", h.HandleGetStats)

		r.Route("/monitoring", func(r chi.Router) {
			r.Post("/start", h.HandleStartMonitoring)
			r.Post("/stop", h.HandleStopMonitoring)
		})

		r.Route("/preferences/{portfolioId}", func(r chi.Router) {
			r.Get("/", h.HandleGetPreferences)
			r.Put("/", h.HandleSetPreferences)
			r.Delete("/", h.HandleClearPreferences)
		})

		r.Post("/check/{portfolioId}", h.HandleTriggerCheck)
		r.Post("/test/{portfolioId}", h.HandleSendTestAlert)

		r.Route("/portfolios", func(r chi.Router) {
			r.Get("/", h.HandleListPortfolios)
			r.Post("/{portfolioId}", h.HandleWatchPortfolio)
			r.Delete("/{portfolioId}", h.HandleUnwatchPortfolio)
		})

		r.Post("/{alertId}/read", h.HandleMarkRead)
		r.Post("/{alertId}/acknowledge", h.HandleAcknowledge)
	})
}
