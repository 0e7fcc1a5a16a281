package api

import (
	"lsr-dashboard-backend/internal/coordinator"
	"lsr-dashboard-backend/internal/store"

	"github.com/SherClockHolmes/webpush-go"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store   store.Store
	coord   *coordinator.Coordinator
	webpush *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, coord *coordinator.Coordinator, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		store:   s,
		coord:   coord,
		webpush: webpushOptions,
	}
}
