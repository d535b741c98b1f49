package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"air-quality-backend/config"
	"air-quality-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	cfg     *config.Config
	store   store.Store
	webpush *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(cfg *config.Config, s store.Store, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		cfg:     cfg,
		store:   s,
		webpush: webpushOptions,
	}
}
