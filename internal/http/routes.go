package http

import (
	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes mounts the collector's public surface.
func RegisterRoutes(app *fiber.App, h *Handler) {
	app.Get("/o.png", h.PixelAction)
	app.Get("/o", h.PingAction)
	app.Post("/logs", h.LogsAction)
	app.Get("/keypair", h.KeypairAction)
	app.Get("/summaries", h.SummariesAction)
	app.Get("/health", h.HealthAction)
}
