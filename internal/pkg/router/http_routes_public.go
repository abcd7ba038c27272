package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/brandbridge/brandbridge/internal/pkg/metrics"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", metrics.Handler())

	app.Get("/payments/packages", h.payments.HandleListPackages)

	// Signature-verified, so no bearer credential and no rate limit.
	app.Post("/webhooks/stripe", h.billing.HandleStripeWebhook)
}
