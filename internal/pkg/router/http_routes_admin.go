package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"github.com/brandbridge/brandbridge/internal/pkg/apperror"
)

func (h HttpRouter) registerAdminRoutes(app *fiber.App) {
	adminGroup := app.Group("/admin", h.adminAuth())
	adminGroup.Get("/monitor", monitor.New(monitor.Config{Title: "BrandBridge Monitor"}))

	// Ledger maintenance
	adminGroup.Post("/ledger/adjust", h.admin.HandleAdjust)
	adminGroup.Post("/ledger/reconcile/:userId", h.admin.HandleReconcile)

	// Processor deliveries
	adminGroup.Get("/webhooks", h.admin.HandleListWebhooks)
	adminGroup.Get("/jobs", h.admin.HandleJobStats)
}

// adminAuth guards the admin area with basic auth. Without configured
// credentials the area is closed.
func (h HttpRouter) adminAuth() fiber.Handler {
	cfg := h.deps.Config
	if cfg == nil || cfg.App.AdminUser == "" || cfg.App.AdminPassword == "" {
		return func(c *fiber.Ctx) error {
			return apperror.Respond(c, apperror.Forbidden("Admin access is not configured"))
		}
	}
	return basicauth.New(basicauth.Config{
		Users: map[string]string{
			cfg.App.AdminUser: cfg.App.AdminPassword,
		},
		Realm: "BrandBridge Admin",
		Unauthorized: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderWWWAuthenticate, `Basic realm="BrandBridge Admin"`)
			return apperror.Respond(c, apperror.Unauthenticated("Admin credentials required"))
		},
	})
}
