package router

import (
	"context"
	"os"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/brandbridge/brandbridge/app/controllers"
	"github.com/brandbridge/brandbridge/internal/pkg/metrics"
)

// HttpRouter installs the unauthenticated surface and the admin area.
type HttpRouter struct {
	deps     *Dependencies
	payments *controllers.PaymentController
	billing  *controllers.BillingController
	admin    *controllers.AdminController
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Use(metrics.Middleware())

	h.registerDocs(app)
	h.registerPublicRoutes(app)
	h.registerAdminRoutes(app)
}

func NewHttpRouter(deps *Dependencies) *HttpRouter {
	return &HttpRouter{
		deps:     deps,
		payments: controllers.NewPaymentController(deps.Billing),
		billing:  controllers.NewBillingController(deps.Billing),
		admin:    controllers.NewAdminController(deps.Ledger, deps.Billing, deps.Notifications, deps.Jobs),
	}
}

// SWAGGER / OPENAPI
func (h HttpRouter) registerDocs(app *fiber.App) {
	if h.deps.Config == nil || h.deps.Config.App.DocsFile == "" {
		return
	}
	file := h.deps.Config.App.DocsFile
	if _, err := os.Stat(file); err != nil {
		log.Warnf("[HTTP] OpenAPI document %s not found, docs disabled", file)
		return
	}
	if _, err := LoadAPIDocument(context.Background(), file); err != nil {
		log.Errorf("[HTTP] Invalid OpenAPI document, docs disabled: %v", err)
		return
	}
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: file,
		Path:     "v1",
	}))
}
