package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/brandbridge/brandbridge/app/controllers"
	"github.com/brandbridge/brandbridge/internal/pkg/billing"
	"github.com/brandbridge/brandbridge/internal/pkg/campaigns"
	"github.com/brandbridge/brandbridge/internal/pkg/config"
	"github.com/brandbridge/brandbridge/internal/pkg/identity"
	"github.com/brandbridge/brandbridge/internal/pkg/ledger"
	"github.com/brandbridge/brandbridge/internal/pkg/middleware"
	"github.com/brandbridge/brandbridge/internal/pkg/notify"
	"github.com/brandbridge/brandbridge/internal/pkg/profile"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the clients and services built once in main.
type Dependencies struct {
	Config        *config.Config
	Verifier      identity.Verifier
	Users         middleware.UserStore
	Ledger        *ledger.Service
	Profiles      *profile.Resolver
	Billing       *billing.Service
	Notifications *notify.Service
	Campaigns     *campaigns.Service
	// Subscriber feeds the notification stream; nil disables it.
	Subscriber controllers.NotificationSubscriber
	// Jobs backs /admin/jobs; nil reports the queue as unavailable.
	Jobs controllers.JobInspector
	// LimiterStorage backs the rate limiter; nil keeps counters in memory.
	LimiterStorage fiber.Storage
}

func InstallRouter(app *fiber.App, deps *Dependencies) {
	// Public and admin routes first so the authenticated groups never
	// shadow /payments/packages.
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
