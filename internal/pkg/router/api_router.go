package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/brandbridge/brandbridge/app/controllers"
	"github.com/brandbridge/brandbridge/app/models"
	"github.com/brandbridge/brandbridge/internal/pkg/apperror"
	"github.com/brandbridge/brandbridge/internal/pkg/middleware"
	"github.com/brandbridge/brandbridge/internal/pkg/usercontext"
)

// ApiRouter installs the bearer-authenticated, rate-limited routes.
type ApiRouter struct {
	deps          *Dependencies
	payments      *controllers.PaymentController
	users         *controllers.UserController
	notifications *controllers.NotificationController
	campaigns     *controllers.CampaignController
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	auth := middleware.RequireAuth(h.deps.Verifier, h.deps.Users)
	limit := h.rateLimiter()

	payments := app.Group("/payments", auth, limit)
	payments.Post("/create-payment-intent", h.payments.HandleCreatePaymentIntent)
	payments.Post("/confirm", h.payments.HandleConfirmPayment)

	user := app.Group("/user", auth, limit)
	user.Get("/tokens", h.users.HandleGetTokens)
	user.Get("/transactions", h.users.HandleGetTransactions)
	user.Get("/profile", h.users.HandleGetProfile)
	user.Post("/role", h.users.HandleSetRole)
	user.Get("/notifications", h.notifications.HandleList)
	user.Get("/notifications/stream", h.notifications.HandleStream)
	user.Post("/notifications/read-all", h.notifications.HandleMarkAllRead)
	user.Post("/notifications/:id/read", h.notifications.HandleMarkRead)

	campaigns := app.Group("/campaigns", auth, limit)
	campaigns.Post("/", middleware.RequireRole(models.ROLE_BUSINESS), h.campaigns.HandleCreate)
	campaigns.Get("/", h.campaigns.HandleList)
	campaigns.Get("/:id", h.campaigns.HandleGet)
}

func NewApiRouter(deps *Dependencies) *ApiRouter {
	return &ApiRouter{
		deps:          deps,
		payments:      controllers.NewPaymentController(deps.Billing),
		users:         controllers.NewUserController(deps.Ledger, deps.Profiles),
		notifications: controllers.NewNotificationController(deps.Notifications, deps.Subscriber),
		campaigns:     controllers.NewCampaignController(deps.Campaigns),
	}
}

// rateLimiter counts requests per authenticated user, falling back to
// the client address.
func (h ApiRouter) rateLimiter() fiber.Handler {
	maxRequests, window := 60, time.Minute
	if cfg := h.deps.Config; cfg != nil {
		if cfg.App.RateLimitMax > 0 {
			maxRequests = cfg.App.RateLimitMax
		}
		if cfg.App.RateLimitWindow > 0 {
			window = cfg.App.RateLimitWindow
		}
	}
	return limiter.New(limiter.Config{
		Max:        maxRequests,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			if id := usercontext.GetUserID(c); id != "" {
				return "user:" + id
			}
			return "ip:" + controllers.GetClientIP(c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			return apperror.Respond(c, apperror.New(apperror.KindRateLimited, "Too many requests, slow down"))
		},
		Storage: h.deps.LimiterStorage,
	})
}
