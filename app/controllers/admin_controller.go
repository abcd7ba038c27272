package controllers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/brandbridge/brandbridge/app/models"
	"github.com/brandbridge/brandbridge/internal/pkg/apperror"
	"github.com/brandbridge/brandbridge/internal/pkg/billing"
	"github.com/brandbridge/brandbridge/internal/pkg/jobqueue"
	"github.com/brandbridge/brandbridge/internal/pkg/ledger"
	"github.com/brandbridge/brandbridge/internal/pkg/notify"
)

// JobInspector exposes background queue counters.
type JobInspector interface {
	Depth(ctx context.Context) (*jobqueue.Depth, error)
	Stats(ctx context.Context) (map[string]int64, error)
}

// AdminController handles operator requests behind basic auth
type AdminController struct {
	ledger        *ledger.Service
	billing       *billing.Service
	notifications *notify.Service
	jobs          JobInspector
}

// NewAdminController creates a new admin controller with its service
// dependencies. jobs may be nil when no queue runs in this process.
func NewAdminController(l *ledger.Service, b *billing.Service, n *notify.Service, jobs JobInspector) *AdminController {
	return &AdminController{ledger: l, billing: b, notifications: n, jobs: jobs}
}

type adjustRequest struct {
	UserID      string `json:"userId" validate:"required"`
	Amount      int64  `json:"amount" validate:"required"`
	Description string `json:"description" validate:"required,max=255"`
}

// HandleAdjust applies a signed balance correction and tells the user.
func (ac *AdminController) HandleAdjust(c *fiber.Ctx) error {
	var req adjustRequest
	if err := bindJSON(c, &req); err != nil {
		return apperror.Respond(c, err)
	}

	tx, err := ac.ledger.Adjust(c.UserContext(), strings.TrimSpace(req.UserID), req.Amount, req.Description)
	if err != nil {
		return apperror.Respond(c, err)
	}
	log.Infof("[HTTP] Admin adjusted %s by %d from %s", tx.UserID, tx.Amount, GetClientIP(c))

	ac.notifications.Notify(c.UserContext(), tx.UserID, "Balance adjusted", req.Description, models.NotificationTypeAdjustment, "")

	balance, err := ac.ledger.GetBalance(c.UserContext(), tx.UserID)
	if err != nil {
		return apperror.Respond(c, err)
	}
	return c.JSON(fiber.Map{"transaction": tx, "balance": balance})
}

// HandleReconcile recomputes one user's cached balance from the ledger.
func (ac *AdminController) HandleReconcile(c *fiber.Ctx) error {
	res, err := ac.ledger.Reconcile(c.UserContext(), c.Params("userId"))
	if err != nil {
		return apperror.Respond(c, err)
	}
	return c.JSON(res)
}

// HandleListWebhooks returns recent processor deliveries, optionally for
// one checkout session (?sessionId=) or only failed ones (?failed=true).
func (ac *AdminController) HandleListWebhooks(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	filter := billing.WebhookFilter{
		SessionID:  c.Query("sessionId"),
		FailedOnly: c.QueryBool("failed"),
	}
	page, err := ac.billing.ListWebhookEvents(c.UserContext(), filter, limit, offset)
	if err != nil {
		return apperror.Respond(c, err)
	}
	return c.JSON(page)
}

// HandleJobStats reports queue depth and lifetime counters.
func (ac *AdminController) HandleJobStats(c *fiber.Ctx) error {
	if ac.jobs == nil {
		return apperror.Respond(c, apperror.Upstream("job queue is not running", nil))
	}
	ctx := c.UserContext()
	depth, err := ac.jobs.Depth(ctx)
	if err != nil {
		return apperror.Respond(c, apperror.Upstream("failed to read job queue", err))
	}
	stats, err := ac.jobs.Stats(ctx)
	if err != nil {
		return apperror.Respond(c, apperror.Upstream("failed to read job queue", err))
	}
	return c.JSON(fiber.Map{"depth": depth, "stats": stats})
}
